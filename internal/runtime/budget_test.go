package runtime

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/glubean/glubean/internal/glerr"
)

func TestNetworkBudget_CheckContentLength(t *testing.T) {
	b := NewNetworkBudget(100, nil)

	require.NoError(t, b.CheckContentLength(50))
	require.NoError(t, b.CheckContentLength(50))

	err := b.CheckContentLength(1)
	var exceeded *BudgetExceededError
	require.ErrorAs(t, err, &exceeded)
}

func TestNetworkBudget_UnlimitedWhenZero(t *testing.T) {
	b := NewNetworkBudget(0, nil)
	require.NoError(t, b.CheckContentLength(1<<40))
}

func TestNetworkBudget_UnknownLengthWarnsButAllows(t *testing.T) {
	var warned string
	b := NewNetworkBudget(100, func(msg string) { warned = msg })
	require.NoError(t, b.CheckContentLength(-1))
	require.Contains(t, warned, "no declared content-length")
}

func TestNetworkBudget_Wrap_AbortsStreamOnOverrun(t *testing.T) {
	b := NewNetworkBudget(5, nil)
	body := io.NopCloser(strings.NewReader("0123456789"))
	wrapped := b.Wrap(body)

	_, err := io.ReadAll(wrapped)
	var exceeded *BudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, int64(5), exceeded.Limit)
}

func TestNetworkBudget_Wrap_PassesThroughWhenUnlimited(t *testing.T) {
	b := NewNetworkBudget(0, nil)
	body := io.NopCloser(strings.NewReader("hello"))
	wrapped := b.Wrap(body)

	data, err := io.ReadAll(wrapped)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestAsGlerr_WrapsBudgetExceeded(t *testing.T) {
	be := &BudgetExceededError{Limit: 10, Read: 20}
	wrapped := AsGlerr(be)

	var glErr *glerr.Error
	require.ErrorAs(t, wrapped, &glErr)
	require.Equal(t, glerr.CodeFail, glErr.Code)
}

func TestAsGlerr_PassesThroughOtherErrors(t *testing.T) {
	plain := io.ErrUnexpectedEOF
	require.Equal(t, plain, AsGlerr(plain))
}
