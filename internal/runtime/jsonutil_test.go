package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToJSONString_PassesRawStringsThrough(t *testing.T) {
	s, err := toJSONString(`{"already":"json"}`)
	require.NoError(t, err)
	require.Equal(t, `{"already":"json"}`, s)
}

func TestToJSONString_MarshalsNonStringValues(t *testing.T) {
	s, err := toJSONString(map[string]any{"a": 1})
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, s)
}

func TestToJSONString_MarshalErrorPropagates(t *testing.T) {
	_, err := toJSONString(make(chan int))
	require.Error(t, err)
}
