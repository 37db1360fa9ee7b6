package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKeyValues(t *testing.T) {
	out, err := parseKeyValues([]string{"env=staging", "region=us-east-1"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"env": "staging", "region": "us-east-1"}, out)
}

func TestParseKeyValues_Empty(t *testing.T) {
	out, err := parseKeyValues(nil)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestParseKeyValues_Malformed(t *testing.T) {
	_, err := parseKeyValues([]string{"no-equals-sign"})
	require.Error(t, err)
}

func TestParseKeyValues_ValueContainsEquals(t *testing.T) {
	out, err := parseKeyValues([]string{"token=a=b=c"})
	require.NoError(t, err)
	require.Equal(t, "a=b=c", out["token"])
}
