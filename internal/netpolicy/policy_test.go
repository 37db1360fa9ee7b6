package netpolicy

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyHostname(t *testing.T) {
	require.Equal(t, ReasonBlockedHostname, ClassifyHostname("localhost"))
	require.Equal(t, ReasonBlockedHostname, ClassifyHostname("  Metadata.Google.Internal. "))
	require.Equal(t, ReasonNone, ClassifyHostname("api.example.com"))
}

func TestClassifyIP(t *testing.T) {
	cases := []struct {
		addr string
		want Reason
	}{
		{"127.0.0.1", ReasonLoopbackIP},
		{"::1", ReasonLoopbackIP},
		{"10.0.0.5", ReasonPrivateIP},
		{"192.168.1.1", ReasonPrivateIP},
		{"169.254.1.1", ReasonLinkLocalIP},
		{"169.254.169.254", ReasonMetadataIP},
		{"8.8.8.8", ReasonNone},
		{"::ffff:169.254.169.254", ReasonMetadataIP},
	}
	for _, c := range cases {
		t.Run(c.addr, func(t *testing.T) {
			addr := netip.MustParseAddr(c.addr)
			require.Equal(t, c.want, ClassifyIP(addr))
		})
	}
}

func TestClassifyIP_InvalidIsNone(t *testing.T) {
	var addr netip.Addr
	require.Equal(t, ReasonNone, ClassifyIP(addr))
}

func TestClassifyAddress(t *testing.T) {
	require.Equal(t, ReasonLoopbackIP, ClassifyAddress("127.0.0.1"))
	require.Equal(t, ReasonNone, ClassifyAddress("not-an-ip"))
}

func TestSchemeAllowed(t *testing.T) {
	require.True(t, SchemeAllowed("https://api.example.com"))
	require.True(t, SchemeAllowed("HTTP://api.example.com"))
	require.False(t, SchemeAllowed("ftp://api.example.com"))
	require.False(t, SchemeAllowed("://bad"))
}

func TestPortAllowed(t *testing.T) {
	require.True(t, PortAllowed(443, nil))
	require.True(t, PortAllowed(443, []int{80, 443}))
	require.False(t, PortAllowed(22, []int{80, 443}))
}

func TestEvaluate(t *testing.T) {
	require.Equal(t, ReasonNone, Evaluate("https://api.example.com", nil, nil))
	require.Equal(t, ReasonBlockedHostname, Evaluate("ftp://api.example.com", nil, nil))
	require.Equal(t, ReasonBlockedHostname, Evaluate("https://localhost", nil, nil))
	require.Equal(t, ReasonLoopbackIP, Evaluate("https://127.0.0.1", nil, nil))
	require.Equal(t, ReasonBlockedHostname, Evaluate("https://api.example.com:22", nil, []int{80, 443}))

	resolved := []netip.Addr{netip.MustParseAddr("10.0.0.5")}
	require.Equal(t, ReasonPrivateIP, Evaluate("https://internal.example.com", resolved, nil))
}
