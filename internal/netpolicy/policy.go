// Package netpolicy classifies hostnames and IP addresses against
// SSRF-sensitive categories, for runners that wish to block dangerous
// targets before a sandboxed test is allowed to reach them. It mirrors the
// deny-by-default, closed-enumeration style of the teacher's
// system/sandbox capability set and the IP-trust reasoning in
// infrastructure/httputil/clientip.go.
package netpolicy

import (
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// Reason names why a classifier rejected a target. The zero value means safe.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonBlockedHostname Reason = "blocked_hostname"
	ReasonLoopbackIP      Reason = "loopback_ip"
	ReasonPrivateIP       Reason = "private_ip"
	ReasonLinkLocalIP     Reason = "link_local_ip"
	ReasonMetadataIP      Reason = "metadata_ip"
)

var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"localhost.localdomain":    {},
	"metadata":                 {},
	"metadata.google.internal": {},
}

var metadataIPs = map[string]struct{}{
	"169.254.169.254": {},
	"100.100.100.200": {},
	"fd00:ec2::254":   {},
}

// ClassifyHostname returns the rejection reason for a raw hostname, or
// ReasonNone if it is not in the closed blocklist. It does not resolve DNS;
// callers that need to block by resolved address should also classify the
// resolved IP with ClassifyIP.
func ClassifyHostname(host string) Reason {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	if _, blocked := blockedHostnames[h]; blocked {
		return ReasonBlockedHostname
	}
	return ReasonNone
}

// ClassifyIP returns the rejection reason for an IP address, or ReasonNone
// if the address is not loopback, private, link-local, or a known metadata
// endpoint. IPv4-mapped IPv6 addresses are unwrapped and classified as
// their underlying IPv4 form.
func ClassifyIP(ip netip.Addr) Reason {
	if !ip.IsValid() {
		return ReasonNone
	}
	if ip.Is4In6() {
		return ClassifyIP(ip.Unmap())
	}
	if _, metadata := metadataIPs[ip.String()]; metadata {
		return ReasonMetadataIP
	}
	if ip.IsLoopback() {
		return ReasonLoopbackIP
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return ReasonLinkLocalIP
	}
	if ip.IsPrivate() {
		return ReasonPrivateIP
	}
	return ReasonNone
}

// ClassifyAddress is a convenience wrapper accepting an address string, for
// call sites that have not already parsed a netip.Addr.
func ClassifyAddress(s string) Reason {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		if parsed := net.ParseIP(s); parsed != nil {
			if v4 := parsed.To4(); v4 != nil {
				if a, ok := netip.AddrFromSlice(v4); ok {
					return ClassifyIP(a)
				}
			}
			if a, ok := netip.AddrFromSlice(parsed.To16()); ok {
				return ClassifyIP(a)
			}
		}
		return ReasonNone
	}
	return ClassifyIP(addr)
}

// allowedSchemes is the closed scheme allowlist: only plain HTTP(S) targets
// are ever permitted, regardless of port policy.
var allowedSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
}

// SchemeAllowed reports whether rawurl uses an allowed scheme.
func SchemeAllowed(rawurl string) bool {
	u, err := url.Parse(rawurl)
	if err != nil {
		return false
	}
	_, ok := allowedSchemes[strings.ToLower(u.Scheme)]
	return ok
}

// PortAllowed reports whether port is present in the caller-supplied
// allowlist. An empty allowlist allows every port (no port policy configured).
func PortAllowed(port int, allowlist []int) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, p := range allowlist {
		if p == port {
			return true
		}
	}
	return false
}

// Evaluate runs the full policy (scheme, hostname, resolved-address) against
// a target URL's host component. It does not perform DNS resolution itself;
// resolvedIPs, if supplied, are the addresses the caller already resolved
// for host. Returns ReasonNone when the target passes every check.
func Evaluate(rawurl string, resolvedIPs []netip.Addr, portAllowlist []int) Reason {
	if !SchemeAllowed(rawurl) {
		return ReasonBlockedHostname
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return ReasonBlockedHostname
	}
	if reason := ClassifyHostname(u.Hostname()); reason != ReasonNone {
		return reason
	}
	if port := u.Port(); port != "" {
		var p int
		for _, c := range port {
			if c < '0' || c > '9' {
				return ReasonBlockedHostname
			}
			p = p*10 + int(c-'0')
		}
		if !PortAllowed(p, portAllowlist) {
			return ReasonBlockedHostname
		}
	}
	if addr, err := netip.ParseAddr(u.Hostname()); err == nil {
		if reason := ClassifyIP(addr); reason != ReasonNone {
			return reason
		}
	}
	for _, addr := range resolvedIPs {
		if reason := ClassifyIP(addr); reason != ReasonNone {
			return reason
		}
	}
	return ReasonNone
}
