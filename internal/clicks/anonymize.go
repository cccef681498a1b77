package clicks

import "net/netip"

const maxUserAgentBytes = 512

// AnonymizeIP coarsens a client address before it is stored: IPv4 keeps the
// /24, IPv6 keeps the /48. Unparseable input comes back empty.
func AnonymizeIP(raw string) string {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return ""
	}

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.Addr().String()
}

// TruncateUserAgent caps a user agent string at the column limit.
func TruncateUserAgent(ua string) string {
	if len(ua) > maxUserAgentBytes {
		return ua[:maxUserAgentBytes]
	}
	return ua
}
