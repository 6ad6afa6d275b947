// Package clientip resolves the originating client address of a request
// according to a configured trust policy.
package clientip

import (
	"net"
	"net/http"
	"strings"

	"github.com/ansel1/merry"
)

type Source string

const (
	ConnectInfo             Source = "connect-info"
	RightmostXForwardedFor  Source = "rightmost-x-forwarded-for"
	RightmostForwarded      Source = "rightmost-forwarded"
	XRealIP                 Source = "x-real-ip"
	CFConnectingIP          Source = "cf-connecting-ip"
	TrueClientIP            Source = "true-client-ip"
	FlyClientIP             Source = "fly-client-ip"
	CloudFrontViewerAddress Source = "cloudfront-viewer-address"
)

var singleHeaders = map[Source]string{
	XRealIP:        "X-Real-Ip",
	CFConnectingIP: "Cf-Connecting-Ip",
	TrueClientIP:   "True-Client-Ip",
	FlyClientIP:    "Fly-Client-Ip",
}

// Resolver returns the client address of a request, or nil when none can be
// determined.
type Resolver interface {
	Resolve(r *http.Request) net.IP
}

type ResolverFunc func(r *http.Request) net.IP

func (f ResolverFunc) Resolve(r *http.Request) net.IP {
	return f(r)
}

type resolver struct {
	source  Source
	trusted []*net.IPNet
}

// New builds a resolver reading the given source. Trusted entries are CIDRs or
// bare addresses of proxies allowed to set forwarding headers; when empty
// every peer is trusted.
func New(source string, trusted []string) (Resolver, error) {
	src := Source(strings.ToLower(strings.TrimSpace(source)))

	if src == "" {
		src = ConnectInfo
	}

	switch src {
	case ConnectInfo, RightmostXForwardedFor, RightmostForwarded, CloudFrontViewerAddress:
	default:
		if _, ok := singleHeaders[src]; !ok {
			return nil, merry.Errorf("unknown client ip source %q", source)
		}
	}

	nets, err := ParseTrusted(trusted)

	if err != nil {
		return nil, err
	}

	return &resolver{source: src, trusted: nets}, nil
}

func ParseTrusted(entries []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)

		if entry == "" {
			continue
		}

		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)

			if ip == nil {
				return nil, merry.Errorf("invalid trusted proxy %q", entry)
			}

			bits := 8 * net.IPv6len

			if v4 := ip.To4(); v4 != nil {
				ip = v4
				bits = 8 * net.IPv4len
			}

			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}

		_, ipNet, err := net.ParseCIDR(entry)

		if err != nil {
			return nil, merry.Wrap(err).WithValue("entry", entry)
		}

		nets = append(nets, ipNet)
	}

	return nets, nil
}

func (rs *resolver) Resolve(r *http.Request) net.IP {
	peer := PeerIP(r)

	if rs.source == ConnectInfo || !rs.trustedPeer(peer) {
		return peer
	}

	var ip net.IP

	switch rs.source {
	case RightmostXForwardedFor:
		ip = rs.rightmost(splitList(r.Header.Values("X-Forwarded-For")))
	case RightmostForwarded:
		ip = rs.rightmost(forwardedFor(r.Header.Values("Forwarded")))
	case CloudFrontViewerAddress:
		ip = parseViewerAddress(r.Header.Get("Cloudfront-Viewer-Address"))
	default:
		ip = ParseIP(r.Header.Get(singleHeaders[rs.source]))
	}

	if ip == nil {
		return peer
	}

	return ip
}

func (rs *resolver) trustedPeer(ip net.IP) bool {
	if len(rs.trusted) == 0 {
		return true
	}

	return ip != nil && rs.isTrusted(ip)
}

func (rs *resolver) isTrusted(ip net.IP) bool {
	for _, n := range rs.trusted {
		if n.Contains(ip) {
			return true
		}
	}

	return false
}

// rightmost walks the chain from the closest hop backwards and returns the
// first address not owned by a trusted proxy.
func (rs *resolver) rightmost(chain []string) net.IP {
	for i := len(chain) - 1; i >= 0; i-- {
		ip := ParseIP(chain[i])

		if ip == nil {
			return nil
		}

		if len(rs.trusted) > 0 && rs.isTrusted(ip) {
			continue
		}

		return ip
	}

	return nil
}

// PeerIP returns the address of the directly connected peer.
func PeerIP(r *http.Request) net.IP {
	return ParseIP(r.RemoteAddr)
}

// ParseIP parses an address that may carry a port, brackets, quotes or an
// IPv6 zone.
func ParseIP(s string) net.IP {
	s = strings.Trim(strings.TrimSpace(s), `"`)

	if s == "" {
		return nil
	}

	if ip := net.ParseIP(stripZone(s)); ip != nil {
		return ip
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return net.ParseIP(stripZone(host))
	}

	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return net.ParseIP(stripZone(s[1 : len(s)-1]))
	}

	return nil
}

func stripZone(s string) string {
	if i := strings.IndexByte(s, '%'); i >= 0 {
		return s[:i]
	}

	return s
}

func splitList(values []string) []string {
	var out []string

	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}

	return out
}

// forwardedFor extracts the for= parameter of every RFC 7239 element.
func forwardedFor(values []string) []string {
	var out []string

	for _, element := range splitList(values) {
		for _, pair := range strings.Split(element, ";") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)

			if len(kv) == 2 && strings.EqualFold(kv[0], "for") {
				out = append(out, kv[1])
			}
		}
	}

	return out
}

// parseViewerAddress parses CloudFront's "ip:port" form, where IPv6 addresses
// are not bracketed.
func parseViewerAddress(s string) net.IP {
	s = strings.TrimSpace(s)

	if i := strings.LastIndexByte(s, ':'); i > 0 {
		if ip := net.ParseIP(s[:i]); ip != nil {
			return ip
		}
	}

	return ParseIP(s)
}
