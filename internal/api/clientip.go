package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/c-robinson/iplib"
)

// TrustedProxies holds the subnets whose forwarding headers are honored.
// Requests arriving from anywhere else use the socket address directly, so a
// bot cannot spoof its reported IP.
type TrustedProxies struct {
	nets []iplib.Net4
}

// NewTrustedProxies parses CIDR entries like "10.0.0.0/8". Invalid entries
// are skipped.
func NewTrustedProxies(cidrs []string) *TrustedProxies {
	tp := &TrustedProxies{}
	for _, entry := range cidrs {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(entry))
		if err != nil || ipNet.IP.To4() == nil {
			continue
		}
		ones, _ := ipNet.Mask.Size()
		tp.nets = append(tp.nets, iplib.NewNet4(ipNet.IP, ones))
	}
	return tp
}

// Trusts reports whether the address belongs to a trusted proxy subnet.
func (tp *TrustedProxies) Trusts(ip net.IP) bool {
	if tp == nil || ip == nil {
		return false
	}
	for _, n := range tp.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP extracts the reporting client's IP. X-Real-IP and X-Forwarded-For
// are only honored when the request arrived through a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	remote := net.ParseIP(host)
	if !s.proxies.Trusts(remote) {
		return host
	}

	if v := r.Header.Get("X-Real-IP"); v != "" {
		return strings.TrimSpace(v)
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		parts := strings.Split(v, ",")
		return strings.TrimSpace(parts[0])
	}
	return host
}
