package gateway

import (
	"net"
	"net/http"
	"strings"
)

// ------------------------------------------------------------
// 로그용 클라이언트 IP 추출.
//
// Pi 는 보통 같은 LAN 에서 직접 붙지만, 대시보드는 reverse proxy 뒤에 있을 수 있다.
// 우선순위:
//  1. X-Forwarded-For → 첫 번째 public IP
//  2. X-Forwarded-For → 첫 번째 유효한 IP (사설망 proxy)
//  3. RemoteAddr
// ------------------------------------------------------------

func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return false
	}
	return true
}

func safeParseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		var first net.IP
		for _, part := range strings.Split(xff, ",") {
			ip := safeParseIP(part)
			if ip == nil {
				continue
			}
			if isPublicIP(ip) {
				return ip.String()
			}
			if first == nil {
				first = ip
			}
		}
		if first != nil {
			return first.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := safeParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
