// Package origin implements the browser Origin policy shared by the HTTP API
// and the signaling WebSocket.
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates a browser Origin header and returns it as
// scheme://host[:port] together with its host[:port] part. Default ports are
// dropped and the scheme and host are lowercased.
//
// The opaque origin "null" is accepted and returned with an empty host.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.Opaque != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a normalized origin may talk to a server reached
// at requestHost.
//
// A non-empty allowlist is matched exactly ("*" matches anything). With no
// allowlist only same-host requests pass; the scheme is not compared because
// TLS is usually terminated in front of the server.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found || (scheme != "http" && scheme != "https") {
		return false
	}
	reqHost, ok := canonicalHost(strings.TrimSpace(requestHost), scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

// canonicalHost lowercases an authority, validates its port and removes the
// scheme's default port.
func canonicalHost(authority, scheme string) (string, bool) {
	authority = strings.ToLower(authority)
	if authority == "" {
		return "", false
	}

	hostname, port := authority, ""
	if h, p, err := net.SplitHostPort(authority); err == nil {
		if p == "" {
			return "", false
		}
		hostname, port = h, p
	} else if strings.HasPrefix(authority, "[") {
		if !strings.HasSuffix(authority, "]") {
			return "", false
		}
		hostname = authority[1 : len(authority)-1]
	} else if strings.Contains(authority, ":") {
		return "", false
	}
	if hostname == "" {
		return "", false
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port != "" {
		return hostname + ":" + port, true
	}
	return hostname, true
}
