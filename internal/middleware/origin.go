package middleware

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Origin rejects browser requests whose Origin header is not in allowed.
// CORS headers do not bind WebSocket handshakes, so upgrade routes need this
// check on the server side. A "*" entry or an empty list allows every origin.
// Requests without an Origin header (non-browser clients) pass.
func Origin(allowed []string) func(http.Handler) http.Handler {
	normalized := make([]string, 0, len(allowed))
	allowAll := len(allowed) == 0
	for _, a := range allowed {
		if a == "*" {
			allowAll = true
			continue
		}
		if n, ok := normalizeOrigin(a); ok {
			normalized = append(normalized, n)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowAll || OriginAllowed(r.Header.Get("Origin"), normalized) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, `{"error":"origin not allowed"}`, http.StatusForbidden)
		})
	}
}

// OriginAllowed reports whether header names one of the normalized origins.
// An empty header is allowed.
func OriginAllowed(header string, normalized []string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return true
	}
	n, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	for _, a := range normalized {
		if a == n {
			return true
		}
	}
	return false
}

// normalizeOrigin lowercases scheme and host and drops default ports, so
// "HTTPS://App.example:443" and "https://app.example" compare equal.
func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host, port := strings.ToLower(u.Hostname()), u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	return scheme + "://" + host, true
}
