package admin

import (
	"net"
	"net/http"
	"strings"
)

// isLocalhost checks if the request originates from a loopback address.
// X-Forwarded-For is not trusted here.
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// bearerToken returns the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// adminAuthMiddleware requires a valid bearer key when one is configured,
// and loopback access otherwise.
func (h *AdminAPIHandler) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.keyVerifier != nil {
			if !h.keyVerifier.Verify(bearerToken(r)) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="botbridge-admin"`)
				h.respondError(w, http.StatusUnauthorized, "invalid or missing admin key")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}
		h.respondError(w, http.StatusForbidden, "admin API requires localhost access or an admin key")
	})
}
