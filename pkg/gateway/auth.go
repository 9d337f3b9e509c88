package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/luoluoluo22/ai-assistant/internal/observability"
)

// authorized checks the request's API key. Both the X-API-Key header and
// an Authorization bearer token are accepted; WebSocket clients may also
// pass ?api_key= since browsers cannot set headers on upgrade requests.
func (s *Server) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return false
	}

	candidates := []string{
		r.Header.Get("X-API-Key"),
		strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		r.URL.Query().Get("api_key"),
	}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(s.apiKey)) == 1 {
			return true
		}
	}
	return false
}

// requireAuth wraps a handler with API-key enforcement. A server without
// a configured key refuses everything rather than running open.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			writeEnvelope(w, http.StatusInternalServerError, Envelope{
				Code:    CodeInternal,
				Message: "server has no API key configured",
			})
			return
		}
		if !s.authorized(r) {
			observability.RecordSecurityAudit(r.Context(), "api_key_rejected", r.RemoteAddr, "failure", map[string]interface{}{
				"path": r.URL.Path,
			})
			writeEnvelope(w, http.StatusForbidden, Envelope{
				Code:    CodeUnauthorized,
				Message: "a valid API key is required",
			})
			return
		}
		next(w, r)
	}
}
