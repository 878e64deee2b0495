package server

import (
	"net/http"
	"strings"

	"github.com/tjfontaine/storefront-studio/internal/auth"
)

// AuthMiddleware validates API keys from the Authorization header. Both
// "Bearer <key>" and a bare key are accepted.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("Authorization")
			if apiKey == "" {
				writeErrorBody(w, http.StatusUnauthorized, errTypeAuthentication, "Missing Authorization header")
				return
			}

			// Remove "Bearer " prefix if present
			if key, err := auth.ExtractAPIKey(r); err == nil {
				apiKey = key
			} else if strings.Contains(apiKey, " ") {
				writeErrorBody(w, http.StatusUnauthorized, errTypeAuthentication, err.Error())
				return
			}

			if err := authenticator.ValidateAPIKey(apiKey); err != nil {
				AddError(r.Context(), err)
				writeErrorBody(w, http.StatusUnauthorized, errTypeAuthentication, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
