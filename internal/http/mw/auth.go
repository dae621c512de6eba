package mw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth returns a middleware that rejects requests whose
// Authorization header does not carry the expected shared secret as a
// bearer token. Used on the scan/weekly trigger and review endpoints,
// which are invoked by the scheduler and a small number of operators
// rather than end users.
func BearerAuth(sharedSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(sharedSecret)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
