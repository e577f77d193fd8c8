package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/hospitalauth"
	"github.com/MrEthical07/hospitalauth/token"
)

type sessionContextKey struct{}

// Introspector validates an access token. *hospitalauth.Engine satisfies it.
type Introspector interface {
	Introspect(ctx context.Context, accessToken string) (*hospitalauth.SessionInfo, error)
}

// SessionFromContext returns the session stored by [RequireSession].
func SessionFromContext(ctx context.Context) (*hospitalauth.SessionInfo, bool) {
	info, ok := ctx.Value(sessionContextKey{}).(*hospitalauth.SessionInfo)
	return info, ok
}

// RequireSession rejects requests without a valid access token with 401.
func RequireSession(engine Introspector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w)
				return
			}

			accessToken := token.AccessFromRequest(r)
			if accessToken == "" {
				unauthorized(w)
				return
			}

			info, err := engine.Introspect(r.Context(), accessToken)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="hospital-admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"invalid_access_token"}`))
}
