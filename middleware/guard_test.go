package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/hospitalauth"
	"github.com/MrEthical07/hospitalauth/token"
)

type fakeIntrospector map[string]*hospitalauth.SessionInfo

func (f fakeIntrospector) Introspect(_ context.Context, accessToken string) (*hospitalauth.SessionInfo, error) {
	if info, ok := f[accessToken]; ok {
		return info, nil
	}
	return nil, hospitalauth.ErrInvalidAccessToken
}

func guarded(t *testing.T, engine Introspector) http.Handler {
	t.Helper()
	return RequireSession(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := SessionFromContext(r.Context())
		if !ok {
			t.Fatal("session missing from context")
		}
		_, _ = w.Write([]byte(info.AccountID))
	}))
}

func TestRequireSession(t *testing.T) {
	engine := fakeIntrospector{"good": {AccountID: "a-1"}}
	h := guarded(t, engine)

	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
		body   string
	}{
		{"no token", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"bad bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") }, http.StatusUnauthorized, ""},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, http.StatusOK, "a-1"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: token.AccessCookie, Value: "good"}) }, http.StatusOK, "a-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/hospital-admin/session", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestRequireSessionNilEngine(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	RequireSession(nil)(http.NotFoundHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}
