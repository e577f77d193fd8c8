package token

import (
	"net/http"
	"strings"
	"time"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// CookieWriter serializes token pairs as HttpOnly, SameSite=Lax cookies
// scoped to "/". Secure is set outside local development.
type CookieWriter struct {
	Secure bool
	Domain string
}

// Write sets both cookies with max-ages equal to the token lifetimes.
func (c CookieWriter) Write(w http.ResponseWriter, pair *Pair, now time.Time) {
	if pair == nil {
		return
	}
	http.SetCookie(w, c.cookie(AccessCookie, pair.AccessToken, pair.AccessExpiresAt.Sub(now)))
	http.SetCookie(w, c.cookie(RefreshCookie, pair.RefreshToken, pair.RefreshExpiresAt.Sub(now)))
}

// Clear expires both session cookies.
func (c CookieWriter) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		ck := c.cookie(name, "", 0)
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
		http.SetCookie(w, ck)
	}
}

func (c CookieWriter) cookie(name, value string, ttl time.Duration) *http.Cookie {
	maxAge := int(ttl / time.Second)
	if maxAge < 0 {
		maxAge = 0
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// RefreshFromRequest returns the refresh token from its cookie, falling
// back to bodyValue for clients that cannot hold cookies.
func RefreshFromRequest(r *http.Request, bodyValue string) string {
	if ck, err := r.Cookie(RefreshCookie); err == nil && strings.TrimSpace(ck.Value) != "" {
		return ck.Value
	}
	return strings.TrimSpace(bodyValue)
}

// AccessFromRequest returns the access token from its cookie or an
// "Authorization: Bearer" header.
func AccessFromRequest(r *http.Request) string {
	if ck, err := r.Cookie(AccessCookie); err == nil && strings.TrimSpace(ck.Value) != "" {
		return ck.Value
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
