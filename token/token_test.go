package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/failure"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestIssuer(t *testing.T, rotation bool) (*Issuer, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	iss, err := NewIssuer(Config{PrivateKey: testKey, Issuer: "hospital-auth", Audience: "hospital-admin", Rotation: rotation})
	if err != nil {
		t.Fatalf("NewIssuer error: %v", err)
	}
	iss.WithClock(func() time.Time { return now })
	return iss, &now
}

var subject = Subject{AccountID: "a-1", Identifier: "admin@stmary.org", Role: "hospital_admin", HospitalID: 7}

func TestIssueAndParse(t *testing.T) {
	iss, now := newTestIssuer(t, true)
	pair, err := iss.Issue(subject)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if got := pair.AccessExpiresAt.Sub(*now); got != 30*time.Minute {
		t.Fatalf("access lifetime = %v", got)
	}
	if got := pair.RefreshExpiresAt.Sub(*now); got != 24*time.Hour {
		t.Fatalf("refresh lifetime = %v", got)
	}

	claims, err := iss.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess error: %v", err)
	}
	if claims.AsSubject() != subject {
		t.Fatalf("subject = %+v", claims.AsSubject())
	}

	if _, err := iss.ParseAccess(pair.RefreshToken); !errors.Is(err, failure.ErrInvalidAccessToken) {
		t.Fatalf("refresh token accepted as access token: %v", err)
	}
	if _, _, err := iss.Refresh(pair.AccessToken); err == nil {
		t.Fatal("access token accepted as refresh token")
	}
}

func TestAccessTokenExpires(t *testing.T) {
	iss, now := newTestIssuer(t, false)
	pair, _ := iss.Issue(subject)
	*now = now.Add(31 * time.Minute)
	if _, err := iss.ParseAccess(pair.AccessToken); err == nil {
		t.Fatal("expected expired access token to be rejected")
	}
}

func TestRefreshRotation(t *testing.T) {
	iss, now := newTestIssuer(t, true)
	first, _ := iss.Issue(subject)

	a, _, err := iss.Refresh(first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	b, _, err := iss.Refresh(first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if a.RefreshToken == first.RefreshToken || b.RefreshToken == first.RefreshToken || a.RefreshToken == b.RefreshToken {
		t.Fatal("rotation reused a refresh token value")
	}
	if a.RefreshExpiresAt.Sub(*now) != 24*time.Hour {
		t.Fatalf("rotated refresh expiry not renewed: %v", a.RefreshExpiresAt)
	}
}

func TestRefreshWithoutRotationEchoesToken(t *testing.T) {
	iss, now := newTestIssuer(t, false)
	first, _ := iss.Issue(subject)
	*now = now.Add(time.Hour)

	a, _, err := iss.Refresh(first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	b, _, _ := iss.Refresh(first.RefreshToken)
	if a.RefreshToken != first.RefreshToken || b.RefreshToken != first.RefreshToken {
		t.Fatal("refresh token should be echoed when rotation is disabled")
	}
	if !a.RefreshExpiresAt.Equal(first.RefreshExpiresAt) {
		t.Fatal("echoed refresh token expiry changed")
	}
	if a.AccessToken == first.AccessToken {
		t.Fatal("expected a new access token")
	}
}

func TestRefreshRejectsForeignSignature(t *testing.T) {
	iss, _ := newTestIssuer(t, true)
	other, err := NewIssuer(Config{PrivateKey: []byte(strings.Repeat("z", 32)), Issuer: "hospital-auth", Audience: "hospital-admin"})
	if err != nil {
		t.Fatalf("NewIssuer error: %v", err)
	}
	pair, _ := other.Issue(subject)
	if _, _, err := iss.Refresh(pair.RefreshToken); !errors.Is(err, failure.ErrInvalidRefreshToken) {
		t.Fatalf("Refresh = %v, want ErrInvalidRefreshToken", err)
	}
}

func TestEd25519Issuer(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	iss, err := NewIssuer(Config{SigningMethod: MethodEd25519, PrivateKey: priv})
	if err != nil {
		t.Fatalf("NewIssuer error: %v", err)
	}
	pair, err := iss.Issue(subject)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if _, err := iss.ParseAccess(pair.AccessToken); err != nil {
		t.Fatalf("ParseAccess error: %v", err)
	}
}

func TestNewIssuerValidation(t *testing.T) {
	cases := []Config{
		{PrivateKey: []byte("short")},
		{PrivateKey: testKey, AccessTTL: time.Hour, RefreshTTL: time.Minute},
		{PrivateKey: testKey, Leeway: time.Hour},
		{PrivateKey: testKey, SigningMethod: "rs512"},
	}
	for i, cfg := range cases {
		if _, err := NewIssuer(cfg); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestCookies(t *testing.T) {
	iss, now := newTestIssuer(t, true)
	pair, _ := iss.Issue(subject)

	rec := httptest.NewRecorder()
	CookieWriter{Secure: true}.Write(rec, pair, *now)
	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("cookies = %d, want 2", len(cookies))
	}
	for _, ck := range cookies {
		if !ck.HttpOnly || !ck.Secure || ck.SameSite != http.SameSiteLaxMode || ck.Path != "/" {
			t.Fatalf("cookie %s has wrong attributes: %+v", ck.Name, ck)
		}
	}
	if cookies[0].Name != AccessCookie || cookies[0].MaxAge != 1800 {
		t.Fatalf("access cookie = %+v", cookies[0])
	}
	if cookies[1].Name != RefreshCookie || cookies[1].MaxAge != 86400 {
		t.Fatalf("refresh cookie = %+v", cookies[1])
	}

	rec = httptest.NewRecorder()
	CookieWriter{}.Clear(rec)
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge >= 0 || ck.Value != "" {
			t.Fatalf("cookie %s not cleared: %+v", ck.Name, ck)
		}
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/token/refresh", nil)
	if got := RefreshFromRequest(r, " body-token "); got != "body-token" {
		t.Fatalf("body fallback = %q", got)
	}
	r.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "cookie-token"})
	if got := RefreshFromRequest(r, "body-token"); got != "cookie-token" {
		t.Fatalf("cookie should win, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/hospital-admin/session", nil)
	r.Header.Set("Authorization", "Bearer abc.def")
	if got := AccessFromRequest(r); got != "abc.def" {
		t.Fatalf("bearer header = %q", got)
	}
}
