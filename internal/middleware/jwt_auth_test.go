package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func makeToken(t *testing.T, secret []byte, issuer, subject, role string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("signed token: %v", err)
	}
	return s
}

func TestJWTMiddleware_Valid(t *testing.T) {
	secret := []byte("test-secret")
	issuer := "test-issuer"

	mw := NewJWTMiddleware(secret, issuer, "admin")

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-User-ID"); got != "ops1" {
			t.Errorf("expected X-User-ID=ops1 got=%s", got)
		}
		if got := r.Header.Get("X-User-Role"); got != "admin" {
			t.Errorf("expected X-User-Role=admin got=%s", got)
		}
		w.WriteHeader(http.StatusOK)
	}))

	token := makeToken(t, secret, issuer, "ops1", "admin", time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/admin/window", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestJWTMiddleware_Invalid(t *testing.T) {
	secret := []byte("test-secret")
	issuer := "test-issuer"

	handler := NewJWTMiddleware(secret, issuer, "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := map[string]string{
		"missing header": "",
		"bad format":     "Token abc",
		"bad token":      "Bearer bad.token.here",
		"expired":        "Bearer " + makeToken(t, secret, issuer, "ops1", "admin", -time.Minute),
		"wrong issuer":   "Bearer " + makeToken(t, secret, "wrong-issuer", "ops1", "admin", time.Minute),
		"wrong secret":   "Bearer " + makeToken(t, []byte("other"), issuer, "ops1", "admin", time.Minute),
		"wrong role":     "Bearer " + makeToken(t, secret, issuer, "ops1", "viewer", time.Minute),
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/admin/window", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 got %d", name, rr.Code)
		}
	}
}

func TestJWTMiddleware_AnyRole(t *testing.T) {
	secret := []byte("test-secret")
	handler := NewJWTMiddleware(secret, "", "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/window", nil)
	req.Header.Set("Authorization", "Bearer "+makeToken(t, secret, "anyone", "ops1", "", time.Minute))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}
