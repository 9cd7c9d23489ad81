package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// AdminClaims extends RegisteredClaims with the operator role.
type AdminClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTMiddleware returns a middleware that validates JWT tokens signed with HMAC.
// It checks the signing method, the token expiration and issuer (`iss`). When
// requiredRole is set the `role` claim must match it.
// On success it injects `X-User-ID` (from `sub`) and `X-User-Role` into request headers.
func NewJWTMiddleware(secret []byte, expectedIssuer, requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeUnauthorized(w, r, "missing Authorization header")
				return
			}
			parts := strings.Fields(auth)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeUnauthorized(w, r, "invalid Authorization header format")
				return
			}

			var claims AdminClaims
			token, err := jwt.ParseWithClaims(parts[1], &claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return secret, nil
			})
			if err != nil {
				writeUnauthorized(w, r, "invalid token: "+err.Error())
				return
			}
			if !token.Valid {
				writeUnauthorized(w, r, "invalid token")
				return
			}

			if claims.ExpiresAt == nil {
				writeUnauthorized(w, r, "token missing exp claim")
				return
			}
			if time.Now().After(claims.ExpiresAt.Time) {
				writeUnauthorized(w, r, "token is expired")
				return
			}
			if expectedIssuer != "" && claims.Issuer != expectedIssuer {
				writeUnauthorized(w, r, "invalid token issuer")
				return
			}
			if requiredRole != "" && claims.Role != requiredRole {
				writeUnauthorized(w, r, "insufficient role")
				return
			}

			r2 := r.Clone(r.Context())
			if claims.Subject != "" {
				r2.Header.Set("X-User-ID", claims.Subject)
			}
			if claims.Role != "" {
				r2.Header.Set("X-User-Role", claims.Role)
			}
			next.ServeHTTP(w, r2)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	log.Warn().Str("path", r.URL.Path).Str("request_id", GetRequestID(r.Context())).
		Str("reason", msg).Msg("admin request rejected")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": msg})
}
