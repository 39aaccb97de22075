/**
 * @description
 * Authentication middleware for the crypto-ledger-service HTTP API. Callers are other
 * backend services (shared X-Internal-API-Key) or operators holding a short-lived
 * HS256 token with the "operator" role.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: operator token verification.
 */

package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type callerContextKey string

const callerKey callerContextKey = "caller"

const operatorRole = "operator"

// OperatorClaims are the claims expected in an operator bearer token.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// InternalAuthMiddleware accepts either the shared internal API key or an operator
// bearer token. With neither credential configured every request is let through.
func InternalAuthMiddleware(requiredKey, operatorSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" && operatorSecret == "" {
				next.ServeHTTP(w, r)
				return
			}

			if provided := r.Header.Get("X-Internal-API-Key"); provided != "" && requiredKey != "" {
				if subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) == 1 {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, "internal")))
					return
				}
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if operatorSecret != "" {
				if subject, err := verifyOperatorToken(r.Header.Get("Authorization"), operatorSecret); err == nil {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, subject)))
					return
				}
			}

			writeError(w, http.StatusUnauthorized, "Unauthorized")
		})
	}
}

func verifyOperatorToken(authHeader, secret string) (string, error) {
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == "" || tokenString == authHeader {
		return "", errors.New("bearer token required")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(30*time.Second), jwt.WithExpirationRequired())
	claims := &OperatorClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Role != operatorRole {
		return "", errors.New("operator role required")
	}
	subject, _ := claims.GetSubject()
	if subject == "" {
		subject = operatorRole
	}
	return subject, nil
}

// CallerFromContext returns who authenticated the request: "internal" for the shared
// key, or the operator token subject.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey).(string)
	return caller, ok
}
