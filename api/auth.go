/*
auth.go - Bearer token authentication

PURPOSE:
  Turns the identity provider's HS256 token into an authz.Caller. The engine
  never sees a session: every handler reads the caller from the request
  context and passes it explicitly to the service.

TOKEN CLAIMS:
  sub         actor id (required)
  role        agent | accountant | executive (alias fpdg) | admin
  partner_id  optional partner scope
  exp         honoured when present

FAILURES:
  Missing, malformed, expired or wrongly signed tokens get 401 before any
  handler runs. Authorization by role happens later, in the domain.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/indemnity-engine/authz"
)

// TokenClaims is the JWT payload.
type TokenClaims struct {
	Role      string `json:"role"`
	PartnerID string `json:"partner_id,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for caller. Used by tests and local tooling; production
// tokens come from the identity provider.
func (a *Authenticator) Issue(caller authz.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		Role:      string(caller.Role),
		PartnerID: caller.PartnerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ActorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "indemnity-engine",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and checks a token and returns the caller it names.
func (a *Authenticator) Verify(tokenString string) (authz.Caller, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return authz.Caller{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return authz.Caller{}, errors.New("invalid token claims")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return authz.Caller{}, errors.New("token has no subject")
	}
	role, err := authz.ParseRole(claims.Role)
	if err != nil {
		return authz.Caller{}, err
	}
	return authz.Caller{
		ActorID:   claims.Subject,
		Role:      role,
		PartnerID: strings.ToUpper(strings.TrimSpace(claims.PartnerID)),
	}, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type callerKey struct{}

// Middleware rejects unauthenticated requests and stores the caller in the
// request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Missing bearer token", Code: "unauthorized"})
			return
		}

		caller, err := a.Verify(strings.TrimSpace(raw))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid bearer token", Code: "unauthorized", Details: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func WithCaller(ctx context.Context, caller authz.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller. The zero Caller has no actor
// and is refused by the service.
func CallerFrom(ctx context.Context) authz.Caller {
	caller, _ := ctx.Value(callerKey{}).(authz.Caller)
	return caller
}
