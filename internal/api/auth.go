package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ownerKey struct{}

// ownerAuth identifies the operator behind a request. With a secret the
// owner is the subject of an HS256 bearer token; without one the front end
// is trusted to pass X-Owner-ID.
type ownerAuth struct {
	secret []byte
}

func newOwnerAuth(secret string) *ownerAuth {
	return &ownerAuth{secret: []byte(secret)}
}

func (a *ownerAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := a.owner(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func (a *ownerAuth) owner(r *http.Request) (string, error) {
	if len(a.secret) == 0 {
		if v := strings.TrimSpace(r.Header.Get("X-Owner-ID")); v != "" {
			return v, nil
		}
		return "", errors.New("missing X-Owner-ID")
	}

	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return "", errors.New("missing bearer token")
	}
	claims := &jwt.RegisteredClaims{}
	tkn, err := jwt.ParseWithClaims(strings.TrimSpace(hdr[7:]), claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func ownerFrom(ctx context.Context) string {
	v, _ := ctx.Value(ownerKey{}).(string)
	return v
}
