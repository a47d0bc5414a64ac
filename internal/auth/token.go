// Package auth verifies the bearer tokens that identify a principal.
// Tokens are issued by the external credential service; IssueToken exists
// for that service's contract, development and tests.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the identity a verified request or connection acts as.
type Principal struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	IsDeleted bool   `json:"isDeleted"`
}

type Claims struct {
	Principal
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func IssueToken(secret []byte, principal Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Principal: principal,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "huddle",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Principal, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.UserID == "" || claims.Username == "" {
		return Principal{}, ErrInvalidToken
	}
	return claims.Principal, nil
}

// Verifier binds a secret so callers only see token -> principal.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if strings.TrimSpace(token) == "" {
		return Principal{}, ErrInvalidToken
	}
	return ParseToken(v.secret, token)
}

// Issue signs a token for principal with the bound secret.
func (v *Verifier) Issue(principal Principal, ttl time.Duration) (string, error) {
	return IssueToken(v.secret, principal, ttl)
}
