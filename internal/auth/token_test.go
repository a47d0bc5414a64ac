package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Principal{UserID: "user-1", Username: "avery"}, time.Hour)
	require.NoError(t, err)

	principal, err := ParseToken(secret, issued)
	require.NoError(t, err)
	require.Equal(t, Principal{UserID: "user-1", Username: "avery"}, principal)
}

func TestParseTokenCarriesDeletedFlag(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Principal{UserID: "user-1", Username: "avery", IsDeleted: true}, time.Hour)
	require.NoError(t, err)

	principal, err := NewVerifier("secret").Verify(issued)
	require.NoError(t, err)
	require.True(t, principal.IsDeleted)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Principal{UserID: "user-1", Username: "avery"}, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(secret, issued)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), Principal{UserID: "user-1", Username: "avery"}, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken([]byte("other"), issued)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsMissingIdentity(t *testing.T) {
	secret := []byte("secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = ParseToken(secret, signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifierRejectsBlank(t *testing.T) {
	_, err := NewVerifier("secret").Verify("  ")
	require.ErrorIs(t, err, ErrInvalidToken)
}
