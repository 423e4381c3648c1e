package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndParseJWT(t *testing.T) {
	InitAuth("test-secret")

	token, err := CreateJWT("user-1", "org-1", time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "org-1", claims.OrganizationID)
}

func TestParseJWT_Rejects(t *testing.T) {
	InitAuth("test-secret")

	expired, _ := CreateJWT("user-1", "", -time.Minute)
	_, err := ParseJWT(expired)
	assert.Error(t, err, "expired token")

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	forged, _ := other.SignedString([]byte("another-secret"))
	_, err = ParseJWT(forged)
	assert.Error(t, err, "token signed with another secret")

	anonymous, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AppClaims{}).SignedString([]byte("test-secret"))
	_, err = ParseJWT(anonymous)
	assert.Error(t, err, "token without subject")

	_, err = ParseJWT("not-a-token")
	assert.Error(t, err, "malformed token")
}
