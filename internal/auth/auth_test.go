package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku-ai/kioku/internal/auth"
	"github.com/kioku-ai/kioku/internal/model"
)

func TestIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewTokenManager("", "", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken("build-agent-7", model.ContributorAgent)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "build-agent-7", claims.ContributorID)
	assert.Equal(t, model.ContributorAgent, claims.ContributorType)
}

func TestIssueTokenRejectsBadContributorType(t *testing.T) {
	mgr, err := auth.NewTokenManager("", "", time.Hour)
	require.NoError(t, err)

	_, _, err = mgr.IssueToken("x", "robot")
	require.Error(t, err)
}

// newManagerWithKey creates a TokenManager backed by a real Ed25519 key pair
// written to temp PEM files, and returns the raw private key for forging tokens.
func newManagerWithKey(t *testing.T) (*auth.TokenManager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dir := t.TempDir()

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	privPath := filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))

	mgr, err := auth.NewTokenManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	return mgr, priv
}

// forgeToken signs a JWT with the given private key and claims.
func forgeToken(t *testing.T, privKey ed25519.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(privKey)
	require.NoError(t, err)
	return signed
}

func TestValidateTokenFromPEMFiles(t *testing.T) {
	mgr, _ := newManagerWithKey(t)

	token, _, err := mgr.IssueToken("alice", model.ContributorHuman)
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.ContributorID)
	assert.Equal(t, model.ContributorHuman, claims.ContributorType)
}

func TestValidateTokenWrongIssuer(t *testing.T) {
	mgr, privKey := newManagerWithKey(t)

	now := time.Now().UTC()
	token := forgeToken(t, privKey, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "not-kioku",
			Audience:  jwt.ClaimStrings{"kioku"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		ContributorID:   "mallory",
		ContributorType: model.ContributorAgent,
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenBadContributorType(t *testing.T) {
	mgr, privKey := newManagerWithKey(t)

	now := time.Now().UTC()
	token := forgeToken(t, privKey, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "kioku",
			Audience:  jwt.ClaimStrings{"kioku"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		ContributorID:   "mallory",
		ContributorType: "robot",
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	mgr, privKey := newManagerWithKey(t)

	past := time.Now().UTC().Add(-2 * time.Hour)
	token := forgeToken(t, privKey, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "kioku",
			Audience:  jwt.ClaimStrings{"kioku"},
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
		},
		ContributorID:   "alice",
		ContributorType: model.ContributorHuman,
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenWrongKey(t *testing.T) {
	mgr, _ := newManagerWithKey(t)
	_, otherKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, otherKey, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "kioku",
			Audience:  jwt.ClaimStrings{"kioku"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		ContributorID:   "mallory",
		ContributorType: model.ContributorAgent,
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateGarbage(t *testing.T) {
	mgr, err := auth.NewTokenManager("", "", time.Hour)
	require.NoError(t, err)

	_, err = mgr.ValidateToken("not-a-jwt")
	require.Error(t, err)
}
