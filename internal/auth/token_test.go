package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAccessToken(t *testing.T) {
	t.Run("Cookie Preferred", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie_token"})
		// Add header as well to ensure cookie takes precedence
		req.Header.Set("Authorization", "Bearer header_token")

		token := ExtractAccessToken(req)
		assert.Equal(t, "cookie_token", token)
	})

	t.Run("Header Fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer header_token")

		token := ExtractAccessToken(req)
		assert.Equal(t, "header_token", token)
	})

	t.Run("Empty Cookie Falls Back to Header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: ""})
		req.Header.Set("Authorization", "Bearer header_token")

		token := ExtractAccessToken(req)
		assert.Equal(t, "header_token", token)
	})

	t.Run("No Token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		token := ExtractAccessToken(req)
		assert.Empty(t, token)
	})

	t.Run("Malformed Header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic user:pass")

		token := ExtractAccessToken(req)
		assert.Empty(t, token)
	})

	t.Run("Lowercase Scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer header_token")

		token := ExtractAccessToken(req)
		assert.Equal(t, "header_token", token)
	})
}

func signToken(t *testing.T, userID, email, role string, secret []byte, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func TestParseClaims(t *testing.T) {
	secret := []byte("test-secret")

	t.Run("Valid", func(t *testing.T) {
		tok := signToken(t, "user-1", "buyer@example.com", "customer", secret, time.Hour)

		claims, err := ParseClaims(tok, secret)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID())
		assert.Equal(t, "buyer@example.com", claims.Email)
		assert.Equal(t, "customer", claims.Role)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := ParseClaims("", secret)
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		tok := signToken(t, "user-1", "", "", secret, time.Hour)

		_, err := ParseClaims(tok, []byte("other"))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Expired", func(t *testing.T) {
		tok := signToken(t, "user-1", "", "", secret, -time.Hour)

		_, err := ParseClaims(tok, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("NoSubject", func(t *testing.T) {
		tok := signToken(t, "", "", "", secret, time.Hour)

		_, err := ParseClaims(tok, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestTokenProviders(t *testing.T) {
	ctx := context.Background()

	t.Run("Static", func(t *testing.T) {
		tok, err := StaticToken("abc").AccessToken(ctx)
		assert.NoError(t, err)
		assert.Equal(t, "abc", tok)
	})

	t.Run("Func", func(t *testing.T) {
		p := TokenFunc(func(context.Context) (string, error) { return "", errors.New("signed out") })
		_, err := p.AccessToken(ctx)
		assert.EqualError(t, err, "signed out")
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))

		p := FileToken(path)
		tok, err := p.AccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "first", tok)

		require.NoError(t, os.WriteFile(path, []byte("refreshed"), 0o600))
		tok, err = p.AccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "refreshed", tok)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := FileToken(filepath.Join(t.TempDir(), "absent")).AccessToken(ctx)
		assert.ErrorContains(t, err, "read access token")
	})
}
