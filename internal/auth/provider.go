package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TokenProvider supplies the bearer token for outgoing API calls. It is
// passed to every client that makes authenticated requests.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken always returns the same token; empty means anonymous.
type StaticToken string

func (t StaticToken) AccessToken(context.Context) (string, error) {
	return string(t), nil
}

// FileToken reads the token from path on every call, so a token refreshed
// on disk by another process is picked up without a restart.
func FileToken(path string) TokenProvider {
	return TokenFunc(func(context.Context) (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read access token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	})
}
