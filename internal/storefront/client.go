package storefront

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"urembo-be/internal/auth"
	"urembo-be/internal/logger"

	"go.uber.org/zap"
)

const cartPath = "/cart"

// Client calls the storefront's own API on behalf of the signed-in buyer.
type Client struct {
	baseURL    string
	tokens     auth.TokenProvider
	httpClient *http.Client
}

func NewClient(baseURL string, tokens auth.TokenProvider) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ClearCart empties the buyer's cart. A cart that is already gone counts
// as cleared.
func (c *Client) ClearCart(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+cartPath, nil)
	if err != nil {
		return fmt.Errorf("failed creating request: %w", err)
	}

	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to get access token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clear cart request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		logger.FromCtx(ctx).Debug("cart cleared", zap.Int("status", resp.StatusCode))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("clear cart returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
