package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"urembo-be/internal/logger"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	oauthPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	TransactionType  = "CustomerPayBillOnline"
	PendingErrorCode = "500.001.1001"

	timestampLayout = "20060102150405"
	tokenLeeway     = 60 * time.Second
)

// BaseURLFor returns the Daraja host for an M-Pesa environment.
func BaseURLFor(environment string) string {
	if environment == "production" {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

// Client calls Safaricom's Daraja API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	nairobi    *time.Location
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		logger.L().Warn("Daraja consumer credentials are empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		logger.L().Error("failed to load Nairobi location, using fixed EAT offset", zap.Error(err))
		loc = time.FixedZone("EAT", 3*60*60)
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "daraja",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, ErrUpstreamUnavailable)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.L().Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		nairobi: loc,
		now:     time.Now,
	}
}

// Timestamp is the Daraja request timestamp in Nairobi time.
func (c *Client) Timestamp() string {
	return c.now().In(c.nairobi).Format(timestampLayout)
}

// Password is base64(shortcode + passkey + timestamp).
func (c *Client) Password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

// AccessToken returns a cached OAuth token, fetching a new one shortly
// before the current one expires.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+oauthPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed creating request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	status, body, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", apiError(status, body, "failed to obtain access token")
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", &APIError{Kind: ErrUpstreamUnavailable, StatusCode: status, Message: "invalid token response", Err: err}
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(strings.Trim(string(tr.ExpiresIn), `"`)); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}

	c.token = tr.AccessToken
	c.expiresAt = c.now().Add(ttl - tokenLeeway)
	return c.token, nil
}

// call sends an authenticated JSON POST through the circuit breaker.
// handle sees every response and decides what counts as an error.
func (c *Client) call(ctx context.Context, path string, payload any, handle func(status int, body []byte) error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		token, err := c.AccessToken(ctx)
		if err != nil {
			return nil, err
		}

		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("failed creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		status, body, err := c.do(req)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			c.invalidateToken()
		}
		return nil, handle(status, body)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &APIError{Kind: ErrUpstreamUnavailable, Message: "circuit open", Err: err}
	}
	return err
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &APIError{Kind: ErrUpstreamUnavailable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &APIError{Kind: ErrUpstreamUnavailable, StatusCode: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, body, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func apiError(status int, body []byte, fallback string) *APIError {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.ErrorMessage
	if msg == "" {
		msg = fallback
	}
	return &APIError{Kind: statusKind(status), StatusCode: status, Code: eb.ErrorCode, Message: msg}
}
