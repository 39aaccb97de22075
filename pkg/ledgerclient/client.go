/**
 * @description
 * This package provides a client for the external crypto ledger API.
 * It encapsulates authenticated HTTP requests for broadcasting transfers, looking up
 * confirmations for a reference, and fetching address balances.
 *
 * @notes
 * - Every call may fail. Failures are returned as typed errors and never retried here;
 *   retry policy belongs to the reconciliation scheduler.
 * - Each call is bounded by the HTTP client timeout and, when configured, paced by a
 *   token-bucket limiter so a reconciliation tick cannot flood the ledger.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact amounts on the wire.
 * - golang.org/x/time/rate: client-side request pacing.
 * - go.uber.org/zap: structured warnings for non-2xx responses.
 */
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrNotConfigured     = errors.New("ledger client is not configured")
	ErrTimeout           = errors.New("ledger request timed out")
	ErrMalformedResponse = errors.New("malformed ledger response")
)

// Client is a client for the ledger API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Logger     *zap.Logger
}

// NewClient creates a new ledger API client with a bounded per-call timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Logger: logger.With(zap.String("component", "ledger_client")),
	}
}

// SetRateLimit paces outgoing calls. A non-positive rate disables pacing.
func (c *Client) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		c.Limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	c.Limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// BroadcastResult is the outcome of a successful broadcast.
type BroadcastResult struct {
	Reference string
	Pending   bool
}

// StatusResult is the ledger's view of a broadcast transaction.
type StatusResult struct {
	Confirmations int64
	RawStatus     string
}

type broadcastRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			From   string          `json:"from"`
			To     string          `json:"to"`
			Amount decimal.Decimal `json:"amount"`
		} `json:"attributes"`
	} `json:"data"`
}

type transactionResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status        string `json:"status"`
			Confirmations int64  `json:"confirmations"`
		} `json:"attributes"`
	} `json:"data"`
}

type balanceResponse struct {
	Data struct {
		Attributes struct {
			Balance decimal.Decimal `json:"balance"`
		} `json:"attributes"`
	} `json:"data"`
}

// APIError represents a non-2xx response from the ledger API.
type APIError struct {
	StatusCode int `json:"-"`
	Errors     []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("ledger api error (status %d): %s - %s", e.StatusCode, e.Errors[0].Title, e.Errors[0].Detail)
	}
	return fmt.Sprintf("ledger api error (status %d)", e.StatusCode)
}

// Broadcast submits a transfer to the ledger and returns the ledger's reference.
func (c *Client) Broadcast(ctx context.Context, currency, from, to string, amount decimal.Decimal) (*BroadcastResult, error) {
	payload := broadcastRequest{}
	payload.Data.Type = "Transaction"
	payload.Data.Attributes.From = from
	payload.Data.Attributes.To = to
	payload.Data.Attributes.Amount = amount

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal broadcast request: %w", err)
	}

	var resp transactionResponse
	if err := c.do(ctx, "broadcast", http.MethodPost, "/v1/"+url.PathEscape(currency)+"/transactions", body, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Data.ID) == "" {
		return nil, fmt.Errorf("%w: broadcast response has no transaction id", ErrMalformedResponse)
	}

	status := strings.ToLower(resp.Data.Attributes.Status)
	return &BroadcastResult{
		Reference: resp.Data.ID,
		Pending:   status == "" || status == "pending" || status == "submitted",
	}, nil
}

// Status fetches the confirmation count for a ledger reference.
func (c *Client) Status(ctx context.Context, currency, reference string) (*StatusResult, error) {
	path := "/v1/" + url.PathEscape(currency) + "/transactions/" + url.PathEscape(reference)

	var resp transactionResponse
	if err := c.do(ctx, "status", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Attributes.Confirmations < 0 {
		return nil, fmt.Errorf("%w: negative confirmation count %d", ErrMalformedResponse, resp.Data.Attributes.Confirmations)
	}

	return &StatusResult{
		Confirmations: resp.Data.Attributes.Confirmations,
		RawStatus:     resp.Data.Attributes.Status,
	}, nil
}

// Balance fetches the on-ledger balance of an address.
func (c *Client) Balance(ctx context.Context, currency, address string) (decimal.Decimal, error) {
	path := "/v1/" + url.PathEscape(currency) + "/addresses/" + url.PathEscape(address) + "/balance"

	var resp balanceResponse
	if err := c.do(ctx, "balance", http.MethodGet, path, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Data.Attributes.Balance, nil
}

// do is the shared request helper. It authenticates, paces, executes and decodes.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out interface{}) error {
	if c.BaseURL == "" {
		return ErrNotConfigured
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ledger %s: rate limiter wait: %w", op, err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("ledger %s: %w: %w", op, ErrTimeout, err)
		}
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("ledger %s: %w: %w", op, ErrTimeout, err)
		}
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, apiErr); err != nil {
			c.logger().Warn("non-2xx response (unparsable error body)",
				zap.String("op", op),
				zap.Int("status", resp.StatusCode),
			)
			return apiErr
		}
		c.logger().Warn("non-2xx response",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("title", firstErrorTitle(apiErr)),
			zap.String("detail", firstErrorDetail(apiErr)),
		)
		return apiErr
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrMalformedResponse, op, err)
	}
	return nil
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func firstErrorTitle(e *APIError) string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Title
}

func firstErrorDetail(e *APIError) string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Detail
}
