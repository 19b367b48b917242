// Package provider is the HTTP client for the SMS provider's REST API.
//
// It is the only component that talks to the remote service; everything
// past this boundary works with the explicit Message struct.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds provider credentials and addressing.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string // e.g. https://api.twilio.com/2010-04-01
	FromNumber string // the account's own number
}

// Client calls the provider REST API with basic-auth credentials.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a provider client. Errors from it are transient
// remote failures: callers surface them and retry, not swallow.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// ListMessages fetches the most recent messages in one direction.
// Inbound messages are those addressed to the account's number,
// outbound those sent from it. limit <= 0 falls back to 50.
func (c *Client) ListMessages(ctx context.Context, direction Direction, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("PageSize", strconv.Itoa(limit))
	if direction == DirectionInbound {
		q.Set("To", c.cfg.FromNumber)
	} else {
		q.Set("From", c.cfg.FromNumber)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json?%s",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.AccountSID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("list messages", resp)
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}

	out := make([]Message, 0, len(body.Messages))
	for i := range body.Messages {
		out = append(out, body.Messages[i].toMessage())
	}
	c.logger.Debug("listed provider messages",
		zap.String("direction", string(direction)), zap.Int("count", len(out)))
	return out, nil
}

// SendMessage submits an SMS and returns the provider-assigned id.
func (c *Client) SendMessage(ctx context.Context, to, body string) (string, error) {
	form := url.Values{}
	form.Set("From", c.cfg.FromNumber)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.AccountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", apiError("send message", resp)
	}

	var sent sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if sent.SID == "" {
		return "", fmt.Errorf("send message: provider returned no message id")
	}
	return sent.SID, nil
}

func apiError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e errorResponse
	if json.Unmarshal(data, &e) == nil && e.Message != "" {
		return fmt.Errorf("%s: provider status %d: %s (code %d)", op, resp.StatusCode, e.Message, e.Code)
	}
	return fmt.Errorf("%s: provider status %d", op, resp.StatusCode)
}
