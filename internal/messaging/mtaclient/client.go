package mtaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"
)

const (
	defaultBaseURL   = "https://api.mobile-text-alerts.com/v3"
	defaultUserAgent = "carscout-messaging/0.1"
	maxBackoff       = 5 * time.Second
)

// Config controls how the Mobile Text Alerts client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	LongcodeID string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client wraps the Mobile Text Alerts REST endpoints used for dealer SMS.
type Client struct {
	apiKey     string
	baseURL    string
	longcodeID string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("mtaclient: API key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 1 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		longcodeID: cfg.LongcodeID,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// SendMessage texts a single subscriber through the account longcode.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	longcodeID := req.LongcodeID
	if longcodeID == "" {
		longcodeID = c.longcodeID
	}
	body, err := json.Marshal(struct {
		Subscribers []string `json:"subscribers"`
		Message     string   `json:"message"`
		LongcodeID  string   `json:"longcodeId,omitempty"`
	}{
		Subscribers: []string{req.To},
		Message:     req.Body,
		LongcodeID:  longcodeID,
	})
	if err != nil {
		return nil, fmt.Errorf("mtaclient: marshal send body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/send", body)
	if err != nil {
		return nil, err
	}
	return decodeDataWrapper[SendMessageResponse](data)
}

// ListTemplates fetches the account's message templates.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	data, err := c.invoke(ctx, http.MethodGet, "/templates", nil)
	if err != nil {
		return nil, err
	}
	templates, err := decodeDataWrapper[[]Template](data)
	if err != nil {
		return nil, err
	}
	return *templates, nil
}

// RegisterWebhook points the message-reply webhook at the given URL so
// inbound dealer texts reach us.
func (c *Client) RegisterWebhook(ctx context.Context, req RegisterWebhookRequest) (*Webhook, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Event == "" {
		req.Event = EventMessageReply
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mtaclient: marshal webhook payload: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/webhooks", body)
	if err != nil {
		return nil, err
	}
	return decodeDataWrapper[Webhook](data)
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("mtaclient: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("mtaclient: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("mtaclient: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("mtaclient: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn("mta retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 && status <= 599 {
		return true
	}
	return false
}

type apiError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message,omitempty"`
	Error_     string `json:"error,omitempty"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mtaclient: %s (status=%d)", e.Message, e.StatusCode)
	}
	if e.Error_ != "" {
		return fmt.Sprintf("mtaclient: %s (status=%d)", e.Error_, e.StatusCode)
	}
	return fmt.Sprintf("mtaclient: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &apiError{StatusCode: status, Message: string(body)}
	}
	parsed.StatusCode = status
	return &parsed
}

func decodeDataWrapper[T any](body []byte) (*T, error) {
	var wrapper struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("mtaclient: decode response: %w", err)
	}
	return &wrapper.Data, nil
}
