package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/apperrors"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/observer"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxErrorSnippet   = 512
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	Name          string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// HTTPClient talks to the provider's JSON REST API.
type HTTPClient struct {
	name    string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	tokens  *TokenCache
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client. tokens supplies the bearer credential for every call.
func NewHTTPClient(cfg HTTPConfig, tokens *TokenCache) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPClient{
		name:    strings.ToLower(cfg.Name),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		tokens:  tokens,
	}
}

// Name implements Client.
func (c *HTTPClient) Name() string { return c.name }

// SendSMS implements Client.
func (c *HTTPClient) SendSMS(ctx context.Context, req SendSMSRequest) (*SendSMSResult, error) {
	var out SendSMSResult
	if err := c.do(ctx, "send_sms", http.MethodPost, "/v1/messages", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceCall implements Client.
func (c *HTTPClient) PlaceCall(ctx context.Context, req PlaceCallRequest) (*PlaceCallResult, error) {
	var out PlaceCallResult
	if err := c.do(ctx, "place_call", http.MethodPost, "/v1/calls", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProvisionNumber implements Client.
func (c *HTTPClient) ProvisionNumber(ctx context.Context, req ProvisionNumberRequest) (*ProvisionNumberResult, error) {
	var out ProvisionNumberResult
	if err := c.do(ctx, "provision_number", http.MethodPost, "/v1/numbers", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReleaseNumber implements Client. A 404 means the number is already gone.
func (c *HTTPClient) ReleaseNumber(ctx context.Context, req ReleaseNumberRequest) error {
	path := "/v1/numbers/" + url.PathEscape(req.ResourceID)
	err := c.do(ctx, "release_number", http.MethodDelete, path, req.IdempotencyKey, nil, nil)
	if apperrors.IsNotFoundError(err) {
		logger.FromContext(ctx).Info("Number already released at provider", zap.String("resource_id", req.ResourceID))
		return nil
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, op, method, path, idempotencyKey string, in, out interface{}) error {
	start := time.Now()
	result := "success"
	defer func() {
		observer.ObserveProviderRequest(op, result, time.Since(start))
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		result = "rate_limited"
		return apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrRateLimited, err), "%s: wait for rate limiter", op)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		result = "auth_error"
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			result = "encode_error"
			return apperrors.NewFatal(err, "%s: encode request", op)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		result = "encode_error"
		return apperrors.NewFatal(err, "%s: build request", op)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		result = "network_error"
		return apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrProvider, err), "%s", op)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result = fmt.Sprintf("http_%d", resp.StatusCode)
		return classifyStatus(op, resp.StatusCode, readSnippet(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		result = "decode_error"
		// The side effect happened; a retry reuses the idempotency key.
		return apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrProvider, err), "%s: decode response", op)
	}
	return nil
}

// classifyStatus maps an HTTP failure to a retryable or fatal error.
// 401, 408, 429 and 5xx are retryable; 404 wraps ErrNotFound; other 4xx are fatal.
func classifyStatus(op string, status int, snippet string) error {
	base := fmt.Errorf("%w: %s returned %d: %s", apperrors.ErrProvider, op, status, snippet)
	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrRateLimited, base), "provider throttled")
	case status == http.StatusUnauthorized, status == http.StatusRequestTimeout, status >= 500:
		return apperrors.NewRetryable(base, "provider unavailable")
	case status == http.StatusNotFound:
		return apperrors.NewFatal(fmt.Errorf("%w: %w", apperrors.ErrNotFound, base), "provider rejected request")
	default:
		return apperrors.NewFatal(base, "provider rejected request")
	}
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorSnippet))
	return strings.TrimSpace(string(data))
}
