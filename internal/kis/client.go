package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"kis-quote-gateway/internal/logger"
	"kis-quote-gateway/internal/metrics"
)

const retryBackoffStep = 200 * time.Millisecond

// ClientConfig carries everything the REST client needs to reach KIS.
type ClientConfig struct {
	BaseURL              string
	AppKey               string
	AppSecret            string
	Timeout              time.Duration
	MaxRequestsPerSecond int
	Retries              int
}

// Client wraps outbound calls to the KIS REST API with standard headers,
// a sliding-window rate limiter, and bounded retry.
type Client struct {
	cfg     ClientConfig
	limiter *rateLimiter
	token   *credentialCache

	httpMu     sync.Mutex
	httpClient *http.Client

	sleep func(context.Context, time.Duration) error
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		cfg:     cfg,
		limiter: newRateLimiter(cfg.MaxRequestsPerSecond),
		sleep:   sleepCtx,
	}
	c.token = newCredentialCache(c.issueAccessToken)
	return c
}

// http returns the shared lazily-created HTTP client.
func (c *Client) http() *http.Client {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.cfg.Timeout}
	}
	return c.httpClient
}

// Close releases the underlying connections.
func (c *Client) Close() {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		c.httpClient = nil
	}
}

// AccessToken returns a valid bearer token, issuing or refreshing one
// when needed.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.token.get(ctx)
}

// issueAccessToken calls the KIS token endpoint and returns the token and
// its validity window.
func (c *Client) issueAccessToken(ctx context.Context) (string, time.Duration, error) {
	if c.cfg.AppKey == "" || c.cfg.AppSecret == "" {
		return "", 0, &ConfigError{Message: "app key/secret not configured"}
	}

	payload := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"appsecret":  c.cfg.AppSecret,
	}
	data, err := c.postJSON(ctx, "/oauth2/tokenP", payload)
	if err != nil {
		return "", 0, err
	}

	token, _ := data["access_token"].(string)
	expiresIn, ok := asFloat(data["expires_in"])
	if token == "" || !ok {
		return "", 0, newAPIError(http.StatusBadGateway, "token response missing fields")
	}

	logger.Info(ctx, "KIS access token issued", "expires_in", int(expiresIn))
	return token, time.Duration(expiresIn) * time.Second, nil
}

// postJSON issues a bare POST without auth headers, used by the token and
// approval-key issuance flows.
func (c *Client) postJSON(ctx context.Context, path string, payload any) (map[string]any, error) {
	if c.cfg.BaseURL == "" {
		return nil, &ConfigError{Message: "base URL not configured"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	reqURL := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http().Do(req)
	if err != nil {
		return nil, newAPIError(http.StatusBadGateway, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newAPIError(http.StatusBadGateway, fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode >= 400 {
		return nil, upstreamError(resp.StatusCode, raw)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, newAPIError(http.StatusBadGateway, "response is not JSON")
	}
	return data, nil
}

// Request calls a KIS REST endpoint with the standard headers, a
// rate-limit slot, and bounded retry for transient failures. Retries are
// attempted only for network errors and upstream 408/429/5xx, each after
// a linear 200ms*attempt backoff.
func (c *Client) Request(ctx context.Context, method, path, trID string, params url.Values, body any) (map[string]any, error) {
	if c.cfg.BaseURL == "" {
		return nil, &ConfigError{Message: "base URL not configured"}
	}

	retries := c.cfg.Retries
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			metrics.UpstreamRetries.Inc()
			if err := c.sleep(ctx, retryBackoffStep*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}

		data, err := c.doRequest(ctx, method, path, trID, params, body)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if attempt < retries && isRetriable(err) {
			logger.Warn(ctx, "KIS request retrying", "tr_id", trID, "attempt", attempt+1, "error", err)
			continue
		}
		break
	}
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, method, path, trID string, params url.Values, body any) (map[string]any, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	reqURL := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("appsecret", c.cfg.AppSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http().Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(trID, "error").Inc()
		return nil, newAPIError(http.StatusBadGateway, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()
	metrics.UpstreamLatency.WithLabelValues(trID).Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(trID, "error").Inc()
		return nil, newAPIError(http.StatusBadGateway, fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode >= 400 {
		metrics.UpstreamRequests.WithLabelValues(trID, "http_error").Inc()
		return nil, upstreamError(resp.StatusCode, raw)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		metrics.UpstreamRequests.WithLabelValues(trID, "bad_body").Inc()
		return nil, newAPIError(http.StatusBadGateway, "response is not JSON")
	}

	metrics.UpstreamRequests.WithLabelValues(trID, "ok").Inc()
	return data, nil
}

// upstreamError builds an APIError from a non-2xx response, lifting
// msg_cd/msg1 out of JSON bodies when present.
func upstreamError(status int, raw []byte) *APIError {
	apiErr := &APIError{Status: status, Message: fmt.Sprintf("HTTP %d", status)}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apiErr
	}
	if msg, _ := payload["msg1"].(string); msg != "" {
		apiErr.Message = fmt.Sprintf("HTTP %d: %s", status, strings.TrimSpace(msg))
	}
	if code, _ := payload["msg_cd"].(string); code != "" {
		apiErr.Code = code
	}
	return apiErr
}

// EnsureOK validates the KIS business success code. A present rt_cd other
// than "0" means the call failed even though HTTP succeeded.
func EnsureOK(data map[string]any) error {
	rtCd, ok := data["rt_cd"]
	if !ok {
		return nil
	}
	if fmt.Sprintf("%v", rtCd) == "0" {
		return nil
	}

	msg, _ := data["msg1"].(string)
	if msg == "" {
		msg = "KIS API error"
	}
	code, _ := data["msg_cd"].(string)
	return &APIError{Status: http.StatusOK, Code: code, Message: msg}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
