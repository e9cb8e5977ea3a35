// Package kis implements the gateway to the Korea Investment & Securities
// Open API: token lifecycle, rate-limited REST access, response
// normalization, intraday series reconstruction, and the real-time
// WebSocket price feed.
package kis

import (
	"errors"
	"fmt"
	"net/http"
)

// ConfigError reports missing credentials or base URLs. It is fatal and
// never retried.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "kis: " + e.Message
}

// APIError is the structured error for all upstream failures: HTTP
// errors, non-"0" business responses, and malformed bodies. Status keeps
// the upstream (or synthesized) HTTP status code, Code the KIS msg_cd
// when one was present.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("kis: %s (status=%d code=%s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("kis: %s (status=%d)", e.Message, e.Status)
}

func newAPIError(status int, message string) *APIError {
	return &APIError{Status: status, Message: message}
}

// isRetriable reports whether err may succeed on another attempt:
// transport-level failures always, upstream errors only for 408, 429 and
// 5xx. Configuration errors and business 4xx errors propagate
// immediately.
func isRetriable(err error) bool {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusRequestTimeout ||
			apiErr.Status == http.StatusTooManyRequests ||
			apiErr.Status >= 500
	}
	return err != nil
}

// StatusOf extracts the upstream status code for surfacing to consumers.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return http.StatusBadGateway
}
