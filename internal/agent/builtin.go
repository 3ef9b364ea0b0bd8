package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// EchoExecutor returns its params verbatim as output. It exists for local
// development and for exercising the orchestration core's plumbing without
// a real agent backend.
type EchoExecutor struct{}

// NewEchoExecutor creates an executor that echoes its input.
func NewEchoExecutor() *EchoExecutor {
	return &EchoExecutor{}
}

// Execute returns params under the "echo" key.
func (e *EchoExecutor) Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return map[string]interface{}{"echo": params}, nil
}

// DelayExecutor sleeps for a configured duration before returning, useful
// for exercising timeout and cancellation paths in tests.
type DelayExecutor struct{}

// NewDelayExecutor creates a delay executor.
func NewDelayExecutor() *DelayExecutor {
	return &DelayExecutor{}
}

// Execute sleeps for params["duration"] (a duration string or number of
// seconds) before returning.
func (e *DelayExecutor) Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	duration, err := parseDuration(params["duration"])
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"completed":   true,
	}, nil
}

// ErrorExecutor always fails, optionally after a delay. It exists to drive
// retry and failure-propagation tests deterministically.
type ErrorExecutor struct{}

// NewErrorExecutor creates an error executor.
func NewErrorExecutor() *ErrorExecutor {
	return &ErrorExecutor{}
}

// Execute fails with params["message"], or a default message.
func (e *ErrorExecutor) Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	message := "simulated error"
	if m, ok := params["message"].(string); ok && m != "" {
		message = m
	}

	if delayValue, ok := params["delay"]; ok {
		if delay, err := parseDuration(delayValue); err == nil && delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return nil, errors.New(message)
}

// HTTPExecutor issues an HTTP request described by params and returns the
// response status code and decoded body, along with the request URL and
// method. Response headers are not included in the output.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an HTTP executor with the given client, or a
// client with a 30s timeout if client is nil.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client}
}

// Execute performs the HTTP request described by params["url"],
// params["method"], params["headers"], and params["body"].
func (e *HTTPExecutor) Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return nil, errors.New("missing required field: url")
	}
	method, _ := params["method"].(string)
	if method == "" {
		return nil, errors.New("missing required field: method")
	}
	headers, _ := params["headers"].(map[string]interface{})
	body, _ := params["body"].(string)

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		if strValue, ok := value.(string); ok {
			req.Header.Set(key, strValue)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded interface{}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		decoded = string(respBody)
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        decoded,
		"url":         url,
		"method":      method,
	}, nil
}

func parseDuration(v interface{}) (time.Duration, error) {
	switch value := v.(type) {
	case string:
		return time.ParseDuration(value)
	case float64:
		return time.Duration(value * float64(time.Second)), nil
	case int:
		return time.Duration(value) * time.Second, nil
	default:
		return 0, errors.New("duration must be a string or number")
	}
}

// RegisterBuiltins adds the echo/delay/error/http executors under agent
// type "builtin", one per action, to the given registry. Callers needing
// only production agent backends can skip this and register their own.
func RegisterBuiltins(reg *Registry) {
	reg.Register("builtin", "echo", NewEchoExecutor())
	reg.Register("builtin", "delay", NewDelayExecutor())
	reg.Register("builtin", "error", NewErrorExecutor())
	reg.Register("builtin", "http_request", NewHTTPExecutor(nil))
}
