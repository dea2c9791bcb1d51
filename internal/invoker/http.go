package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultInvokeTimeout   = 120 * time.Second
)

// HTTPConfig configures the HTTP invoker.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration // host-imposed bound per invocation; 0 means defaultInvokeTimeout
}

// HTTPInvoker calls a reasoning provider over HTTP. One POST per Invoke,
// bounded by the configured timeout; the response body must conform to the
// structured-output schema.
type HTTPInvoker struct {
	cfg       HTTPConfig
	client    *http.Client
	validator *OutputValidator
}

// NewHTTPInvoker creates an HTTPInvoker for the given provider endpoint.
func NewHTTPInvoker(cfg HTTPConfig) (*HTTPInvoker, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("invoker endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultInvokeTimeout
	}

	validator, err := NewOutputValidator()
	if err != nil {
		return nil, err
	}

	return &HTTPInvoker{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		validator: validator,
	}, nil
}

// Invoke performs one reasoning call. It never retries: any failure is
// classified and returned for the Step Runner's retry loop to handle.
func (h *HTTPInvoker) Invoke(ctx context.Context, req Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindProvider, Message: "marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindProvider, Message: "build request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBody))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "read response body", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewErrorf(KindProvider, "provider returned status %d: %s",
			resp.StatusCode, truncate(string(raw), 256))
	}

	if err := h.validator.Validate(raw); err != nil {
		return nil, err
	}

	return json.RawMessage(raw), nil
}

// classifyTransportError maps a transport failure to an ErrorKind.
func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "invocation deadline exceeded", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: "invocation timed out", Cause: err}
	}
	return &Error{Kind: KindNetwork, Message: err.Error(), Cause: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Invoker = (*HTTPInvoker)(nil)
