package nodes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/corallum/flowengine/flow"
)

// HTTPRequest executes an HTTP request against an external service.
//
// Parameters:
//   - url: target URL (required)
//   - method: HTTP method ("GET", "POST", "PUT", "PATCH", "DELETE";
//     defaults to "GET")
//   - headers: optional map of request headers
//   - body: optional request body string
//
// Output:
//   - status_code: HTTP status code
//   - headers: response headers
//   - body: response body as string
//
// Non-2xx responses are errors, so the reliability manager can retry
// 5xx-class failures and error edges can route the rest.
type HTTPRequest struct {
	client *http.Client
}

// NewHTTPRequest creates the executor with a default client. Per-call
// deadlines come from the engine's node timeout via context.
func NewHTTPRequest() *HTTPRequest {
	return &HTTPRequest{client: &http.Client{}}
}

// Describe implements flow.Describer.
func (*HTTPRequest) Describe() flow.Descriptor {
	return flow.Descriptor{
		DisplayName: "HTTP Request",
		Description: "Calls an HTTP endpoint and returns status, headers and body.",
	}
}

var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Execute implements flow.Executor.
func (h *HTTPRequest) Execute(ctx context.Context, nc flow.NodeContext) (map[string]any, error) {
	urlStr, ok := nc.Parameters["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := http.MethodGet
	if m, ok := nc.Parameters["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if !supportedMethods[method] {
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	var body io.Reader
	if bodyStr, ok := nc.Parameters["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if headers, ok := nc.Parameters["headers"].(map[string]any); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	respHeaders := make(map[string]any)
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("request to %s returned %d", urlStr, resp.StatusCode)
	}
	return result, nil
}
