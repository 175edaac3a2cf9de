package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBody caps how much of a provider reply is kept in memory.
const maxResponseBody = 1 << 20

// HTTPInvoker executes provider requests over HTTP.
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker creates an invoker with a pooled transport. The timeout is
// the ceiling for any single call; callers narrow it through the context.
func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// NewHTTPInvokerWithClient wraps an existing client.
func NewHTTPInvokerWithClient(client *http.Client) *HTTPInvoker {
	return &HTTPInvoker{client: client}
}

// Invoke sends req and reads the whole response body.
func (i *HTTPInvoker) Invoke(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Latency:    time.Since(start),
	}
	if out.Success() {
		out.TokensIn, out.TokensOut = extractUsage(respBody)
	}
	return out, nil
}

// Close releases idle connections.
func (i *HTTPInvoker) Close() error {
	i.client.CloseIdleConnections()
	return nil
}

// extractUsage reads token counts from OpenAI, Anthropic or Workers AI replies.
func extractUsage(body []byte) (int, int) {
	var response struct {
		Usage *usageBlock `json:"usage"`
		// Workers AI nests the payload under result
		Result struct {
			Usage *usageBlock `json:"usage"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, 0
	}

	usage := response.Usage
	if usage == nil {
		usage = response.Result.Usage
	}
	if usage == nil {
		return 0, 0
	}

	in, out := usage.InputTokens, usage.OutputTokens
	if in == 0 {
		in = usage.PromptTokens
	}
	if out == 0 {
		out = usage.CompletionTokens
	}
	return in, out
}

type usageBlock struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
