// Package engine invokes the external AI review engine and accounts for its
// token usage.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// recursionLimit is the effectively unbounded step budget handed to every run.
const recursionLimit = 99999999

// Client speaks the engine's HTTP protocol: threads, runs, state readback,
// and the telemetry side-channel for token usage.
type Client struct {
	baseURL      string
	telemetryURL string
	httpClient   *http.Client
}

// NewClient creates an engine client. httpClient may be nil, in which case
// http.DefaultClient is used; per-call deadlines come from the context.
func NewClient(baseURL, telemetryURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:      trimSlash(baseURL),
		telemetryURL: trimSlash(telemetryURL),
		httpClient:   httpClient,
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// CreateThread opens a new conversation thread on the engine.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ThreadID string `json:"thread_id"`
	}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/threads", map[string]any{}, &out); err != nil {
		return "", err
	}
	if out.ThreadID == "" {
		return "", classify(errors.New("engine returned an empty thread id"))
	}
	return out.ThreadID, nil
}

// CreateRun starts a run of the given assistant against a thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string, input map[string]any) (string, error) {
	body := map[string]any{
		"assistant_id": assistantID,
		"input":        input,
		"config":       map[string]any{"recursion_limit": recursionLimit},
	}
	var out struct {
		RunID string `json:"run_id"`
	}
	url := fmt.Sprintf("%s/api/v1/threads/%s/runs", c.baseURL, threadID)
	if err := c.do(ctx, http.MethodPost, url, body, &out); err != nil {
		return "", err
	}
	if out.RunID == "" {
		return "", classify(errors.New("engine returned an empty run id"))
	}
	return out.RunID, nil
}

// JoinRun blocks until the run reaches a terminal state on the engine side.
func (c *Client) JoinRun(ctx context.Context, threadID, runID string) error {
	url := fmt.Sprintf("%s/api/v1/threads/%s/runs/%s/join", c.baseURL, threadID, runID)
	return c.do(ctx, http.MethodGet, url, nil, nil)
}

// ThreadState reads back a thread's final state values.
func (c *Client) ThreadState(ctx context.Context, threadID string) (json.RawMessage, error) {
	var out struct {
		Values json.RawMessage `json:"values"`
	}
	url := fmt.Sprintf("%s/api/v1/threads/%s/state", c.baseURL, threadID)
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

// RunUsage fetches token counts for a run from the telemetry side-channel.
// Callers treat failures as non-fatal.
func (c *Client) RunUsage(ctx context.Context, runID string) (input, output, total int, err error) {
	if c.telemetryURL == "" {
		return 0, 0, 0, errors.New("no telemetry endpoint configured")
	}
	var out struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}
	url := fmt.Sprintf("%s/api/v1/runs/%s", c.telemetryURL, runID)
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return 0, 0, 0, err
	}
	return out.PromptTokens, out.CompletionTokens, out.TotalTokens, nil
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode engine request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classify(fmt.Errorf("engine responded %d: %s", resp.StatusCode, bytes.TrimSpace(payload)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return classify(fmt.Errorf("failed to decode engine response: %w", err))
	}
	return nil
}
