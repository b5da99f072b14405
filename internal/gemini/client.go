package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/thinkscotty/dispatch/internal/httpx"
)

var (
	ErrGenerationUnavailable   = errors.New("generation unavailable")
	ErrUnexpectedResponseShape = errors.New("unexpected response shape")
	ErrEmptyGeneration         = errors.New("empty generation")
)

type Client struct {
	http     *httpx.Client
	endpoint string
	timeout  time.Duration
}

// NewClient creates a client for the generateContent endpoint. The API key is
// supplied per call.
func NewClient(hc *httpx.Client, endpoint string, timeout time.Duration) *Client {
	return &Client{
		http:     hc,
		endpoint: endpoint,
		timeout:  timeout,
	}
}

// Rewrite sends prompt to Gemini and returns the first candidate's text.
func (c *Client) Rewrite(ctx context.Context, prompt, apiKey string) (Generation, error) {
	reqBody := GenerateRequest{
		Contents: []Content{{
			Parts: []Part{{Text: prompt}},
		}},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Generation{}, fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint + "?key=" + apiKey
	slog.Info("Calling Gemini", "prompt_chars", len(prompt))

	resp, err := c.http.Do(ctx, c.timeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		msg := err.Error()
		if apiKey != "" {
			msg = strings.ReplaceAll(msg, apiKey, "REDACTED")
		}
		return Generation{}, fmt.Errorf("%w: gemini request failed: %s", ErrGenerationUnavailable, msg)
	}

	if !resp.OK() {
		return Generation{}, fmt.Errorf("%w: gemini returned status %d: %s",
			ErrGenerationUnavailable, resp.StatusCode, truncate(string(resp.Body), 300))
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(resp.Body, &genResp); err != nil {
		return Generation{}, fmt.Errorf("%w: parse gemini response: %v", ErrGenerationUnavailable, err)
	}

	text, err := extractResponseText(genResp)
	if err != nil {
		return Generation{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Generation{}, fmt.Errorf("%w: gemini returned blank text", ErrEmptyGeneration)
	}

	tokensUsed := 0
	if genResp.UsageMetadata != nil {
		tokensUsed = genResp.UsageMetadata.TotalTokenCount
	}

	slog.Info("Received generated text", "chars", len(text), "tokens", tokensUsed)
	return Generation{
		Text:       strings.TrimSpace(text),
		TokensUsed: tokensUsed,
		Model:      genResp.ModelVersion,
	}, nil
}

func extractResponseText(resp GenerateResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrUnexpectedResponseShape)
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return "", fmt.Errorf("%w: first candidate has no content parts (finish reason %q)",
			ErrUnexpectedResponseShape, resp.Candidates[0].FinishReason)
	}
	return content.Parts[0].Text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
