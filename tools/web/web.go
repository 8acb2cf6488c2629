// Package web fetches URLs and extracts readable text as a drover tool.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/evrane/drover"
)

const (
	maxBodyBytes    = 1 << 20 // 1MB
	maxContentChars = 8000
)

// Tool fetches URLs and extracts readable content.
type Tool struct {
	client *http.Client
}

// Option configures the web tool.
type Option func(*Tool)

// WithHTTPClient replaces the default client (15s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// New creates a web tool with a 15-second timeout.
func New(opts ...Option) *Tool {
	t := &Tool{client: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ drover.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []drover.ToolDefinition {
	return []drover.ToolDefinition{{
		Name:        "web_fetch",
		Description: "Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (drover.ToolResult, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return drover.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.URL == "" {
		return drover.ToolResult{Error: "url is required"}, nil
	}

	content, err := t.Fetch(ctx, params.URL)
	if err != nil {
		return drover.ToolResult{Error: err.Error()}, nil
	}
	if len(content) > maxContentChars {
		content = content[:maxContentChars] + "\n... (truncated)"
	}
	return drover.ToolResult{Content: content}, nil
}

// Fetch downloads a URL and extracts readable text. Exported for use
// outside the tool surface.
func (t *Tool) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; DroverBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}
	html := string(body)

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}

	// Fallback for pages readability cannot parse.
	return stripHTML(html), nil
}

// stripHTML removes tags and collapses whitespace, skipping script and
// style bodies.
func stripHTML(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	skipUntil := ""
	for i := 0; i < len(content); {
		if skipUntil != "" {
			end := strings.Index(strings.ToLower(content[i:]), skipUntil)
			if end < 0 {
				break
			}
			i += end + len(skipUntil)
			skipUntil = ""
			continue
		}
		if content[i] == '<' {
			close := strings.IndexByte(content[i:], '>')
			if close < 0 {
				break
			}
			tag := strings.ToLower(content[i+1 : i+close])
			if strings.HasPrefix(tag, "script") {
				skipUntil = "</script>"
			} else if strings.HasPrefix(tag, "style") {
				skipUntil = "</style>"
			}
			out.WriteByte(' ')
			i += close + 1
			continue
		}
		out.WriteByte(content[i])
		i++
	}
	return strings.TrimSpace(strings.Join(strings.Fields(out.String()), " "))
}
