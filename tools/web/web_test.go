package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const articleHTML = `<!DOCTYPE html>
<html><head><title>Test Article</title><style>body { color: red }</style></head>
<body><article>
<h1>Test Article</h1>
<p>This is the first paragraph of the article with enough text to matter.</p>
<p>This is the second paragraph carrying the actual substance of the page.</p>
</article>
<script>console.log("noise")</script>
</body></html>`

func TestWebFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	tool := New()
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	result, err := tool.Execute(context.Background(), "web_fetch", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if !strings.Contains(result.Content, "first paragraph") {
		t.Errorf("expected article text, got: %q", result.Content)
	}
	if strings.Contains(result.Content, "console.log") {
		t.Errorf("script content leaked into output: %q", result.Content)
	}
}

func TestWebFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tool := New()
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	result, _ := tool.Execute(context.Background(), "web_fetch", args)
	if result.Error == "" {
		t.Error("expected HTTP error")
	}
	if !strings.Contains(result.Error, "404") {
		t.Errorf("expected 404 in error, got: %s", result.Error)
	}
}

func TestWebFetchMissingURL(t *testing.T) {
	tool := New()
	result, _ := tool.Execute(context.Background(), "web_fetch", json.RawMessage(`{}`))
	if result.Error == "" {
		t.Error("expected error for missing url")
	}
}

func TestWebFetchTruncation(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor sit amet ", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><article><p>" + long + "</p></article></body></html>"))
	}))
	defer srv.Close()

	tool := New()
	args, _ := json.Marshal(map[string]string{"url": srv.URL})
	result, _ := tool.Execute(context.Background(), "web_fetch", args)
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if len(result.Content) > maxContentChars+100 {
		t.Errorf("content not truncated: %d chars", len(result.Content))
	}
}

func TestStripHTML(t *testing.T) {
	got := stripHTML(`<p>hello <b>world</b></p><script>bad()</script><style>p{}</style> done`)
	if got != "hello world done" {
		t.Errorf("stripHTML = %q, want %q", got, "hello world done")
	}
}
