// Package document extracts text from PDF documents in the workspace as a
// drover tool. It uses ledongthuc/pdf (pure Go, no CGO).
package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/evrane/drover"
)

const maxExtractChars = 16000

// Tool extracts text from PDFs under a workspace directory.
type Tool struct {
	workspacePath string
}

// New creates a document tool restricted to workspacePath.
func New(workspacePath string) *Tool {
	return &Tool{workspacePath: workspacePath}
}

var _ drover.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []drover.ToolDefinition {
	return []drover.ToolDefinition{{
		Name:        "pdf_extract",
		Description: "Extract plain text from a PDF file in the workspace. Optionally limit to a page range.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"PDF path relative to workspace"},"first_page":{"type":"integer","description":"First page to extract (1-based, default 1)"},"last_page":{"type":"integer","description":"Last page to extract (default: final page)"}},"required":["path"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (drover.ToolResult, error) {
	var params struct {
		Path      string `json:"path"`
		FirstPage int    `json:"first_page"`
		LastPage  int    `json:"last_page"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return drover.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Path == "" {
		return drover.ToolResult{Error: "path is required"}, nil
	}
	if filepath.IsAbs(params.Path) || strings.Contains(params.Path, "..") {
		return drover.ToolResult{Error: "path must be relative to workspace: " + params.Path}, nil
	}

	content, err := os.ReadFile(filepath.Join(t.workspacePath, params.Path))
	if err != nil {
		return drover.ToolResult{Error: "read error: " + err.Error()}, nil
	}

	text, pages, err := Extract(content, params.FirstPage, params.LastPage)
	if err != nil {
		return drover.ToolResult{Error: err.Error()}, nil
	}
	if text == "" {
		return drover.ToolResult{Content: fmt.Sprintf("(no extractable text in %d pages)", pages)}, nil
	}
	if len(text) > maxExtractChars {
		text = text[:maxExtractChars] + "\n... (truncated)"
	}
	return drover.ToolResult{Content: text}, nil
}

// Extract pulls plain text from PDF bytes, limited to the 1-based page range
// [firstPage, lastPage]. Zero bounds mean the whole document. Returns the
// text and the document's page count. Unreadable pages are skipped.
func Extract(content []byte, firstPage, lastPage int) (string, int, error) {
	if len(content) == 0 {
		return "", 0, fmt.Errorf("empty PDF content")
	}

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}

	total := r.NumPage()
	if firstPage < 1 {
		firstPage = 1
	}
	if lastPage < 1 || lastPage > total {
		lastPage = total
	}

	var text strings.Builder
	for i := firstPage; i <= lastPage; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}

	return strings.TrimSpace(text.String()), total, nil
}
