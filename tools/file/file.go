// Package file provides workspace-scoped file operations as a drover tool.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evrane/drover"
)

const maxReadChars = 8000

// Tool provides file read/write/list/delete/stat within a sandboxed
// workspace. Paths are relative to the workspace root; traversal outside it
// is rejected.
type Tool struct {
	workspacePath string
}

// New creates a file tool restricted to workspacePath.
func New(workspacePath string) *Tool {
	return &Tool{workspacePath: workspacePath}
}

var _ drover.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []drover.ToolDefinition {
	return []drover.ToolDefinition{
		{
			Name:        "file_read",
			Description: "Read a file from the workspace. Returns the file content (truncated to 8000 chars if large).",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"}},"required":["path"]}`),
		},
		{
			Name:        "file_write",
			Description: "Write content to a file in the workspace. Creates parent directories if needed.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`),
		},
		{
			Name:        "file_list",
			Description: "List a workspace directory. Each line is 'file<TAB>name' or 'dir<TAB>name'. Empty path lists the workspace root.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory path relative to workspace (default: workspace root)"}}}`),
		},
		{
			Name:        "file_delete",
			Description: "Delete a file or empty directory in the workspace.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Path relative to workspace"}},"required":["path"]}`),
		},
		{
			Name:        "file_stat",
			Description: "Return metadata for a workspace path as JSON: name, type (file/directory), size, modified.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Path relative to workspace"}},"required":["path"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (drover.ToolResult, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return drover.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	resolved, err := t.resolvePath(params.Path)
	if err != nil {
		return drover.ToolResult{Error: err.Error()}, nil
	}

	switch name {
	case "file_read":
		return t.read(resolved)
	case "file_write":
		return t.write(resolved, params.Content)
	case "file_list":
		return t.list(resolved)
	case "file_delete":
		return t.delete(resolved)
	case "file_stat":
		return t.stat(resolved)
	default:
		return drover.ToolResult{Error: "unknown file tool: " + name}, nil
	}
}

func (t *Tool) resolvePath(path string) (string, error) {
	if path == "" || path == "." {
		return t.workspacePath, nil
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	resolved := filepath.Join(t.workspacePath, path)
	if !strings.HasPrefix(resolved, t.workspacePath) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

func (t *Tool) read(path string) (drover.ToolResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return drover.ToolResult{Error: "read error: " + err.Error()}, nil
	}
	content := string(data)
	if len(content) > maxReadChars {
		content = content[:maxReadChars] + "\n... (truncated)"
	}
	return drover.ToolResult{Content: content}, nil
}

func (t *Tool) write(path, content string) (drover.ToolResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return drover.ToolResult{Error: "mkdir error: " + err.Error()}, nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return drover.ToolResult{Error: "write error: " + err.Error()}, nil
	}
	return drover.ToolResult{Content: fmt.Sprintf("Written %d bytes to %s", len(content), filepath.Base(path))}, nil
}

func (t *Tool) list(path string) (drover.ToolResult, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return drover.ToolResult{Error: "list error: " + err.Error()}, nil
	}
	var sb strings.Builder
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		fmt.Fprintf(&sb, "%s\t%s\n", kind, e.Name())
	}
	return drover.ToolResult{Content: sb.String()}, nil
}

func (t *Tool) delete(path string) (drover.ToolResult, error) {
	if path == t.workspacePath {
		return drover.ToolResult{Error: "cannot delete workspace root"}, nil
	}
	if _, err := os.Stat(path); err != nil {
		return drover.ToolResult{Error: "delete error: " + err.Error()}, nil
	}
	// os.Remove refuses non-empty directories; recursive deletes stay with
	// the shell tool where the blocklist applies.
	if err := os.Remove(path); err != nil {
		return drover.ToolResult{Error: "delete error: " + err.Error()}, nil
	}
	return drover.ToolResult{Content: "deleted " + filepath.Base(path)}, nil
}

func (t *Tool) stat(path string) (drover.ToolResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return drover.ToolResult{Error: "stat error: " + err.Error()}, nil
	}
	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	out, err := json.Marshal(map[string]any{
		"name":     info.Name(),
		"type":     kind,
		"size":     info.Size(),
		"modified": info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
	})
	if err != nil {
		return drover.ToolResult{Error: "stat error: " + err.Error()}, nil
	}
	return drover.ToolResult{Content: string(out)}, nil
}
