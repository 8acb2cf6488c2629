package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evrane/drover"
)

// call runs one file operation and fails the test on transport-level errors;
// tool-level failures come back in the result's Error field.
func call(t *testing.T, tool *Tool, op string, args map[string]string) drover.ToolResult {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	res, err := tool.Execute(context.Background(), op, raw)
	if err != nil {
		t.Fatalf("%s returned a hard error: %v", op, err)
	}
	return res
}

func seed(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWriteThenReadBack(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)

	res := call(t, tool, "file_write", map[string]string{"path": "notes/report.md", "content": "# findings"})
	if res.Error != "" {
		t.Fatalf("write failed: %s", res.Error)
	}
	// The write receipt names the file and the byte count.
	if !strings.Contains(res.Content, "10 bytes") || !strings.Contains(res.Content, "report.md") {
		t.Errorf("write receipt %q", res.Content)
	}

	res = call(t, tool, "file_read", map[string]string{"path": "notes/report.md"})
	if res.Error != "" || res.Content != "# findings" {
		t.Errorf("read back %q (error %q)", res.Content, res.Error)
	}
}

func TestWriteReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	seed(t, dir, "state.json", `{"v":1}`)

	if res := call(t, tool, "file_write", map[string]string{"path": "state.json", "content": `{"v":2}`}); res.Error != "" {
		t.Fatalf("overwrite failed: %s", res.Error)
	}
	data, err := os.ReadFile(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"v":2}` {
		t.Errorf("on disk: %s", data)
	}
}

func TestReadTruncatesLargeFiles(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	seed(t, dir, "dump.log", strings.Repeat("x", maxReadChars+500))

	res := call(t, tool, "file_read", map[string]string{"path": "dump.log"})
	if res.Error != "" {
		t.Fatal(res.Error)
	}
	if !strings.HasSuffix(res.Content, "... (truncated)") {
		t.Error("oversized read should carry the truncation marker")
	}
	if got := len(res.Content); got > maxReadChars+20 {
		t.Errorf("returned %d chars, cap is %d plus the marker", got, maxReadChars)
	}
}

func TestReadExactlyAtCapIsUntouched(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	seed(t, dir, "edge.txt", strings.Repeat("y", maxReadChars))

	res := call(t, tool, "file_read", map[string]string{"path": "edge.txt"})
	if strings.Contains(res.Content, "truncated") {
		t.Error("a file at the cap must come back whole")
	}
	if len(res.Content) != maxReadChars {
		t.Errorf("got %d chars", len(res.Content))
	}
}

func TestPathValidation(t *testing.T) {
	tool := New(t.TempDir())

	tests := []struct {
		name string
		path string
		want string
	}{
		{"absolute", "/etc/hostname", "absolute paths not allowed"},
		{"dotdot traversal", "../sibling/secret", "path traversal not allowed"},
		{"embedded dotdot", "a/../../b", "path traversal not allowed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := call(t, tool, "file_read", map[string]string{"path": tc.path})
			if !strings.Contains(res.Error, tc.want) {
				t.Errorf("error %q, want substring %q", res.Error, tc.want)
			}
		})
	}
}

func TestListFormatsKindAndName(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	seed(t, dir, "alpha.go", "package alpha")
	if err := os.Mkdir(filepath.Join(dir, "vendor"), 0755); err != nil {
		t.Fatal(err)
	}

	res := call(t, tool, "file_list", map[string]string{"path": "."})
	if res.Error != "" {
		t.Fatal(res.Error)
	}
	lines := strings.Split(strings.TrimRight(res.Content, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("listing %q", res.Content)
	}
	// Each line is kind, a tab, then the bare name.
	var sawFile, sawDir bool
	for _, line := range lines {
		kind, name, ok := strings.Cut(line, "\t")
		if !ok {
			t.Fatalf("line %q is not tab-separated", line)
		}
		switch {
		case kind == "file" && name == "alpha.go":
			sawFile = true
		case kind == "dir" && name == "vendor":
			sawDir = true
		}
	}
	if !sawFile || !sawDir {
		t.Errorf("listing %q", res.Content)
	}
}

func TestListWithoutPathUsesRoot(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	seed(t, dir, "top.txt", "t")

	res := call(t, tool, "file_list", nil)
	if res.Error != "" || !strings.Contains(res.Content, "top.txt") {
		t.Errorf("listing %q (error %q)", res.Content, res.Error)
	}
}

func TestDeleteRules(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	seed(t, dir, "scratch.txt", "tmp")
	seed(t, dir, "keep/inner.txt", "stay")
	if err := os.Mkdir(filepath.Join(dir, "hollow"), 0755); err != nil {
		t.Fatal(err)
	}

	// Plain files and empty directories go; non-empty directories and the
	// workspace root are refused.
	if res := call(t, tool, "file_delete", map[string]string{"path": "scratch.txt"}); res.Error != "" {
		t.Errorf("file delete: %s", res.Error)
	}
	if _, err := os.Stat(filepath.Join(dir, "scratch.txt")); !os.IsNotExist(err) {
		t.Error("scratch.txt still on disk")
	}
	if res := call(t, tool, "file_delete", map[string]string{"path": "hollow"}); res.Error != "" {
		t.Errorf("empty dir delete: %s", res.Error)
	}
	if res := call(t, tool, "file_delete", map[string]string{"path": "keep"}); res.Error == "" {
		t.Error("non-empty directory delete must fail")
	}
	if res := call(t, tool, "file_delete", map[string]string{"path": "."}); !strings.Contains(res.Error, "workspace root") {
		t.Errorf("root delete error %q", res.Error)
	}
	if res := call(t, tool, "file_delete", map[string]string{"path": "never-there.txt"}); res.Error == "" {
		t.Error("deleting a missing path must fail")
	}
}

func TestStatReportsMetadata(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	seed(t, dir, "sized.bin", "12345678")

	res := call(t, tool, "file_stat", map[string]string{"path": "sized.bin"})
	if res.Error != "" {
		t.Fatal(res.Error)
	}
	var meta struct {
		Name     string  `json:"name"`
		Type     string  `json:"type"`
		Size     float64 `json:"size"`
		Modified string  `json:"modified"`
	}
	if err := json.Unmarshal([]byte(res.Content), &meta); err != nil {
		t.Fatalf("stat is not JSON: %v (%q)", err, res.Content)
	}
	if meta.Name != "sized.bin" || meta.Type != "file" || meta.Size != 8 {
		t.Errorf("stat %+v", meta)
	}
	if !strings.HasSuffix(meta.Modified, "Z") {
		t.Errorf("modified %q should be UTC", meta.Modified)
	}

	res = call(t, tool, "file_stat", map[string]string{"path": "."})
	if res.Error != "" || !strings.Contains(res.Content, `"directory"`) {
		t.Errorf("root stat %q (error %q)", res.Content, res.Error)
	}
}

func TestUnknownOperation(t *testing.T) {
	tool := New(t.TempDir())
	res := call(t, tool, "file_chmod", map[string]string{"path": "x"})
	if !strings.Contains(res.Error, "unknown file tool") {
		t.Errorf("error %q", res.Error)
	}
}

func TestDefinitionsCoverEveryOperation(t *testing.T) {
	defs := New(t.TempDir()).Definitions()
	byName := make(map[string]bool, len(defs))
	for _, d := range defs {
		byName[d.Name] = true
		if d.Description == "" {
			t.Errorf("%s has no description", d.Name)
		}
	}
	for _, want := range []string{"file_read", "file_write", "file_list", "file_delete", "file_stat"} {
		if !byName[want] {
			t.Errorf("missing definition %s", want)
		}
	}
	if len(defs) != 5 {
		t.Errorf("got %d definitions", len(defs))
	}
}
