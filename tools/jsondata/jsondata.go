// Package jsondata runs jq queries over JSON documents as a drover tool.
// Queries are evaluated with itchyny/gojq, so the full jq language is
// available without shelling out.
package jsondata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/evrane/drover"
)

const (
	maxResults     = 100
	maxOutputChars = 8000
)

// Tool evaluates jq expressions against JSON input.
type Tool struct{}

// New creates a jsondata tool.
func New() *Tool {
	return &Tool{}
}

var _ drover.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []drover.ToolDefinition {
	return []drover.ToolDefinition{{
		Name:        "json_query",
		Description: "Run a jq expression against a JSON document. Use for filtering, reshaping, or summarizing structured data. Returns one JSON value per line.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"data":{"type":"string","description":"JSON document to query"},"query":{"type":"string","description":"jq expression, e.g. '.items[].name'"}},"required":["data","query"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (drover.ToolResult, error) {
	var params struct {
		Data  string `json:"data"`
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return drover.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Query == "" {
		return drover.ToolResult{Error: "query is required"}, nil
	}

	query, err := gojq.Parse(params.Query)
	if err != nil {
		return drover.ToolResult{Error: fmt.Sprintf("invalid jq expression %q: %v", params.Query, err)}, nil
	}

	var input any
	if err := json.Unmarshal([]byte(params.Data), &input); err != nil {
		return drover.ToolResult{Error: "invalid JSON data: " + err.Error()}, nil
	}

	var lines []string
	iter := query.RunWithContext(ctx, input)
	for len(lines) < maxResults {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return drover.ToolResult{Error: "query error: " + err.Error()}, nil
		}
		out, err := json.Marshal(v)
		if err != nil {
			return drover.ToolResult{Error: "encode result: " + err.Error()}, nil
		}
		lines = append(lines, string(out))
	}

	content := strings.Join(lines, "\n")
	if len(content) > maxOutputChars {
		content = content[:maxOutputChars] + "\n... (truncated)"
	}
	if content == "" {
		content = "(no results)"
	}
	return drover.ToolResult{Content: content}, nil
}
