package jsondata

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func run(t *testing.T, data, query string) (string, string) {
	t.Helper()
	args, _ := json.Marshal(map[string]string{"data": data, "query": query})
	result, err := New().Execute(context.Background(), "json_query", args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return result.Content, result.Error
}

func TestJSONQuerySimple(t *testing.T) {
	content, errMsg := run(t, `{"name":"drover","version":2}`, ".name")
	if errMsg != "" {
		t.Fatalf("unexpected error: %s", errMsg)
	}
	if content != `"drover"` {
		t.Errorf("got %q, want %q", content, `"drover"`)
	}
}

func TestJSONQueryArray(t *testing.T) {
	content, errMsg := run(t, `{"items":[{"name":"a"},{"name":"b"}]}`, ".items[].name")
	if errMsg != "" {
		t.Fatalf("unexpected error: %s", errMsg)
	}
	if content != "\"a\"\n\"b\"" {
		t.Errorf("got %q", content)
	}
}

func TestJSONQueryReshape(t *testing.T) {
	content, errMsg := run(t, `[{"id":1,"cost":0.5},{"id":2,"cost":1.5}]`, "map(.cost) | add")
	if errMsg != "" {
		t.Fatalf("unexpected error: %s", errMsg)
	}
	if content != "2" {
		t.Errorf("got %q, want 2", content)
	}
}

func TestJSONQueryNoResults(t *testing.T) {
	content, errMsg := run(t, `[]`, ".[]")
	if errMsg != "" {
		t.Fatalf("unexpected error: %s", errMsg)
	}
	if content != "(no results)" {
		t.Errorf("got %q", content)
	}
}

func TestJSONQueryInvalidExpression(t *testing.T) {
	_, errMsg := run(t, `{}`, ".[abc")
	if errMsg == "" {
		t.Error("expected error for invalid expression")
	}
}

func TestJSONQueryInvalidData(t *testing.T) {
	_, errMsg := run(t, `not json`, ".")
	if errMsg == "" {
		t.Error("expected error for invalid data")
	}
}

func TestJSONQueryRuntimeError(t *testing.T) {
	_, errMsg := run(t, `5`, ".foo")
	if errMsg == "" {
		t.Error("expected error for indexing a number")
	}
}

func TestJSONQueryMissingQuery(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"data": "{}"})
	result, _ := New().Execute(context.Background(), "json_query", args)
	if result.Error == "" {
		t.Error("expected error for missing query")
	}
}

func TestJSONQueryResultCap(t *testing.T) {
	content, errMsg := run(t, `{}`, "range(500)")
	if errMsg != "" {
		t.Fatalf("unexpected error: %s", errMsg)
	}
	if n := len(strings.Split(content, "\n")); n > maxResults {
		t.Errorf("results not capped: %d lines", n)
	}
}
