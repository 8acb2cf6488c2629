package drover

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// unmarshalLenient unmarshals JSON into v, attempting to repair malformed
// input first. Models frequently emit JSON with trailing commas, unquoted
// keys, or fenced code blocks; a syntax error triggers one repair pass before
// the result is treated as unparseable.
func unmarshalLenient(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); !ok {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}

// DecodeJSON extracts the JSON payload from model output (stripping code
// fences and surrounding prose) and unmarshals it leniently into v.
// Providers use this to implement GenerateJSON.
func DecodeJSON(content string, v any) error {
	return unmarshalLenient([]byte(extractJSONBlock(content)), v)
}

// extractJSONBlock strips a markdown code fence around a JSON payload, if
// present, and trims surrounding prose down to the outermost JSON value.
func extractJSONBlock(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndexByte(s, '}')
	} else {
		end = strings.LastIndexByte(s, ']')
	}
	if end <= start {
		return s[start:]
	}
	return s[start : end+1]
}
