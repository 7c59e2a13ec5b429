package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Encode serialises a tool result for a tool message. Identifiers encode as
// text, timestamps as RFC 3339 text and priorities as their bare value.
func Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// ParseArguments decodes the raw argument payload of a tool call. An empty
// payload yields an empty map. Payloads that were JSON-encoded twice are
// unwrapped once.
func ParseArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, fmt.Errorf("invalid tool arguments: %w", err)
		}
		return ParseArguments(json.RawMessage(inner))
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
