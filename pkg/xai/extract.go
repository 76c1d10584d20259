package xai

import (
	"encoding/json"
	"strings"
)

// ExtractText pulls the assistant text out of a live-search response
// body. The backend answers in several shapes depending on endpoint
// generation and proxy, so extraction is an ordered chain; adding a
// shape is a pure addition at the end.
func ExtractText(raw []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return strings.TrimSpace(string(raw))
	}

	// 1. Top-level output_text convenience field.
	if s, ok := obj["output_text"].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}

	// 2. /responses format: scan the output array backwards. With the
	// web_search tool the first entries are tool invocations; the text
	// lives in the last message.
	if output, ok := obj["output"].([]any); ok {
		for i := len(output) - 1; i >= 0; i-- {
			item, ok := output[i].(map[string]any)
			if !ok {
				continue
			}
			if item["type"] == "output_text" {
				if s, ok := item["text"].(string); ok && strings.TrimSpace(s) != "" {
					return s
				}
			}
			switch content := item["content"].(type) {
			case []any:
				for _, c := range content {
					block, ok := c.(map[string]any)
					if !ok || block["type"] != "output_text" {
						continue
					}
					if s, ok := block["text"].(string); ok && strings.TrimSpace(s) != "" {
						return s
					}
				}
			case map[string]any:
				if s, ok := content["text"].(string); ok && strings.TrimSpace(s) != "" {
					return s
				}
			}
		}
	}

	// 3. /chat/completions format.
	if choices, ok := obj["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				if s, ok := msg["content"].(string); ok && strings.TrimSpace(s) != "" {
					return s
				}
			}
		}
	}

	// 4. Direct content field (some proxies).
	if s, ok := obj["content"].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}

	return strings.TrimSpace(string(raw))
}

// ExtractJSON recovers a JSON value from model text that may wrap it
// in prose or code fences. Tries: whole-string parse, outermost
// object slice, outermost array slice. Returns nil when nothing
// parses — callers report that as a parse error, distinct from
// unreachable upstream.
func ExtractJSON(text string) json.RawMessage {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if raw := tryParse(trimmed); raw != nil {
		return raw
	}
	if raw := tryParse(sliceBetween(trimmed, '{', '}')); raw != nil {
		return raw
	}
	if raw := tryParse(sliceBetween(trimmed, '[', ']')); raw != nil {
		return raw
	}
	return nil
}

func tryParse(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	switch v.(type) {
	case map[string]any, []any:
		return json.RawMessage(s)
	}
	return nil
}

// sliceBetween returns the substring from the first open delimiter to
// the last close delimiter, inclusive.
func sliceBetween(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
