package gemini

import (
	"encoding/json"
	"errors"
	"strings"
)

// ExtractJSON strips an optional fenced code block around a model reply.
// Text before or after the fence is ignored.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)
	if start := strings.Index(s, "```"); start >= 0 {
		rest := s[start+3:]
		// Drop the info string (json, JSON, ...) up to the first newline.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
			rest = rest[nl+1:]
		} else {
			rest = strings.TrimLeft(rest, "jsonJSON")
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}
	return s
}

// DecodeJSON extracts and decodes a JSON object from a model reply. If the
// cleaned text is not valid JSON, the outermost {...} span is tried before
// giving up with a *ShapeError.
func DecodeJSON(text string, out any) error {
	cleaned := ExtractJSON(text)
	if cleaned == "" {
		return &ShapeError{Raw: text, Err: errors.New("no JSON payload")}
	}

	err := json.Unmarshal([]byte(cleaned), out)
	if err == nil {
		return nil
	}

	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start >= 0 && end > start {
		if err2 := json.Unmarshal([]byte(cleaned[start:end+1]), out); err2 == nil {
			return nil
		}
	}
	return &ShapeError{Raw: text, Err: err}
}
