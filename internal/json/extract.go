// Package json extracts structured payloads and code from model responses.
//
// Models often wrap JSON or source code in markdown fences or surround it
// with commentary. These helpers recover the useful part.
package json

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```[ \t]*([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)```")

// extractJSON finds the JSON portion of a response string.
// It tries, in order: the fence-stripped response, the outermost object
// and the outermost array.
func extractJSON(response string) (string, error) {
	response = StripFences(response)

	if json.Valid([]byte(response)) {
		return response, nil
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(response, pair[0])
		end := strings.LastIndex(response, pair[1])
		if start != -1 && end > start {
			candidate := response[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	preview := response
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("failed to extract valid JSON from response: %q", preview)
}

// StripFences removes a leading ```lang and trailing ``` marker.
func StripFences(response string) string {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if nl := strings.IndexByte(trimmed, '\n'); nl != -1 && !strings.ContainsAny(trimmed[:nl], " {[(=") {
			trimmed = trimmed[nl+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// ExtractCodeBlock returns the body of the first fenced code block.
// Without a fenced block the fence markers are stripped and the rest
// is returned as is.
func ExtractCodeBlock(response string) string {
	if m := fencedBlock.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[2])
	}
	return StripFences(response)
}

// ExtractJSONFromResponse extracts and parses JSON from a model response.
func ExtractJSONFromResponse[T any](response string) (T, error) {
	var result T
	jsonStr, err := extractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return result, nil
}

// ExtractJSON returns the raw JSON string embedded in a response.
func ExtractJSON(response string) (string, error) {
	return extractJSON(response)
}

// LooksLikeJSON reports whether s is a JSON object or array once trimmed.
func LooksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if (s[0] != '{' || s[len(s)-1] != '}') && (s[0] != '[' || s[len(s)-1] != ']') {
		return false
	}
	return json.Valid([]byte(s))
}
