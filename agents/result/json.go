/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response holds no JSON payload.
var ErrNoJSON = errors.New("no JSON found in response")

// ExtractJSON returns the JSON payload of a model response. The first fenced
// block tagged json wins; otherwise the trimmed text with any surrounding
// fence removed is returned. An empty json block yields "".
func ExtractJSON(text string) string {
	if body, ok := fencedBlock(text, "json"); ok {
		return strings.TrimSpace(body)
	}

	text = strings.TrimSpace(text)
	if body, ok := strings.CutPrefix(text, "```"); ok {
		// Drop an unrecognized language tag on the opening fence.
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
			body = body[nl+1:]
		}
		text = strings.TrimSpace(strings.TrimSuffix(body, "```"))
	}
	return text
}

// fencedBlock returns the contents of the first ```<lang> block. The fence
// lines must stand alone; an unterminated block runs to the end of text.
func fencedBlock(text, lang string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != "```"+lang {
			continue
		}
		var body []string
		for _, l := range lines[i+1:] {
			if strings.TrimSpace(l) == "```" {
				break
			}
			body = append(body, l)
		}
		return strings.Join(body, "\n"), true
	}
	return "", false
}

// Extract decodes the JSON payload of text into a T.
func Extract[T any](text string) (T, error) {
	var v T
	payload := ExtractJSON(text)
	if payload == "" {
		return v, ErrNoJSON
	}
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return v, fmt.Errorf("decoding response JSON: %w", err)
	}
	return v, nil
}

// Structured decodes the payload of text when it is a JSON object or array.
// Plain prose, and bare scalars, report false.
func Structured(text string) (any, bool) {
	payload := ExtractJSON(text)
	if !strings.HasPrefix(payload, "{") && !strings.HasPrefix(payload, "[") {
		return nil, false
	}
	v, err := Extract[any](payload)
	if err != nil {
		return nil, false
	}
	return v, true
}
