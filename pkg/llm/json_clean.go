package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// CleanReply prepares a raw LLM reply for unmarshalling: strips markdown code
// fences and unwraps single-key wrapper objects around the expected array
// (e.g. {"assignments": [...]} becomes [...]). Models wrap replies like this
// often enough that decoding without the cleanup step fails a visible
// fraction of otherwise-valid batches.
func CleanReply(raw string) ([]byte, error) {
	cleaned := stripMarkdownCodeFence(raw)

	unwrapped, _, err := UnwrapArray([]byte(cleaned))
	if err != nil {
		return nil, err
	}

	return unwrapped, nil
}

// stripMarkdownCodeFence removes markdown code fences from LLM responses.
// Handles formats like: ```json\n...\n``` or ```\n...\n```
func stripMarkdownCodeFence(s string) string {
	s = strings.TrimSpace(s)

	re := regexp.MustCompile("(?s)^```(?:json)?\\s*\n?(.*?)\\s*```$")
	if matches := re.FindStringSubmatch(s); len(matches) == 2 {
		return strings.TrimSpace(matches[1])
	}

	return s
}

// UnwrapArray returns the inner array when the top-level JSON value is an
// object with exactly one key whose value is an array. Top-level arrays pass
// through unchanged.
//
// Returns:
//   - the (possibly unwrapped) JSON bytes
//   - bool indicating whether unwrapping occurred
//   - error if JSON parsing fails
func UnwrapArray(jsonBytes []byte) ([]byte, bool, error) {
	var data any
	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return nil, false, fmt.Errorf("failed to parse JSON: %w", err)
	}

	obj, ok := data.(map[string]any)
	if !ok || len(obj) != 1 {
		return jsonBytes, false, nil
	}

	for _, v := range obj {
		arr, ok := v.([]any)
		if !ok {
			return jsonBytes, false, nil
		}
		inner, err := json.Marshal(arr)
		if err != nil {
			return nil, false, fmt.Errorf("failed to marshal unwrapped array: %w", err)
		}
		return inner, true, nil
	}

	return jsonBytes, false, nil
}
