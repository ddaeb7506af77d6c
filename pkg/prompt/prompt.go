// Package prompt renders per-stage instructions and input rows into request payloads
package prompt

import (
	"fmt"
	"strings"
)

// Row is one renderable input line: a stable id plus free text.
type Row struct {
	ID   string
	Text string
}

// InvalidInputError indicates malformed caller input. It is fatal; the
// pipeline never starts a partial run on it.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// Render builds the request payload for one model invocation: the stage
// instructions followed by the rows, one per line as "[id] text".
//
// The output is deterministic given identical input. Rows must be non-empty
// and carry unique, non-empty ids; violations fail with *InvalidInputError.
func Render(instructions string, rows []Row) (string, error) {
	if strings.TrimSpace(instructions) == "" {
		return "", &InvalidInputError{Reason: "instructions must not be empty"}
	}
	if len(rows) == 0 {
		return "", &InvalidInputError{Reason: "rows must not be empty"}
	}

	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		if row.ID == "" {
			return "", &InvalidInputError{Reason: fmt.Sprintf("row at index %d has empty id", i)}
		}
		if seen[row.ID] {
			return "", &InvalidInputError{Reason: fmt.Sprintf("duplicate row id %q", row.ID)}
		}
		seen[row.ID] = true
	}

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n---\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "[%s] %s\n", row.ID, row.Text)
	}
	b.WriteString("---")

	return b.String(), nil
}
