// Package schema validates decoded LLM replies against the per-stage contract:
// one row per expected id, no hallucinated or duplicated rows, no empty fields.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dan-solli/themefinder/pkg/theme"
)

// Group is one merged theme emitted by a reconciliation reply.
type Group struct {
	Label       string   `json:"label"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"member_ids"`
}

// Choice is one row of a classification reply.
type Choice struct {
	ResponseID string `json:"response_id"`
	ThemeID    string `json:"theme_id"`
}

// ValidationError describes exactly how a reply violated the contract. The
// batch processor uses the id detail to decide between retrying the whole
// batch and splitting it.
type ValidationError struct {
	Missing   []string
	Extra     []string
	Duplicate []string
	Unknown   []string
	Empty     []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing ids: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, fmt.Sprintf("extra ids: %s", strings.Join(e.Extra, ", ")))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, fmt.Sprintf("duplicate ids: %s", strings.Join(e.Duplicate, ", ")))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, fmt.Sprintf("unknown values: %s", strings.Join(e.Unknown, ", ")))
	}
	if len(e.Empty) > 0 {
		parts = append(parts, fmt.Sprintf("empty fields: %s", strings.Join(e.Empty, ", ")))
	}
	if len(parts) == 0 {
		parts = append(parts, "reply does not match expected shape")
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) hasViolations() bool {
	return len(e.Missing) > 0 || len(e.Extra) > 0 || len(e.Duplicate) > 0 ||
		len(e.Unknown) > 0 || len(e.Empty) > 0
}

// ValidateAssignments checks a theme-proposal reply against the batch's
// expected response ids and returns the assignments reordered to match the
// expected id order. The input slice is not mutated.
func ValidateAssignments(rows []theme.Assignment, expectedIDs []string) ([]theme.Assignment, error) {
	verr := &ValidationError{}

	got := make([]string, len(rows))
	byID := make(map[string]theme.Assignment, len(rows))
	for i, row := range rows {
		got[i] = row.ResponseID
		if _, dup := byID[row.ResponseID]; !dup {
			byID[row.ResponseID] = row
		}
		if strings.TrimSpace(row.Label) == "" {
			verr.Empty = append(verr.Empty, fmt.Sprintf("%s.label", row.ResponseID))
		}
		if strings.TrimSpace(row.Description) == "" {
			verr.Empty = append(verr.Empty, fmt.Sprintf("%s.description", row.ResponseID))
		}
	}

	verr.Missing, verr.Extra, verr.Duplicate = idCoverage(got, expectedIDs)
	if verr.hasViolations() {
		return nil, verr
	}

	ordered := make([]theme.Assignment, len(expectedIDs))
	for i, id := range expectedIDs {
		ordered[i] = byID[id]
	}
	return ordered, nil
}

// ValidateGroups checks a reconciliation reply: every expected candidate id
// must appear in exactly one group, and every group needs a non-empty label
// and description.
func ValidateGroups(groups []Group, expectedCandidateIDs []string) error {
	verr := &ValidationError{}

	if len(groups) == 0 {
		verr.Missing = append([]string(nil), expectedCandidateIDs...)
		return verr
	}

	var got []string
	for i, g := range groups {
		got = append(got, g.MemberIDs...)
		if strings.TrimSpace(g.Label) == "" {
			verr.Empty = append(verr.Empty, fmt.Sprintf("group[%d].label", i))
		}
		if strings.TrimSpace(g.Description) == "" {
			verr.Empty = append(verr.Empty, fmt.Sprintf("group[%d].description", i))
		}
	}

	verr.Missing, verr.Extra, verr.Duplicate = idCoverage(got, expectedCandidateIDs)
	if verr.hasViolations() {
		return verr
	}
	return nil
}

// ValidateChoices checks a classification reply against the batch's expected
// response ids and the fixed canonical theme id set, returning the choices
// reordered to expected id order.
func ValidateChoices(choices []Choice, expectedIDs []string, themeIDs []string) ([]Choice, error) {
	verr := &ValidationError{}

	valid := make(map[string]bool, len(themeIDs))
	for _, id := range themeIDs {
		valid[id] = true
	}

	got := make([]string, len(choices))
	byID := make(map[string]Choice, len(choices))
	for i, c := range choices {
		got[i] = c.ResponseID
		if _, dup := byID[c.ResponseID]; !dup {
			byID[c.ResponseID] = c
		}
		if strings.TrimSpace(c.ThemeID) == "" {
			verr.Empty = append(verr.Empty, fmt.Sprintf("%s.theme_id", c.ResponseID))
		} else if !valid[c.ThemeID] {
			verr.Unknown = append(verr.Unknown, fmt.Sprintf("%s->%s", c.ResponseID, c.ThemeID))
		}
	}

	verr.Missing, verr.Extra, verr.Duplicate = idCoverage(got, expectedIDs)
	if verr.hasViolations() {
		return nil, verr
	}

	ordered := make([]Choice, len(expectedIDs))
	for i, id := range expectedIDs {
		ordered[i] = byID[id]
	}
	return ordered, nil
}

// idCoverage compares the returned id multiset against the expected id set.
// Result slices are sorted for deterministic error messages.
func idCoverage(got []string, expected []string) (missing, extra, duplicate []string) {
	want := make(map[string]bool, len(expected))
	for _, id := range expected {
		want[id] = true
	}

	counts := make(map[string]int, len(got))
	for _, id := range got {
		counts[id]++
	}

	for _, id := range expected {
		if counts[id] == 0 {
			missing = append(missing, id)
		}
	}
	for id, n := range counts {
		if !want[id] {
			extra = append(extra, id)
		}
		if n > 1 {
			duplicate = append(duplicate, id)
		}
	}

	sort.Strings(missing)
	sort.Strings(extra)
	sort.Strings(duplicate)
	return missing, extra, duplicate
}
