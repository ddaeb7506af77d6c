// Package cluster reconciles candidate themes proposed across batches into a
// canonical theme set and maps every response onto it.
package cluster

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dan-solli/themefinder/pkg/batch"
	"github.com/dan-solli/themefinder/pkg/llm"
	"github.com/dan-solli/themefinder/pkg/metrics"
	"github.com/dan-solli/themefinder/pkg/prompt"
	"github.com/dan-solli/themefinder/pkg/schema"
	"github.com/dan-solli/themefinder/pkg/theme"
)

// maxCondensePasses bounds the iterative merge loop. Passes stop earlier as
// soon as a pass stops shrinking the candidate set.
const maxCondensePasses = 5

// FallbackLabel is the canonical theme used when no batch proposed any theme.
const FallbackLabel = "No theme identified"

// defaultMergeInstructions is the semantic-equivalence contract handed to the
// model. There is no local similarity threshold; "same theme" is whatever the
// model infers from this wording, which is why it is overridable per Agent.
const defaultMergeInstructions = `Two candidates describe the same theme when a respondent expressing one would almost always be expressing the other, even if the wording differs (for example "cost concerns" and "cost worries"). Do not merge candidates that address distinct underlying concerns.`

// reconcilePrompt is the prompt template for one reconciliation pass
const reconcilePrompt = `You are consolidating a list of candidate themes extracted from consultation responses to the question:
%s

%s

Group the candidate themes listed between the --- markers so that semantically equivalent candidates share one group, and emit one merged theme per group. For each group provide:
- label: a short label for the merged theme (2-5 words)
- description: one sentence describing the merged theme
- member_ids: the bracketed ids of ALL candidates in the group, copied exactly

Every candidate id must appear in exactly one group. A candidate with no equivalent forms its own group.

Return ONLY a valid JSON array:
[{"label": "...", "description": "...", "member_ids": ["...", "..."]}, ...]`

// classifyPrompt is the prompt template for the final classification pass
const classifyPrompt = `You are assigning consultation responses to a fixed list of themes. The respondents were answering:
%s

Themes (id | label | description):
%s

For every response listed between the --- markers, pick the single best-fitting theme id from the list above. For each response provide:
- response_id: the id shown in brackets, copied exactly
- theme_id: one id from the theme list, copied exactly

Every response must receive exactly one entry. Use only the theme ids listed.

Return ONLY a valid JSON array:
[{"response_id": "...", "theme_id": "..."}, ...]`

// Agent drives the reconciliation and classification stages. Both go through
// the batch processor, so they inherit its retry/backoff/split discipline.
type Agent struct {
	LLM llm.Client

	// MergeInstructions overrides the semantic-equivalence wording given to
	// the model during reconciliation. Empty means the default contract.
	MergeInstructions string

	maxBatchSize int
	reconcile    *batch.Processor
	classify     *batch.Processor
}

// NewAgent creates a reconciliation/classification agent sharing the pipeline
// batching configuration.
func NewAgent(client llm.Client, cfg batch.Config, collector metrics.Collector) *Agent {
	a := &Agent{
		LLM:          client,
		maxBatchSize: cfg.MaxBatchSize,
		reconcile:    batch.NewProcessor(cfg, "reconcile", collector),
		classify:     batch.NewProcessor(cfg, "classify", collector),
	}
	if a.maxBatchSize <= 0 {
		a.maxBatchSize = 10
	}
	return a
}

// Candidates collapses raw assignments into candidate themes, deduplicated by
// exact label/description text, preserving first-seen order. Candidate ids
// are content-derived so identical inputs yield identical ids.
func Candidates(assignments []theme.Assignment) []theme.Candidate {
	seen := make(map[string]bool, len(assignments))
	var out []theme.Candidate
	for _, a := range assignments {
		label := strings.TrimSpace(a.Label)
		description := strings.TrimSpace(a.Description)
		key := label + "\n" + description
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, theme.Candidate{
			ID:          contentID(label, len(out)),
			Label:       label,
			Description: description,
		})
	}
	return out
}

// mergedRow is the per-candidate view of a reconciliation reply: the merged
// label/description of the group the candidate landed in.
type mergedRow struct {
	CandidateID string
	Label       string
	Description string
}

// Reconcile merges semantically overlapping candidates into canonical themes.
// Merging happens batch-locally, so when the candidate list spans several
// batches the pass repeats on the shrunken list to catch duplicates that sat
// in different batches, up to maxCondensePasses.
//
// Theme ids are assigned from the final pass ordering, which preserves
// first-seen order; repeated runs over the same candidates with deterministic
// replies produce identical ids.
func (a *Agent) Reconcile(ctx context.Context, question string, candidates []theme.Candidate) ([]theme.Canonical, error) {
	if len(candidates) == 0 {
		return []theme.Canonical{{
			ID:          contentID(FallbackLabel, 0),
			Label:       FallbackLabel,
			Description: "No recurring theme was identified in the responses.",
		}}, nil
	}

	current := candidates
	for pass := 1; ; pass++ {
		singleBatch := len(current) <= a.maxBatchSize

		merged, err := a.condenseOnce(ctx, question, current)
		if err != nil {
			return nil, err
		}

		shrunk := len(merged) < len(current)
		current = merged

		if singleBatch || !shrunk || pass >= maxCondensePasses {
			break
		}
	}

	themes := make([]theme.Canonical, len(current))
	for i, c := range current {
		themes[i] = theme.Canonical{
			ID:          contentID(c.Label, i),
			Label:       c.Label,
			Description: c.Description,
		}
	}
	return themes, nil
}

// condenseOnce runs one reconciliation pass over the candidate list through
// the batch processor and rebuilds the (possibly smaller) candidate list.
// A candidate whose batch permanently failed is carried through unmerged
// rather than lost.
func (a *Agent) condenseOnce(ctx context.Context, question string, candidates []theme.Candidate) ([]theme.Candidate, error) {
	items := make([]batch.Item, len(candidates))
	for i, c := range candidates {
		items[i] = batch.Item{ID: c.ID, Text: fmt.Sprintf("%s: %s", c.Label, c.Description)}
	}

	instructions := a.MergeInstructions
	if instructions == "" {
		instructions = defaultMergeInstructions
	}

	call := func(ctx context.Context, b []batch.Item) ([]mergedRow, error) {
		rows := make([]prompt.Row, len(b))
		ids := make([]string, len(b))
		for i, it := range b {
			rows[i] = prompt.Row{ID: it.ID, Text: it.Text}
			ids[i] = it.ID
		}

		p, err := prompt.Render(fmt.Sprintf(reconcilePrompt, question, instructions), rows)
		if err != nil {
			return nil, batch.Permanent(err)
		}

		var groups []schema.Group
		if err := a.LLM.CompleteWithSchema(ctx, p, &groups); err != nil {
			return nil, fmt.Errorf("failed to reconcile themes: %w", err)
		}
		if err := schema.ValidateGroups(groups, ids); err != nil {
			return nil, err
		}

		var out []mergedRow
		for _, g := range groups {
			for _, id := range g.MemberIDs {
				out = append(out, mergedRow{
					CandidateID: id,
					Label:       strings.TrimSpace(g.Label),
					Description: strings.TrimSpace(g.Description),
				})
			}
		}
		return out, nil
	}

	out, err := batch.Run(ctx, a.reconcile, items, call, func(r mergedRow) string { return r.CandidateID })
	if err != nil {
		return nil, err
	}

	merged := make(map[string]mergedRow, len(out.Results))
	for _, r := range out.Results {
		merged[r.CandidateID] = r
	}

	// Rebuild in input order: merged members of one group share identical
	// label/description text, so exact-text dedupe collapses them.
	seen := make(map[string]bool, len(candidates))
	var next []theme.Candidate
	for _, c := range candidates {
		label, description := c.Label, c.Description
		if r, ok := merged[c.ID]; ok {
			label, description = r.Label, r.Description
		}
		key := label + "\n" + description
		if seen[key] {
			continue
		}
		seen[key] = true
		next = append(next, theme.Candidate{
			ID:          contentID(label, len(next)),
			Label:       label,
			Description: description,
		})
	}
	return next, nil
}

// Classify runs the final pass mapping every response to one canonical theme
// id. Responses whose batch permanently failed come back in the failure list
// with the unclassified reason tag and are left out of the mapping.
func (a *Agent) Classify(ctx context.Context, question string, responses []theme.Response, themes []theme.Canonical) (map[string]string, []theme.Failure, error) {
	items := make([]batch.Item, len(responses))
	for i, r := range responses {
		items[i] = batch.Item{ID: r.ID, Text: r.Text}
	}

	themeIDs := make([]string, len(themes))
	var themeList strings.Builder
	for i, t := range themes {
		themeIDs[i] = t.ID
		fmt.Fprintf(&themeList, "- %s | %s | %s\n", t.ID, t.Label, t.Description)
	}
	instructions := fmt.Sprintf(classifyPrompt, question, themeList.String())

	call := func(ctx context.Context, b []batch.Item) ([]schema.Choice, error) {
		rows := make([]prompt.Row, len(b))
		ids := make([]string, len(b))
		for i, it := range b {
			rows[i] = prompt.Row{ID: it.ID, Text: it.Text}
			ids[i] = it.ID
		}

		p, err := prompt.Render(instructions, rows)
		if err != nil {
			return nil, batch.Permanent(err)
		}

		var choices []schema.Choice
		if err := a.LLM.CompleteWithSchema(ctx, p, &choices); err != nil {
			return nil, fmt.Errorf("failed to classify responses: %w", err)
		}
		return schema.ValidateChoices(choices, ids, themeIDs)
	}

	out, err := batch.Run(ctx, a.classify, items, call, func(c schema.Choice) string { return c.ResponseID })
	if err != nil {
		return nil, nil, err
	}

	mapping := make(map[string]string, len(out.Results))
	for _, c := range out.Results {
		mapping[c.ResponseID] = c.ThemeID
	}

	failures := make([]theme.Failure, len(out.Failures))
	for i, f := range out.Failures {
		f.Reason = theme.ReasonUnclassified
		failures[i] = f
	}
	return mapping, failures, nil
}

// contentID creates a deterministic id from a label hash and ordinal.
func contentID(label string, index int) string {
	hash := sha256.Sum256([]byte(label))
	return fmt.Sprintf("%s-%d", hex.EncodeToString(hash[:8]), index)
}
