package themefinder

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dan-solli/themefinder/pkg/batch"
	"github.com/dan-solli/themefinder/pkg/cluster"
	"github.com/dan-solli/themefinder/pkg/prompt"
	"github.com/dan-solli/themefinder/pkg/theme"
	"github.com/dan-solli/themefinder/pkg/trace"
)

// State names the position of a run in the pipeline state machine. The
// machine is linear with no back-edges; FAILED is terminal and reachable
// from any stage.
type State string

const (
	StateIngested            State = "INGESTED"
	StateCandidatesGenerated State = "CANDIDATES_GENERATED"
	StateReconciled          State = "RECONCILED"
	StateClassified          State = "CLASSIFIED"
	StateDone                State = "DONE"
	StateFailed              State = "FAILED"
)

// Stage names, used for errors, metrics labels and trace spans.
const (
	StageIngest    = "ingest"
	StageGenerate  = "generate"
	StageReconcile = "reconcile"
	StageClassify  = "classify"
)

const operationFindThemes = "find_themes"

// FindThemes runs the full pipeline over the given responses: propose
// candidate themes per batch, reconcile them into a canonical set, then
// classify every response against that set.
//
// On success the result covers every input response id exactly once, split
// between the mapping and the failure list. On a fatal error (malformed
// input, provider outage, cancellation) FindThemes returns a *StageError and
// no result; it never returns a partial result as if it were complete.
func (tf *Themefinder) FindThemes(ctx context.Context, question string, responses []theme.Response) (*theme.PipelineResult, error) {
	started := time.Now()
	rec := &trace.RunRecord{
		Timestamp: started,
		RunID:     uuid.New().String(),
		Operation: operationFindThemes,
		Counters:  map[string]int64{"responses": int64(len(responses))},
	}

	state := StateIngested
	if err := validateInput(question, responses); err != nil {
		return nil, tf.fail(ctx, rec, started, StageIngest, state, err)
	}

	// Stage 1: candidate theme generation per batch.
	genStart := time.Now()
	items := make([]batch.Item, len(responses))
	byID := make(map[string]theme.Response, len(responses))
	for i, r := range responses {
		items[i] = batch.Item{ID: r.ID, Text: r.Text}
		byID[r.ID] = r
	}

	genOut, err := batch.Run(ctx, tf.generate, items,
		func(ctx context.Context, b []batch.Item) ([]theme.Assignment, error) {
			rs := make([]theme.Response, len(b))
			for i, it := range b {
				rs[i] = byID[it.ID]
			}
			return tf.extractor.Propose(ctx, question, rs)
		},
		func(a theme.Assignment) string { return a.ResponseID })
	tf.span(ctx, rec, StageGenerate, genStart, err)
	if err != nil {
		return nil, tf.fail(ctx, rec, started, StageGenerate, state, err)
	}
	state = StateCandidatesGenerated
	failures := append([]theme.Failure(nil), genOut.Failures...)

	// Stage 2: reconcile candidates into the canonical theme set.
	recStart := time.Now()
	candidates := cluster.Candidates(genOut.Results)
	themes, err := tf.agent.Reconcile(ctx, question, candidates)
	tf.span(ctx, rec, StageReconcile, recStart, err)
	if err != nil {
		return nil, tf.fail(ctx, rec, started, StageReconcile, state, err)
	}
	state = StateReconciled

	// Stage 3: classify every remaining response against the fixed set.
	// Responses already in the failure list stay failed; re-running them
	// would let an id appear both as a failure and in the mapping.
	failed := make(map[string]bool, len(failures))
	for _, f := range failures {
		failed[f.ID] = true
	}
	var remaining []theme.Response
	for _, r := range responses {
		if !failed[r.ID] {
			remaining = append(remaining, r)
		}
	}

	mapping := make(map[string]string)
	var classifyFailures []theme.Failure
	if len(remaining) > 0 {
		classStart := time.Now()
		mapping, classifyFailures, err = tf.agent.Classify(ctx, question, remaining, themes)
		tf.span(ctx, rec, StageClassify, classStart, err)
		if err != nil {
			return nil, tf.fail(ctx, rec, started, StageClassify, state, err)
		}
	}
	failures = append(failures, classifyFailures...)

	// CLASSIFIED transitions straight to DONE: assembly is pure and cannot
	// fail, so the intermediate state is never observable.
	result := assemble(responses, themes, mapping, failures, classifyFailures)
	state = StateDone

	durationMs := time.Since(started).Milliseconds()
	tf.config.Metrics.RecordOperation(ctx, operationFindThemes, "success", durationMs)
	rec.Status = "success"
	rec.DurationMs = durationMs
	rec.Counters["themes"] = int64(len(result.Themes))
	rec.Counters["failures"] = int64(len(result.Failures))
	tf.export(ctx, rec)

	if tf.config.Store != nil {
		if _, err := tf.config.Store.SaveRun(ctx, question, result); err != nil {
			log.Printf("themefinder: failed to persist run %s: %v", rec.RunID, err)
		}
	}

	log.Printf("themefinder: run %s reached state %s: %d responses, %d themes, %d failures",
		rec.RunID, state, len(responses), len(result.Themes), len(result.Failures))
	return result, nil
}

// validateInput rejects malformed caller input before any model call.
func validateInput(question string, responses []theme.Response) error {
	if question == "" {
		return &prompt.InvalidInputError{Reason: "question must not be empty"}
	}
	if len(responses) == 0 {
		return &prompt.InvalidInputError{Reason: "responses must not be empty"}
	}
	seen := make(map[string]bool, len(responses))
	for i, r := range responses {
		if r.ID == "" {
			return &prompt.InvalidInputError{Reason: fmt.Sprintf("response at index %d has empty id", i)}
		}
		if seen[r.ID] {
			return &prompt.InvalidInputError{Reason: fmt.Sprintf("duplicate response id %q", r.ID)}
		}
		seen[r.ID] = true
	}
	return nil
}

// assemble builds the final result: theme membership in input order and the
// reserved unclassified bucket when the classification pass left anyone
// behind.
func assemble(responses []theme.Response, themes []theme.Canonical, mapping map[string]string, failures, classifyFailures []theme.Failure) *theme.PipelineResult {
	result := &theme.PipelineResult{
		Mapping:  mapping,
		Themes:   make([]theme.Canonical, len(themes)),
		Failures: failures,
	}
	copy(result.Themes, themes)

	index := make(map[string]int, len(result.Themes))
	for i, t := range result.Themes {
		index[t.ID] = i
	}
	for _, r := range responses {
		if tid, ok := mapping[r.ID]; ok {
			i := index[tid]
			result.Themes[i].MemberResponseIDs = append(result.Themes[i].MemberResponseIDs, r.ID)
		}
	}

	if len(classifyFailures) > 0 {
		unclassified := theme.Canonical{
			ID:          theme.UnclassifiedID,
			Label:       "Unclassified",
			Description: "Responses that could not be classified against the canonical themes.",
		}
		bucketed := make(map[string]bool, len(classifyFailures))
		for _, f := range classifyFailures {
			bucketed[f.ID] = true
		}
		for _, r := range responses {
			if bucketed[r.ID] {
				unclassified.MemberResponseIDs = append(unclassified.MemberResponseIDs, r.ID)
			}
		}
		result.Themes = append(result.Themes, unclassified)
	}

	return result
}

// span records one stage's duration and status on the run trace and metrics.
func (tf *Themefinder) span(ctx context.Context, rec *trace.RunRecord, stage string, start time.Time, err error) {
	durationMs := time.Since(start).Milliseconds()
	tf.config.Metrics.RecordStage(ctx, operationFindThemes, stage, durationMs)
	s := trace.SpanRecord{Name: stage, DurationMs: durationMs, OK: err == nil}
	if err != nil {
		s.ErrorType = ClassifyError(err)
	}
	rec.Spans = append(rec.Spans, s)
}

// fail finalizes metrics and trace for a fatal run and wraps the cause with
// the failed stage and the last state the run reached.
func (tf *Themefinder) fail(ctx context.Context, rec *trace.RunRecord, started time.Time, stage string, last State, err error) error {
	durationMs := time.Since(started).Milliseconds()
	errType := ClassifyError(err)
	tf.config.Metrics.RecordOperation(ctx, operationFindThemes, "error", durationMs)
	tf.config.Metrics.RecordError(ctx, operationFindThemes, errType)

	rec.Status = "error"
	rec.DurationMs = durationMs
	rec.ErrorType = errType
	tf.export(ctx, rec)

	log.Printf("themefinder: run %s failed in stage %s after reaching state %s: %v",
		rec.RunID, stage, last, err)
	return &StageError{Stage: stage, LastState: last, Err: err}
}

// export writes the run trace if an exporter is configured.
func (tf *Themefinder) export(ctx context.Context, rec *trace.RunRecord) {
	if tf.config.Trace == nil {
		return
	}
	if err := tf.config.Trace.Export(ctx, rec); err != nil {
		log.Printf("themefinder: failed to export trace for run %s: %v", rec.RunID, err)
	}
}
