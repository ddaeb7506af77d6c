// Package extraction provides theme proposal from survey responses using an LLM
package extraction

import (
	"context"
	"fmt"

	"github.com/dan-solli/themefinder/pkg/llm"
	"github.com/dan-solli/themefinder/pkg/prompt"
	"github.com/dan-solli/themefinder/pkg/schema"
	"github.com/dan-solli/themefinder/pkg/theme"
)

// themeProposalPrompt is the prompt template for per-batch theme proposal
const themeProposalPrompt = `You are a qualitative analysis assistant consolidating free-text consultation responses.

Task question the respondents were answering:
%s

For every response listed between the --- markers, identify the single theme it most strongly expresses. For each response provide:
- response_id: the id shown in brackets, copied exactly
- label: a short theme label (2-5 words)
- description: one sentence describing the theme

Every response must receive exactly one entry. Do not invent ids and do not skip any.

Return ONLY a valid JSON array:
[{"response_id": "...", "label": "...", "description": "..."}, ...]`

// ThemeExtractor proposes candidate themes for batches of responses using an LLM
type ThemeExtractor struct {
	LLM llm.Client
}

// NewThemeExtractor creates a new theme extractor
func NewThemeExtractor(client llm.Client) *ThemeExtractor {
	return &ThemeExtractor{
		LLM: client,
	}
}

// Propose asks the model for one theme proposal per response and validates
// the reply against the batch's id set. The returned assignments are in the
// same order as the input responses.
func (e *ThemeExtractor) Propose(ctx context.Context, question string, responses []theme.Response) ([]theme.Assignment, error) {
	rows := make([]prompt.Row, len(responses))
	ids := make([]string, len(responses))
	for i, r := range responses {
		rows[i] = prompt.Row{ID: r.ID, Text: r.Text}
		ids[i] = r.ID
	}

	p, err := prompt.Render(fmt.Sprintf(themeProposalPrompt, question), rows)
	if err != nil {
		return nil, err
	}

	var assignments []theme.Assignment
	if err := e.LLM.CompleteWithSchema(ctx, p, &assignments); err != nil {
		return nil, fmt.Errorf("failed to propose themes: %w", err)
	}

	return schema.ValidateAssignments(assignments, ids)
}
