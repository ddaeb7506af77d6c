// Package llm provides the completion capability boundary used by the pipeline
package llm

import "context"

// Client defines the interface for interacting with large language models
type Client interface {
	// Complete sends a prompt to the LLM and returns the raw completion text
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSchema sends a prompt and unmarshals the response into the provided schema
	// The schema parameter should be a pointer to the target value. Reply cleanup
	// (markdown fences, wrapper objects) is applied before unmarshalling.
	CompleteWithSchema(ctx context.Context, prompt string, schema any) error
}
