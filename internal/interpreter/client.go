package interpreter

import "context"

// RawClient is the minimal language-model capability the interpreter
// consumes: one prompt exchange in, free text out. Vendor wire formats
// stay behind this boundary.
type RawClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
