package services

import "context"

// AIClient bundles the two external model capabilities the pipeline
// depends on: compressing extracted text into a short description, and
// embedding text into a fixed-length vector. Both are fallible and may
// retry internally; callers see one error per logical call.
type AIClient interface {
	Summarize(ctx context.Context, text string) (string, error)
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}
