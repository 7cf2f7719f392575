package interfaces

import "context"

// CoTResponse carries an answer and its chain of thought. Cot is empty
// when the upstream model exposed none.
type CoTResponse struct {
	Answer string
	Cot    string
}

// LLMClient is the uniform chat surface handlers call. Implementations
// classify failures into the typed errors of the llm package and never
// retry; callers log and skip the item.
type LLMClient interface {
	Chat(ctx context.Context, prompt string) (string, error)
	ChatCoT(ctx context.Context, prompt string) (*CoTResponse, error)
}
