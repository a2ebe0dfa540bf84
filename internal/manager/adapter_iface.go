package manager

import "context"

// InferenceAdapter abstracts the model runtime used by the Manager.
// Concrete implementations (e.g., llama.cpp) should satisfy this interface.
type InferenceAdapter interface {
	// Start loads the model at modelPath and returns a handle that stays
	// resident until Close.
	Start(modelPath string) (InferSession, error)
}

// InferSession is a loaded engine handle. Calls to Generate are serialized
// by the Manager.
type InferSession interface {
	// Generate streams tokens for the given prompt. The onToken callback will be invoked
	// for each token; a non-nil return stops generation and is returned as-is.
	// Implementations must return when the context is canceled.
	Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error)
	// Close releases any resources associated with the handle.
	Close() error
}

// InferParams captures generation parameters passed to the adapter.
type InferParams struct {
	Temperature float32
	MaxTokens   int
	Stop        []string
}

// FinalResult summarizes the generation after streaming.
type FinalResult struct {
	Content      string
	FinishReason string
	Tokens       int
}
