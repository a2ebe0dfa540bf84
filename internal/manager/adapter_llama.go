//go:build llama

package manager

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaAdapter holds global config used to initialize the model
type llamaAdapter struct {
	ctxSize   int
	threads   int
	gpuLayers int
}

func NewLlamaAdapter(ctxSize, threads, gpuLayers int) InferenceAdapter {
	return &llamaAdapter{ctxSize: ctxSize, threads: threads, gpuLayers: gpuLayers}
}

// llamaSession owns the loaded model
type llamaSession struct {
	model   *llama.LLama
	threads int
}

func (a *llamaAdapter) Start(modelPath string) (InferSession, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{
		llama.SetContext(a.ctxSize),
		llama.SetGPULayers(a.gpuLayers),
	}
	m, err := llama.New(modelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaSession{model: m, threads: a.threads}, nil
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	if s.model == nil {
		return FinalResult{}, errors.New("llama model not initialized")
	}

	// Bridge token streaming to onToken and respect cancellation
	var cbErr error
	count := 0
	s.model.SetTokenCallback(func(tok string) bool {
		if err := ctx.Err(); err != nil {
			cbErr = err
			return false
		}
		count++
		if err := onToken(tok); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	defer s.model.SetTokenCallback(nil)

	text, err := s.model.Predict(prompt, predictOptions(params, s.threads)...)
	if cbErr != nil {
		return FinalResult{Content: text, Tokens: count}, cbErr
	}
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	reason := "stop"
	if params.MaxTokens > 0 && count >= params.MaxTokens {
		reason = "length"
	}
	return FinalResult{Content: text, FinishReason: reason, Tokens: count}, nil
}

func (s *llamaSession) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

// predictOptions converts our adapter params into go-llama.cpp options
func predictOptions(params InferParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, params.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTemperature(params.Temperature),
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}
