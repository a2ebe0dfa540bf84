//go:build !llama

package manager

// This file provides a no-CGO stub for the llama adapter. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.

type llamaAdapter struct {
	ctxSize   int
	threads   int
	gpuLayers int
}

func NewLlamaAdapter(ctxSize, threads, gpuLayers int) InferenceAdapter {
	return &llamaAdapter{ctxSize: ctxSize, threads: threads, gpuLayers: gpuLayers}
}

// Start fails fast: the llama runtime is not available in this build. The
// manager reports the failure as an unavailable model.
func (a *llamaAdapter) Start(modelPath string) (InferSession, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
