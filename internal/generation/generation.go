// Package generation adapts an engine's token callback into a lazy sequence
// of fragments, in batch or streaming shape.
package generation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"modelgw/internal/manager"
)

// FinishReason tells why a generation ended. The empty value means the
// fragment is not terminal.
type FinishReason string

const (
	FinishNone   FinishReason = ""
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

// Fragment is one unit of generated output.
type Fragment struct {
	Text         string
	FinishReason FinishReason
}

// Params are the per-request sampling parameters.
type Params struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
}

func (p Params) infer() manager.InferParams {
	return manager.InferParams{
		MaxTokens:   p.MaxTokens,
		Temperature: float32(p.Temperature),
		Stop:        p.Stop,
	}
}

// Generator runs a single generation. *manager.Lease satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string, params manager.InferParams, onToken func(string) error) (manager.FinalResult, error)
}

// errStopped is returned from the token callback when the consumer stops
// iterating; the engine halts and the sequence ends quietly.
var errStopped = errors.New("generation: consumer stopped")

// Generate returns a single-pass sequence over the engine output for prompt.
//
// In batch mode the sequence yields exactly one fragment carrying the trimmed
// full text and the finish reason. In streaming mode it yields each non-empty
// token as it is produced, then one empty terminal fragment with the reason.
// An engine failure ends the sequence with an error fragment and a
// *GenerationFailed. A ctx past its deadline (or canceled with a cause) ends
// it with an error fragment carrying that cause; plain cancellation ends it
// without error.
func Generate(ctx context.Context, gen Generator, prompt string, p Params, streaming bool) iter.Seq2[Fragment, error] {
	if streaming {
		return stream(ctx, gen, prompt, p)
	}
	return batch(ctx, gen, prompt, p)
}

func batch(ctx context.Context, gen Generator, prompt string, p Params) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		var b strings.Builder
		res, err := gen.Generate(ctx, prompt, p.infer(), func(tok string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b.WriteString(tok)
			return nil
		})
		if err != nil {
			if stopped(ctx, err) {
				return
			}
			yield(Fragment{FinishReason: FinishError}, fail(ctx, err))
			return
		}
		content := res.Content
		if content == "" {
			content = b.String()
		}
		yield(Fragment{Text: strings.TrimSpace(content), FinishReason: reasonOrStop(res.FinishReason)}, nil)
	}
}

func stream(ctx context.Context, gen Generator, prompt string, p Params) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		halted := false
		res, err := gen.Generate(ctx, prompt, p.infer(), func(tok string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if tok == "" {
				return nil
			}
			if !yield(Fragment{Text: tok}, nil) {
				halted = true
				return errStopped
			}
			return nil
		})
		if halted {
			return
		}
		if err != nil {
			if stopped(ctx, err) {
				return
			}
			yield(Fragment{FinishReason: FinishError}, fail(ctx, err))
			return
		}
		yield(Fragment{FinishReason: reasonOrStop(res.FinishReason)}, nil)
	}
}

// Failed returns a sequence that reports err as an error terminal fragment.
// It lets callers route pre-generation failures through the same encoder.
func Failed(err error) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		yield(Fragment{FinishReason: FinishError}, err)
	}
}

// Canceled reports whether ctx ended because its consumer went away. A
// deadline or a cancellation with another cause is not a quiet stop.
func Canceled(ctx context.Context) bool {
	return ctx.Err() != nil && errors.Is(context.Cause(ctx), context.Canceled)
}

func stopped(ctx context.Context, err error) bool {
	return errors.Is(err, errStopped) || Canceled(ctx)
}

// fail wraps engine errors. Admission errors from the manager keep their
// identity so callers can map them, and an ended ctx reports its cause.
func fail(ctx context.Context, err error) error {
	if manager.IsTooBusy(err) || manager.IsModelUnavailable(err) || errors.Is(err, manager.ErrLeaseReleased) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("generation interrupted: %w", context.Cause(ctx))
	}
	return &GenerationFailed{Err: err}
}

func reasonOrStop(r string) FinishReason {
	if r == "" {
		return FinishStop
	}
	return FinishReason(r)
}
