// Package chat implements the chat completion use case on top of the model
// manager: prompt rendering, lease handling, generation and response shaping.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"modelgw/internal/generation"
	"modelgw/internal/manager"
	"modelgw/internal/prompt"
	"modelgw/internal/sse"
	"modelgw/pkg/types"
)

var tracer = otel.Tracer("modelgw/chat")

// stopSequences end a model turn for Gemma-format prompts.
var stopSequences = []string{"<end_of_turn>"}

const ownedBy = "modelgw"

// Service serves chat completions for the single managed model.
type Service struct {
	mgr     *manager.Manager
	log     zerolog.Logger
	now     func() time.Time
	started time.Time
}

// New returns a Service backed by mgr. A nil logger disables logging.
func New(mgr *manager.Manager, log *zerolog.Logger) *Service {
	s := &Service{mgr: mgr, now: time.Now, started: time.Now()}
	if log != nil {
		s.log = log.With().Str("component", "chat").Logger()
	} else {
		s.log = zerolog.Nop()
	}
	return s
}

// Complete runs a batch completion.
func (s *Service) Complete(ctx context.Context, req types.ChatRequest) (types.ChatCompletionResponse, error) {
	req.Normalize()
	created := s.now().Unix()
	model := s.modelName(req)
	ctx, span := tracer.Start(ctx, "chat.complete", trace.WithAttributes(
		attribute.String("modelgw.model", model),
		attribute.Int("modelgw.messages", len(req.Messages)),
	))
	defer span.End()

	lease, err := s.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil && !generation.Canceled(ctx) {
			err = context.Cause(ctx)
		}
		return types.ChatCompletionResponse{}, err
	}
	defer lease.Release()

	var (
		frag   generation.Fragment
		genErr error
		got    bool
	)
	for f, err := range generation.Generate(ctx, lease, prompt.Build(req.Messages), params(req), false) {
		frag, genErr, got = f, err, true
	}
	if genErr != nil {
		span.RecordError(genErr)
		s.log.Error().Err(genErr).Str("load_id", lease.LoadID).Msg("generation failed")
		return types.ChatCompletionResponse{}, genErr
	}
	if !got {
		// Only cancellation ends a batch generation without a fragment.
		if err := ctx.Err(); err != nil {
			return types.ChatCompletionResponse{}, err
		}
		return types.ChatCompletionResponse{}, &generation.GenerationFailed{Err: errors.New("engine produced no result")}
	}
	span.SetAttributes(attribute.String("modelgw.finish_reason", string(frag.FinishReason)))

	return types.ChatCompletionResponse{
		ID:      completionID(created),
		Object:  types.ObjectChatCompletion,
		Created: created,
		Model:   model,
		Choices: []types.ChatChoice{{
			Index:        0,
			Message:      types.ChatMessage{Role: types.RoleAssistant, Content: frag.Text},
			FinishReason: string(frag.FinishReason),
		}},
	}, nil
}

// Stream runs a streaming completion, writing SSE frames to w and calling
// flush after each one. Headers must already be sent. Failures after the
// stream has started are reported in-stream as an error terminal chunk;
// the returned error is for logging only.
func (s *Service) Stream(ctx context.Context, req types.ChatRequest, w io.Writer, flush func()) (generation.FinishReason, error) {
	req.Normalize()
	created := s.now().Unix()
	model := s.modelName(req)
	ctx, span := tracer.Start(ctx, "chat.stream", trace.WithAttributes(
		attribute.String("modelgw.model", model),
		attribute.Int("modelgw.messages", len(req.Messages)),
	))
	defer span.End()

	enc := sse.NewEncoder(w, flush, completionID(created), created, model)
	lease, err := s.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		if generation.Canceled(ctx) {
			return generation.FinishNone, err
		}
		if ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		return enc.Encode(generation.Failed(err))
	}
	defer lease.Release()

	reason, err := enc.Encode(generation.Generate(ctx, lease, prompt.Build(req.Messages), params(req), true))
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("modelgw.finish_reason", string(reason)))
	return reason, err
}

func (s *Service) acquire(ctx context.Context) (*manager.Lease, error) {
	ctx, span := tracer.Start(ctx, "chat.acquire")
	defer span.End()
	lease, err := s.mgr.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("acquire failed")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("modelgw.load_id", lease.LoadID))
	return lease, nil
}

// Models lists the served model.
func (s *Service) Models() types.ModelsResponse {
	return types.ModelsResponse{
		Object: types.ObjectList,
		Data: []types.ModelCard{{
			ID:      s.mgr.ModelName(),
			Object:  types.ObjectModel,
			Created: s.started.Unix(),
			OwnedBy: ownedBy,
		}},
	}
}

// Status reports the model lifecycle state.
func (s *Service) Status() types.StatusResponse { return s.mgr.Status() }

// Ready reports whether requests can be admitted without waiting on a load.
func (s *Service) Ready() bool { return s.mgr.Ready() }

func (s *Service) modelName(req types.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return s.mgr.ModelName()
}

func params(req types.ChatRequest) generation.Params {
	return generation.Params{
		MaxTokens:   *req.MaxTokens,
		Temperature: *req.Temperature,
		Stop:        stopSequences,
	}
}

func completionID(created int64) string {
	return fmt.Sprintf("chatcmpl-%d", created)
}
