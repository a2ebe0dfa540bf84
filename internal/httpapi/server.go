package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelgw/internal/generation"
	"modelgw/internal/manager"
	"modelgw/internal/sse"
	"modelgw/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Complete(ctx context.Context, req types.ChatRequest) (types.ChatCompletionResponse, error)
	Stream(ctx context.Context, req types.ChatRequest, w io.Writer, flush func()) (generation.FinishReason, error)
	Models() types.ModelsResponse
	Status() types.StatusResponse
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(corsOptions()))
	}

	// Chat is not compressed so SSE frames leave as they are flushed.
	r.Post("/v1/chat/completions", handleChat(svc))

	r.Group(func(r chi.Router) {
		// Compression for JSON endpoints
		r.Use(middleware.Compress(5))
		r.Get("/v1/models", handleModels(svc))
		r.Get("/status", handleStatus(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func corsOptions() cors.Options {
	methods := corsAllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	headers := corsAllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Accept", "Authorization", "Content-Type", "X-Log-Level", "X-Request-Id"}
	}
	return cors.Options{
		AllowedOrigins: corsAllowedOrigins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}
}

// handleModels lists the served model.
//
// @Summary      List models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /v1/models [get]
func handleModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Models())
	}
}

// handleStatus reports the model lifecycle.
//
// @Summary      Model status
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	}
}

// handleChat serves OpenAI-style chat completions.
//
// @Summary      Create a chat completion
// @Description  Returns one JSON completion, or a text/event-stream of chat.completion.chunk events when stream is true.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Param        request  body      types.ChatRequest  true  "Chat request"
// @Success      200      {object}  types.ChatCompletionResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      413      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      500      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /v1/chat/completions [post]
func handleChat(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Content-Type check
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if msg := req.Validate(); msg != "" {
			writeJSONError(w, http.StatusBadRequest, msg)
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		reqEvent(r, lvl, LevelInfo).Str("model", req.Model).Bool("stream", req.Stream).Int("messages", len(req.Messages)).Msg("chat start")

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if requestTimeout > 0 {
			var cancelTimeout context.CancelFunc
			ctx, cancelTimeout = context.WithTimeout(ctx, requestTimeout)
			defer cancelTimeout()
		}

		if req.Stream {
			serveStream(ctx, svc, req, w, r, lvl, start)
			return
		}

		resp, err := svc.Complete(ctx, req)
		if err != nil {
			if clientGone(r.Context()) {
				reqEvent(r, lvl, LevelInfo).Dur("dur", time.Since(start)).Msg("chat canceled")
				return
			}
			status := statusFor(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure("engine_busy")
			}
			writeJSONError(w, status, err.Error())
			want := LevelInfo
			if status >= http.StatusInternalServerError {
				want = LevelError
			}
			reqEvent(r, lvl, want).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("chat end")
			return
		}
		writeJSON(w, resp)
		reqEvent(r, lvl, LevelInfo).Int("status", http.StatusOK).Str("finish_reason", firstFinishReason(resp)).Dur("dur", time.Since(start)).Msg("chat end")
	}
}

// serveStream sends the event stream. Once headers are out, every outcome is
// reported in-stream by the service.
func serveStream(ctx context.Context, svc Service, req types.ChatRequest, w http.ResponseWriter, r *http.Request, lvl LogLevel, start time.Time) {
	sse.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
		flush()
	}
	writer := io.Writer(w)
	if lvl >= LevelDebug {
		writer = io.MultiWriter(w, &sseLogWriter{rid: middleware.GetReqID(r.Context())})
	}
	reason, err := svc.Stream(ctx, req, writer, flush)
	if clientGone(r.Context()) {
		reqEvent(r, lvl, LevelInfo).Dur("dur", time.Since(start)).Msg("chat stream canceled")
		return
	}
	observeStream(string(reason))
	if err != nil {
		if manager.IsTooBusy(err) {
			IncrementBackpressure("engine_busy")
		}
		reqEvent(r, lvl, LevelError).Str("finish_reason", string(reason)).Dur("dur", time.Since(start)).Err(err).Msg("chat stream end")
		return
	}
	reqEvent(r, lvl, LevelInfo).Str("finish_reason", string(reason)).Dur("dur", time.Since(start)).Msg("chat stream end")
}

func firstFinishReason(resp types.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].FinishReason
}
