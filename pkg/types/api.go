package types

import "strings"

// Chat roles accepted on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request defaults applied by ChatRequest.Normalize.
const (
	DefaultMaxTokens   = 256
	DefaultTemperature = 0.7
)

// Object names used in OpenAI-compatible envelopes.
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
	ObjectList                = "list"
	ObjectModel               = "model"
)

// ChatMessage is one role-attributed turn of a conversation.
type ChatMessage struct {
	// Speaker role: system, user or assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// Turn text.
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// ChatRequest is the payload of POST /v1/chat/completions.
type ChatRequest struct {
	// Model name echoed back in the response. The gateway serves a single model.
	// example: gemma-3-12b
	Model string `json:"model" example:"gemma-3-12b"`
	// Ordered conversation turns; must not be empty.
	Messages []ChatMessage `json:"messages"`
	// Maximum number of new tokens to generate (default 256).
	// example: 256
	MaxTokens *int `json:"max_tokens,omitempty" example:"256"`
	// Sampling temperature (default 0.7).
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// If true, the response is a text/event-stream of chat.completion.chunk objects.
	// example: false
	Stream bool `json:"stream,omitempty" example:"false"`
}

// Normalize fills omitted sampling parameters with their defaults.
func (r *ChatRequest) Normalize() {
	if r.MaxTokens == nil {
		n := DefaultMaxTokens
		r.MaxTokens = &n
	}
	if r.Temperature == nil {
		t := DefaultTemperature
		r.Temperature = &t
	}
}

// Validate reports the first problem with the request, or "" when it is usable.
func (r *ChatRequest) Validate() string {
	if len(r.Messages) == 0 {
		return "messages is required"
	}
	for _, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			if strings.TrimSpace(m.Role) == "" {
				return "message role is required"
			}
			return "unsupported message role: " + m.Role
		}
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return "max_tokens must be >= 1"
	}
	if r.Temperature != nil && *r.Temperature < 0 {
		return "temperature must be >= 0"
	}
	return ""
}

// ChatChoice is the single choice of a batch completion.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionResponse is returned for stream=false.
type ChatCompletionResponse struct {
	// example: chatcmpl-1700000000
	ID string `json:"id" example:"chatcmpl-1700000000"`
	// example: chat.completion
	Object string `json:"object" example:"chat.completion"`
	// Creation time in unix seconds.
	// example: 1700000000
	Created int64        `json:"created" example:"1700000000"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// ChunkDelta carries incremental content. It is empty on the terminal chunk.
type ChunkDelta struct {
	Content string `json:"content,omitempty"`
}

// ChunkChoice is the single choice of a streamed chunk. FinishReason is null
// on every chunk except the terminal one.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one event of a streamed completion.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ModelCard describes the served model in GET /v1/models.
type ModelCard struct {
	// example: gemma-3-12b
	ID      string `json:"id" example:"gemma-3-12b"`
	Object  string `json:"object" example:"model"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by" example:"modelgw"`
}

// ModelsResponse is returned by GET /v1/models.
type ModelsResponse struct {
	Object string      `json:"object" example:"list"`
	Data   []ModelCard `json:"data"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Lifecycle state of the model handle: unloaded, loading or ready.
	// example: ready
	State string `json:"state" example:"ready"`
	// Served model name.
	// example: gemma-3-12b
	Model string `json:"model" example:"gemma-3-12b"`
	// Model artifact location.
	ModelPath string `json:"model_path"`
	// Whether the model artifact currently exists on disk (always true for remote engines).
	ModelFound bool `json:"model_found"`
	// Engine backend: llama or server.
	// example: llama
	Engine string `json:"engine" example:"llama"`
	// Identifier of the current load; empty when unloaded.
	LoadID string `json:"load_id,omitempty"`
	// Last time the handle was acquired or released (unix seconds, 0 if never).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Seconds of inactivity after which the handle is released.
	// example: 300
	IdleTimeoutSeconds int64 `json:"idle_timeout_seconds" example:"300"`
	// Leases currently holding the handle.
	// example: 1
	Active int `json:"active" example:"1"`
	// Whether a generation currently holds the engine.
	Generating bool `json:"generating"`
	// Total number of successful model loads.
	// example: 3
	LoadsTotal uint64 `json:"loads_total" example:"3"`
	// Total number of failed model loads.
	LoadFailuresTotal uint64 `json:"load_failures_total"`
	// Total number of idle evictions.
	// example: 2
	EvictionsTotal uint64 `json:"evictions_total" example:"2"`
	// Last load error, if the most recent load failed.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
