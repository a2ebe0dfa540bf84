package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultConnectTimeout = 5 * time.Second

// llamaServerAdapter implements InferenceAdapter by talking to a running
// llama.cpp server over its OpenAI-compatible HTTP API.
type llamaServerAdapter struct {
	baseURL        string
	apiKey         string
	reqTimeout     time.Duration
	connectTimeout time.Duration
	httpClient     *http.Client
	log            zerolog.Logger
}

// NewLlamaServerAdapter constructs a server-backed adapter.
func NewLlamaServerAdapter(baseURL, apiKey string, reqTimeout, connectTimeout time.Duration, log zerolog.Logger) InferenceAdapter {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	cli := &http.Client{Transport: tr, Timeout: 0}
	return &llamaServerAdapter{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		reqTimeout:     reqTimeout,
		connectTimeout: connectTimeout,
		httpClient:     cli,
		log:            log.With().Str("adapter", "llama_server").Logger(),
	}
}

// llamaServerSession is the handle for a reachable server.
type llamaServerSession struct {
	adapter *llamaServerAdapter
	modelID string
}

// Start probes the server so an unreachable backend surfaces as a load failure
// rather than on every generation.
func (a *llamaServerAdapter) Start(modelPath string) (InferSession, error) {
	if a.baseURL == "" {
		return nil, ErrDependencyUnavailable("llama server url is not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.connectTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	a.authorize(req)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llama server unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New("llama server health check: " + resp.Status)
	}
	return &llamaServerSession{adapter: a, modelID: strings.TrimSpace(modelPath)}, nil
}

func (a *llamaServerAdapter) authorize(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

// openAICompletionRequest represents the payload for /v1/completions.
type openAICompletionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float32  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

// openAIStreamChoice is a minimal subset of a streamed completion choice.
// llama-server fills text; chat-shaped servers fill delta.content.
type openAIStreamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type openAIStreamResponse struct {
	Object  string               `json:"object"`
	Choices []openAIStreamChoice `json:"choices"`
}

func (s *llamaServerSession) Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	a := s.adapter
	if a == nil || a.httpClient == nil {
		return FinalResult{}, errors.New("llama server adapter not initialized")
	}
	if a.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.reqTimeout)
		defer cancel()
	}

	payload := openAICompletionRequest{
		Model:       s.modelID,
		Prompt:      prompt,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		Stop:        params.Stop,
		Stream:      true,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return FinalResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	a.authorize(req)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return FinalResult{}, errors.New("llama server http error: " + resp.Status + ": " + string(b))
	}

	// Stream parse: Server-Sent Events with lines beginning with "data: ".
	r := bufio.NewReader(resp.Body)
	var final FinalResult
	var content strings.Builder
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(strings.ToLower(line), "data:") {
				data := strings.TrimSpace(line[len("data:"):])
				if data == "[DONE]" {
					break
				}
				var msg openAIStreamResponse
				if jerr := json.Unmarshal([]byte(data), &msg); jerr != nil || len(msg.Choices) == 0 {
					a.log.Debug().Str("event", "unknown_stream_line").Str("line", line).Msg("skipping")
				} else {
					ch := msg.Choices[0]
					frag := ch.Text
					if frag == "" {
						frag = ch.Delta.Content
					}
					if frag != "" {
						final.Tokens++
						content.WriteString(frag)
						if cbErr := onToken(frag); cbErr != nil {
							final.Content = content.String()
							return final, cbErr
						}
					}
					if ch.FinishReason != "" {
						final.FinishReason = ch.FinishReason
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return final, ctx.Err()
			}
			a.log.Warn().Err(err).Str("event", "stream_read_error").Msg("reading completion stream")
			return final, err
		}
	}
	final.Content = content.String()
	return final, nil
}

func (s *llamaServerSession) Close() error {
	s.adapter.httpClient.CloseIdleConnections()
	return nil
}
