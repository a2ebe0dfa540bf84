package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modelgw/internal/chat"
	"modelgw/internal/httpapi"
	"modelgw/internal/manager"
	"modelgw/pkg/types"
)

// fakeBackend is an httptest llama-server speaking the OpenAI completions
// stream. When hold is set, generation blocks until release is called.
type fakeBackend struct {
	*httptest.Server
	frags  []string
	finish string

	hold     bool
	entered  chan struct{}
	released chan struct{}
	once     sync.Once
}

func newFakeBackend(t *testing.T, frags []string, finish string, hold bool) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{
		frags:    frags,
		finish:   finish,
		hold:     hold,
		entered:  make(chan struct{}, 8),
		released: make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"fake","object":"model"}]}`))
	})
	mux.HandleFunc("/v1/completions", fb.completions)
	fb.Server = httptest.NewServer(mux)
	// Cleanups run last-in first-out: unblock handlers before closing.
	t.Cleanup(fb.Close)
	t.Cleanup(fb.release)
	return fb
}

func (fb *fakeBackend) release() { fb.once.Do(func() { close(fb.released) }) }

func (fb *fakeBackend) completions(w http.ResponseWriter, r *http.Request) {
	select {
	case fb.entered <- struct{}{}:
	default:
	}
	if fb.hold {
		select {
		case <-fb.released:
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fl, _ := w.(http.Flusher)
	for _, f := range fb.frags {
		fmt.Fprintf(w, "data: {\"choices\":[{\"text\":%q,\"finish_reason\":null}]}\n\n", f)
		if fl != nil {
			fl.Flush()
		}
	}
	fmt.Fprintf(w, "data: {\"choices\":[{\"text\":\"\",\"finish_reason\":%q}]}\n\n", fb.finish)
	fmt.Fprint(w, "data: [DONE]\n\n")
}

// newGateway wires the server engine, chat service and HTTP mux against url.
func newGateway(t *testing.T, url string, maxWait time.Duration) (*httptest.Server, *manager.Manager) {
	t.Helper()
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		ModelPath:      "fake",
		ModelName:      "gemma-test",
		Engine:         manager.EngineServer,
		ServerURL:      url,
		ServerTimeout:  5 * time.Second,
		ConnectTimeout: time.Second,
		MaxWait:        maxWait,
	})
	srv := httptest.NewServer(httpapi.NewMux(chat.New(mgr, nil)))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return srv, mgr
}

func chatBody(stream bool) string {
	return fmt.Sprintf(`{"messages":[{"role":"user","content":"hi"}],"max_tokens":16,"stream":%t}`, stream)
}

func postChat(t *testing.T, base, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, base+"/v1/chat/completions", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

// parseStream splits an event-stream body into decoded chunks and reports
// whether it ended with the [DONE] sentinel.
func parseStream(t *testing.T, body []byte) ([]types.ChatCompletionChunk, bool) {
	t.Helper()
	var (
		chunks []types.ChatCompletionChunk
		done   bool
	)
	for _, frame := range strings.Split(string(body), "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		require.True(t, strings.HasPrefix(frame, "data: "), "bad frame %q", frame)
		payload := strings.TrimPrefix(frame, "data: ")
		require.False(t, done, "frame after [DONE]: %q", frame)
		if payload == "[DONE]" {
			done = true
			continue
		}
		var c types.ChatCompletionChunk
		require.NoError(t, json.Unmarshal([]byte(payload), &c))
		chunks = append(chunks, c)
	}
	return chunks, done
}
