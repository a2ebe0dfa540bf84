package e2e

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgw/pkg/types"
)

func TestE2E_BatchCompletion(t *testing.T) {
	fb := newFakeBackend(t, []string{"Hello", " World", " "}, "stop", false)
	srv, _ := newGateway(t, fb.URL, time.Second)

	resp, body := postChat(t, srv.URL, chatBody(false))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json"))

	var out types.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, types.ObjectChatCompletion, out.Object)
	assert.Equal(t, "gemma-test", out.Model)
	assert.True(t, strings.HasPrefix(out.ID, "chatcmpl-"))
	require.Len(t, out.Choices, 1)
	assert.Equal(t, types.RoleAssistant, out.Choices[0].Message.Role)
	assert.Equal(t, "Hello World", out.Choices[0].Message.Content)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
}

func TestE2E_StreamCompletion(t *testing.T) {
	fb := newFakeBackend(t, []string{"Hello", " World"}, "length", false)
	srv, _ := newGateway(t, fb.URL, time.Second)

	resp, body := postChat(t, srv.URL, chatBody(true))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	chunks, done := parseStream(t, body)
	require.True(t, done, "missing [DONE]")
	require.Len(t, chunks, 3)

	var text strings.Builder
	for i, c := range chunks {
		assert.Equal(t, types.ObjectChatCompletionChunk, c.Object)
		assert.Equal(t, chunks[0].ID, c.ID, "chunks share one id")
		require.Len(t, c.Choices, 1)
		if i < len(chunks)-1 {
			assert.Nil(t, c.Choices[0].FinishReason)
			text.WriteString(c.Choices[0].Delta.Content)
		}
	}
	last := chunks[len(chunks)-1].Choices[0]
	require.NotNil(t, last.FinishReason)
	assert.Equal(t, "length", *last.FinishReason)
	assert.Empty(t, last.Delta.Content)
	assert.Equal(t, "Hello World", text.String())
}

func TestE2E_StreamMatchesBatch(t *testing.T) {
	fb := newFakeBackend(t, []string{"The", " sea", " hums", "."}, "stop", false)
	srv, _ := newGateway(t, fb.URL, time.Second)

	_, batchBody := postChat(t, srv.URL, chatBody(false))
	var batch types.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(batchBody, &batch))

	_, streamBody := postChat(t, srv.URL, chatBody(true))
	chunks, done := parseStream(t, streamBody)
	require.True(t, done)

	var text strings.Builder
	var reason string
	for _, c := range chunks {
		text.WriteString(c.Choices[0].Delta.Content)
		if c.Choices[0].FinishReason != nil {
			reason = *c.Choices[0].FinishReason
		}
	}
	assert.Equal(t, batch.Choices[0].Message.Content, text.String())
	assert.Equal(t, batch.Choices[0].FinishReason, reason)
}

func TestE2E_UnreachableBackend(t *testing.T) {
	fb := newFakeBackend(t, nil, "stop", false)
	url := fb.URL
	fb.Close()
	srv, mgr := newGateway(t, url, time.Second)

	resp, body := postChat(t, srv.URL, chatBody(false))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, string(body))
	var eresp types.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &eresp))
	assert.Equal(t, http.StatusServiceUnavailable, eresp.Code)
	assert.NotEmpty(t, eresp.Error)

	// Once headers are sent, the failure is reported in-stream.
	resp, body = postChat(t, srv.URL, chatBody(true))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chunks, done := parseStream(t, body)
	require.True(t, done)
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Choices[0].FinishReason)
	assert.Equal(t, "error", *chunks[0].Choices[0].FinishReason)

	snap := mgr.Snapshot()
	assert.GreaterOrEqual(t, snap.LoadFailures, uint64(2), "each request retries the load")
	assert.Equal(t, 0, snap.Active)
}

func TestE2E_Backpressure429(t *testing.T) {
	fb := newFakeBackend(t, []string{"ok"}, "stop", true)
	srv, _ := newGateway(t, fb.URL, 50*time.Millisecond)

	first := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(chatBody(false)))
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()

	select {
	case <-fb.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first request never reached the engine")
	}

	resp, body := postChat(t, srv.URL, chatBody(false))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, string(body))

	fb.release()
	select {
	case code := <-first:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("first request did not finish")
	}
}

func TestE2E_ModelsAndStatus(t *testing.T) {
	fb := newFakeBackend(t, []string{"hi"}, "stop", false)
	srv, _ := newGateway(t, fb.URL, time.Second)

	var models types.ModelsResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/models", &models))
	require.Len(t, models.Data, 1)
	assert.Equal(t, "gemma-test", models.Data[0].ID)

	var st types.StatusResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/status", &st))
	assert.Equal(t, "unloaded", st.State)

	resp, _ := postChat(t, srv.URL, chatBody(false))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/status", &st))
	assert.Equal(t, "ready", st.State)
	assert.Equal(t, "server", st.Engine)
	assert.NotEmpty(t, st.LoadID)
	assert.Equal(t, uint64(1), st.LoadsTotal)
	assert.Equal(t, 0, st.Active)

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/readyz", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil))
}
