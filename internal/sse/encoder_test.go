package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgw/internal/generation"
	"modelgw/pkg/types"
)

func seqOf(frags []generation.Fragment, err error) func(func(generation.Fragment, error) bool) {
	return func(yield func(generation.Fragment, error) bool) {
		for _, f := range frags {
			if !yield(f, nil) {
				return
			}
		}
		if err != nil {
			yield(generation.Fragment{FinishReason: generation.FinishError}, err)
		}
	}
}

// frames splits the output into SSE data payloads.
func frames(t *testing.T, out string) []string {
	t.Helper()
	require.True(t, strings.HasSuffix(out, "\n\n"), "output must end with a blank line")
	var res []string
	for _, f := range strings.Split(strings.TrimSuffix(out, "\n\n"), "\n\n") {
		require.True(t, strings.HasPrefix(f, "data: "), "frame %q", f)
		payload := strings.TrimPrefix(f, "data: ")
		require.NotContains(t, payload, "\n")
		res = append(res, payload)
	}
	return res
}

func decode(t *testing.T, payload string) types.ChatCompletionChunk {
	t.Helper()
	var c types.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(payload), &c))
	return c
}

func TestEncodeContentThenTerminal(t *testing.T) {
	var buf bytes.Buffer
	flushes := 0
	enc := NewEncoder(&buf, func() { flushes++ }, "chatcmpl-1", 1, "gemma")
	reason, err := enc.Encode(seqOf([]generation.Fragment{
		{Text: "Hel"}, {Text: "lo"}, {FinishReason: generation.FinishLength},
	}, nil))
	require.NoError(t, err)
	assert.Equal(t, generation.FinishLength, reason)

	fs := frames(t, buf.String())
	require.Len(t, fs, 4)
	assert.Equal(t, 4, flushes)
	assert.Equal(t, "[DONE]", fs[3])

	for i, want := range []string{"Hel", "lo"} {
		c := decode(t, fs[i])
		assert.Equal(t, "chatcmpl-1", c.ID)
		assert.Equal(t, "chat.completion.chunk", c.Object)
		assert.Equal(t, int64(1), c.Created)
		assert.Equal(t, "gemma", c.Model)
		require.Len(t, c.Choices, 1)
		assert.Equal(t, want, c.Choices[0].Delta.Content)
		assert.Nil(t, c.Choices[0].FinishReason)
		assert.Contains(t, fs[i], `"finish_reason":null`)
	}
	term := decode(t, fs[2])
	require.NotNil(t, term.Choices[0].FinishReason)
	assert.Equal(t, "length", *term.Choices[0].FinishReason)
	assert.Equal(t, "", term.Choices[0].Delta.Content)
	assert.Contains(t, fs[2], `"delta":{}`)
}

func TestEncodeEmptySequence(t *testing.T) {
	var buf bytes.Buffer
	reason, err := NewEncoder(&buf, nil, "id", 1, "m").Encode(seqOf(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, generation.FinishStop, reason)
	fs := frames(t, buf.String())
	require.Len(t, fs, 2)
	assert.Equal(t, "stop", *decode(t, fs[0]).Choices[0].FinishReason)
	assert.Equal(t, "[DONE]", fs[1])
}

func TestEncodeErrorTerminal(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	reason, err := NewEncoder(&buf, nil, "id", 1, "m").Encode(seqOf([]generation.Fragment{{Text: "a"}}, boom))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, generation.FinishError, reason)
	fs := frames(t, buf.String())
	require.Len(t, fs, 3)
	assert.Equal(t, "error", *decode(t, fs[1]).Choices[0].FinishReason)
	assert.Equal(t, 1, strings.Count(buf.String(), "[DONE]"))
}

func TestEncodeIsByteFaithful(t *testing.T) {
	var buf bytes.Buffer
	text := "line1\nline2 <b>&</b> \"q\""
	_, err := NewEncoder(&buf, nil, "id", 1, "m").Encode(seqOf([]generation.Fragment{{Text: text}}, nil))
	require.NoError(t, err)
	fs := frames(t, buf.String())
	assert.Contains(t, fs[0], "<b>&</b>")
	assert.Equal(t, text, decode(t, fs[0]).Choices[0].Delta.Content)
}

type failingWriter struct{ n, after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n >= w.after {
		return 0, errors.New("client gone")
	}
	w.n++
	return len(p), nil
}

func TestEncodeStopsOnWriteError(t *testing.T) {
	w := &failingWriter{after: 1}
	pulled := 0
	seq := func(yield func(generation.Fragment, error) bool) {
		for _, s := range []string{"a", "b", "c"} {
			pulled++
			if !yield(generation.Fragment{Text: s}, nil) {
				return
			}
		}
	}
	_, err := NewEncoder(w, nil, "id", 1, "m").Encode(seq)
	require.Error(t, err)
	assert.Equal(t, 2, pulled)
	assert.Equal(t, 1, w.n)
}

func TestSetHeaders(t *testing.T) {
	h := http.Header{}
	SetHeaders(h)
	assert.Equal(t, "text/event-stream", h.Get("Content-Type"))
	assert.Equal(t, "no-cache", h.Get("Cache-Control"))
	assert.Equal(t, "keep-alive", h.Get("Connection"))
	assert.Equal(t, "no", h.Get("X-Accel-Buffering"))
}
