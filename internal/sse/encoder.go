// Package sse encodes a fragment sequence as OpenAI-style chat completion
// chunks over Server-Sent Events.
package sse

import (
	"bytes"
	"encoding/json"
	"io"
	"iter"
	"net/http"

	"modelgw/internal/generation"
	"modelgw/pkg/types"
)

var doneFrame = []byte("data: [DONE]\n\n")

// SetHeaders sets the response headers for an event stream. Proxies are told
// not to buffer so frames reach the client as they are flushed.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Encoder writes chunks that share one id, creation time and model.
type Encoder struct {
	w       io.Writer
	flush   func()
	id      string
	created int64
	model   string
	buf     bytes.Buffer
}

// NewEncoder returns an Encoder writing to w. flush, if non-nil, is called
// after every frame.
func NewEncoder(w io.Writer, flush func(), id string, created int64, model string) *Encoder {
	return &Encoder{w: w, flush: flush, id: id, created: created, model: model}
}

// Encode drains seq. Every non-empty fragment becomes a content chunk; the
// stream then ends with exactly one terminal chunk carrying the finish reason
// and the [DONE] sentinel. The reason is "error" if seq yielded an error,
// otherwise the last reported reason, defaulting to "stop".
//
// Encode returns the reason and the sequence error, or the first write error,
// after which nothing more is written.
func (e *Encoder) Encode(seq iter.Seq2[generation.Fragment, error]) (generation.FinishReason, error) {
	reason := generation.FinishNone
	var seqErr error
	for frag, err := range seq {
		if err != nil {
			seqErr = err
			reason = generation.FinishError
			break
		}
		if frag.Text != "" {
			if werr := e.writeChunk(types.ChunkDelta{Content: frag.Text}, nil); werr != nil {
				return reason, werr
			}
		}
		if frag.FinishReason != generation.FinishNone {
			reason = frag.FinishReason
		}
	}
	if reason == generation.FinishNone {
		reason = generation.FinishStop
	}
	r := string(reason)
	if err := e.writeChunk(types.ChunkDelta{}, &r); err != nil {
		return reason, err
	}
	if err := e.writeFrame(doneFrame); err != nil {
		return reason, err
	}
	return reason, seqErr
}

func (e *Encoder) writeChunk(delta types.ChunkDelta, finish *string) error {
	chunk := types.ChatCompletionChunk{
		ID:      e.id,
		Object:  types.ObjectChatCompletionChunk,
		Created: e.created,
		Model:   e.model,
		Choices: []types.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
	e.buf.Reset()
	e.buf.WriteString("data: ")
	enc := json.NewEncoder(&e.buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(chunk); err != nil {
		return err
	}
	// json.Encoder terminates with one newline; the frame needs a blank line.
	e.buf.WriteByte('\n')
	return e.writeFrame(e.buf.Bytes())
}

func (e *Encoder) writeFrame(p []byte) error {
	if _, err := e.w.Write(p); err != nil {
		return err
	}
	if e.flush != nil {
		e.flush()
	}
	return nil
}
