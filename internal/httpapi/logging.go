package httpapi

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger used by the HTTP layer. Silent until SetLogger.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "httpapi").Logger() }

// sseLogWriter logs complete SSE data lines at debug level.
type sseLogWriter struct {
	buf []byte
	rid string
}

func (lw *sseLogWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(lw.buf[:idx])
		if line != "" {
			zlog.Debug().Str("request_id", lw.rid).Str("frame", line).Msg("chat>")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel applies when a request carries no override.
var defaultLogLevel = LevelInfo

// SetRequestLogLevel sets the default per-request log level
// ("off", "error", "info" or "debug").
func SetRequestLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// reqEvent returns a log event carrying the request id when the request's
// level admits want, otherwise nil (a no-op for zerolog).
func reqEvent(r *http.Request, have, want LogLevel) *zerolog.Event {
	if have < want {
		return nil
	}
	var ev *zerolog.Event
	switch want {
	case LevelError:
		ev = zlog.Error()
	case LevelDebug:
		ev = zlog.Debug()
	default:
		ev = zlog.Info()
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	return ev.Str("path", r.URL.Path)
}
