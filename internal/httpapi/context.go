package httpapi

import (
	"context"
	"errors"
)

// errServerShutdown is the cancellation cause of in-flight work when the
// base context ends.
var errServerShutdown = errors.New("server shutting down")

// serverBaseCtx is a process-level context that can be canceled on shutdown.
// Defaults to Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context from req that is also canceled when base is
// done. Values (request id, trace span) come from req.
// The returned cancel func must be called when the handler ends.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(req)
	stop := context.AfterFunc(base, func() { cancel(errServerShutdown) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// clientGone reports whether the request ended because the client went away
// or the server is shutting down.
func clientGone(reqCtx context.Context) bool {
	return reqCtx.Err() != nil || serverBaseCtx.Err() != nil
}
