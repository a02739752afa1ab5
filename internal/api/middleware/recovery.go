package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mcoot/roundsync/internal/api/apierr"
	"github.com/mcoot/roundsync/internal/middleware"
)

// Recovery turns a handler panic into an internal error response. The body
// carries the request ID so a client report can be matched to the logged
// stack.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return middleware.Recovery(logger, writePanicResponse)
}

// writePanicResponse answers with an internal error. If the handler had
// already started its response, a second status cannot be sent, so the
// connection is aborted and the client sees a truncated reply.
func writePanicResponse(w http.ResponseWriter, _ *http.Request, _ any) {
	if rw, ok := w.(*middleware.ResponseWriter); ok && rw.Committed() {
		panic(http.ErrAbortHandler)
	}
	w.Header().Set("Connection", "close")
	apierr.WriteError(w, apierr.NewInternalError())
}
