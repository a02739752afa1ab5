package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mcoot/roundsync/internal/api/apierr"
)

// JSON writes data as a JSON response. The body is encoded before anything
// is sent, so a value that cannot be encoded becomes an internal error
// instead of a truncated success.
func JSON(w http.ResponseWriter, status int, data any) {
	var body bytes.Buffer
	if data != nil {
		if err := json.NewEncoder(&body).Encode(data); err != nil {
			apierr.WriteError(w, fmt.Errorf("encode response: %w", err))
			return
		}
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	// Round data goes stale on the next write
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}
