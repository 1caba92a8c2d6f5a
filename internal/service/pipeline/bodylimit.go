package pipeline

import (
	"net/http"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
)

// BodyLimit is stage 2 of §4.12: reject payloads over B_MAX before
// parsing. A Content-Length that already exceeds the limit is rejected
// without touching the body; otherwise the body reader itself is capped
// so a chunked or lying request can't slip past the check, mirroring the
// inherited handler's http.MaxBytesReader use.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteError(w, r, apperr.New(apperr.TooLarge, "request body exceeds the maximum allowed size"))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
