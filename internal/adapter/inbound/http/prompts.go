package http

import (
	"net/http"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/prompt"
	"github.com/ultimate-mcp/mcpd/internal/service/pipeline"
)

// promptsListHandler answers GET /prompts with the full catalog.
func promptsListHandler(lib *prompt.Library) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pipeline.WriteJSON(w, http.StatusOK, lib.List())
	})
}

// promptsGetHandler answers GET /prompts/{id} with one prompt, or a 404
// NotFound if the id isn't in the catalog.
func promptsGetHandler(lib *prompt.Library) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		p, ok := lib.Get(id)
		if !ok {
			pipeline.WriteError(w, r, apperr.New(apperr.NotFound, "no prompt with that id"))
			return
		}
		pipeline.WriteJSON(w, http.StatusOK, p)
	})
}
