package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/service/pipeline"
)

// validate is the single validator instance every tool DTO is checked
// against, shared by the HTTP and MCP surfaces so there is exactly one
// place a request's shape is judged, per §4.13's "there MUST NOT be a
// second parallel validator."
var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeAndValidate parses the request body into dst and applies struct
// tag validation. A malformed body is a §6 "400 validation" InvalidInput.
// A well-formed but semantically invalid body (a struct tag failure) is
// the 422 "semantic" case and is written directly rather than becoming
// an *apperr.Error, since no apperr.Kind is reserved for it.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		pipeline.WriteError(w, r, apperr.Wrap(apperr.InvalidInput, "decoding request body", err))
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := map[string]any{"fields": summarizeFieldErrors(fieldErrs)}
			pipeline.WriteSemanticError(w, r, "request failed field validation", details)
			return false
		}
		pipeline.WriteError(w, r, apperr.Wrap(apperr.InvalidInput, "validating request body", err))
		return false
	}

	return true
}

func summarizeFieldErrors(fieldErrs validator.ValidationErrors) []string {
	out := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return out
}
