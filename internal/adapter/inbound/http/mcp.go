package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ultimate-mcp/mcpd/internal/domain/prompt"
	"github.com/ultimate-mcp/mcpd/internal/service/pipeline"
)

// mcpProtocolVersion is the MCP protocol version this mount advertises.
const mcpProtocolVersion = "2025-06-18"

// jsonRPCRequest is the wire shape of one MCP call, generalized from the
// inherited handler.go's JSON-RPC envelope.
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams is the params shape of a "tools/call" request.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// getPromptParams is the params shape of a "prompts/get" request.
type getPromptParams struct {
	Name string `json:"name"`
}

// newMCPHandler mounts the same Registration list the JSON-over-HTTP
// surface uses, advertised under their tool ids, plus the read-only
// prompt catalog under "prompts/list" and "prompts/get" (§6's MCP
// surface: "list_prompts, get_prompt"). A client that omits the SSE
// Accept header gets a protocol-level error rather than a JSON body,
// per §6's explicit "this is correct behavior, not a bug."
// mcpTool is one dispatchable MCP tool: its registration (for method,
// path, and metadata) plus the handler wrapped through the same
// authentication, authorization, and rate-limit chain the HTTP mux
// applies, so a tool invoked over MCP is held to exactly the same C15
// gate as the same tool invoked over JSON-over-HTTP.
type mcpTool struct {
	reg     Registration
	wrapped http.Handler
}

func newMCPHandler(registrations []Registration, promptLib *prompt.Library, cfg pipeline.Config) http.Handler {
	byToolID := make(map[string]mcpTool, len(registrations))
	for _, reg := range registrations {
		var wrapped http.Handler
		if reg.AuthRequired {
			wrapped = cfg.Route(reg.Handler, reg.Permission, reg.Event)
		} else {
			wrapped = cfg.RoutePublic(reg.Handler, reg.Event)
		}
		byToolID[reg.ToolID] = mcpTool{reg: reg, wrapped: wrapped}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !acceptsEventStream(r) {
			writeJSONRPCProtocolError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
			return
		}

		var req jsonRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONRPCProtocolError(w, http.StatusBadRequest, "invalid JSON-RPC envelope")
			return
		}

		resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "initialize":
			resp.Result = map[string]any{"protocolVersion": mcpProtocolVersion}
		case "tools/list":
			resp.Result = toolList(registrations)
		case "tools/call":
			resp.Result, resp.Error = dispatchToolCall(r, byToolID, req.Params)
		case "prompts/list":
			resp.Result = promptLib.List()
		case "prompts/get":
			var params getPromptParams
			if err := json.Unmarshal(req.Params, &params); err != nil {
				resp.Error = &jsonRPCError{Code: -32602, Message: "invalid params"}
				break
			}
			p, ok := promptLib.Get(params.Name)
			if !ok {
				resp.Error = &jsonRPCError{Code: -32001, Message: "unknown prompt: " + params.Name}
				break
			}
			resp.Result = p
		default:
			resp.Error = &jsonRPCError{Code: -32601, Message: "method not found: " + req.Method}
		}

		pipeline.WriteJSON(w, http.StatusOK, resp)
	})
}

func toolList(registrations []Registration) []map[string]string {
	tools := make([]map[string]string, 0, len(registrations)+2)
	for _, reg := range registrations {
		tools = append(tools, map[string]string{"name": reg.ToolID})
	}
	tools = append(tools, map[string]string{"name": "list_prompts"}, map[string]string{"name": "get_prompt"})
	return tools
}

// dispatchToolCall re-invokes the same Registration.Handler the
// JSON-over-HTTP surface uses, so a tool's behavior is identical on both
// surfaces. It builds a synthetic request carrying the MCP call's
// arguments as the JSON body and the caller's identity/authorization
// context (already resolved by the outer pipeline on r.Context()).
func dispatchToolCall(r *http.Request, byToolID map[string]mcpTool, rawParams json.RawMessage) (any, *jsonRPCError) {
	var params toolCallParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, &jsonRPCError{Code: -32602, Message: "invalid params"}
	}

	tool, ok := byToolID[params.Name]
	if !ok {
		return nil, &jsonRPCError{Code: -32601, Message: "unknown tool: " + params.Name}
	}

	inner, err := http.NewRequestWithContext(r.Context(), tool.reg.Method, tool.reg.Path, bytes.NewReader(params.Arguments))
	if err != nil {
		return nil, &jsonRPCError{Code: -32000, Message: "failed to build tool request"}
	}
	inner.Header.Set("Content-Type", "application/json")
	if authz := r.Header.Get("Authorization"); authz != "" {
		inner.Header.Set("Authorization", authz)
	}
	inner.RemoteAddr = r.RemoteAddr

	rec := newResponseBuffer()
	tool.wrapped.ServeHTTP(rec, inner)

	if rec.status >= 400 {
		return nil, &jsonRPCError{Code: -32000, Message: fmt.Sprintf("tool call failed with status %d", rec.status)}
	}

	var result any
	if err := json.Unmarshal(rec.body.Bytes(), &result); err != nil {
		return nil, &jsonRPCError{Code: -32000, Message: "tool returned a non-JSON result"}
	}
	return result, nil
}

// responseBuffer is a minimal http.ResponseWriter that captures a tool
// handler's status and body so it can be folded into a JSON-RPC result,
// without pulling net/http/httptest into a non-test file.
type responseBuffer struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *responseBuffer) WriteHeader(status int) { b.status = status }

func acceptsEventStream(r *http.Request) bool {
	for _, accept := range r.Header.Values("Accept") {
		if accept == "text/event-stream" || accept == "*/*" {
			return true
		}
	}
	return false
}

func writeJSONRPCProtocolError(w http.ResponseWriter, status int, message string) {
	pipeline.WriteJSON(w, status, jsonRPCResponse{
		JSONRPC: "2.0",
		Error:   &jsonRPCError{Code: -32600, Message: message},
	})
}
