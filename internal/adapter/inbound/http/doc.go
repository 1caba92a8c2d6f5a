// Package http provides the inbound JSON-over-HTTP and MCP
// streaming-HTTP transport adapter.
//
// Server owns one mux serving two surfaces over the same tool registry:
//
//   - JSON-over-HTTP: one route per tool (POST /lint_code,
//     /execute_code, /run_tests, /generate_code, /graph_upsert,
//     /graph_query), plus GET /health, GET /metrics, GET /prompts,
//     GET /prompts/{id}, and POST /auth/revoke, /auth/revoke_all.
//   - MCP: a single POST /mcp endpoint speaking JSON-RPC 2.0, advertising
//     the same tool ids via tools/list and dispatching tools/call to the
//     identical Registration.Handler the HTTP surface uses, so behavior
//     never drifts between the two. A client that does not send the
//     text/event-stream Accept header receives a protocol-level error.
//
// # Request pipeline
//
// Every request passes through the shared middleware chain in
// internal/service/pipeline: correlation id, body size limit, CORS and
// security headers, authentication, authorization, rate limiting, and
// audit logging. Routes marked "Auth: no" in the tool registry skip
// authentication and authorization but still rate limit and audit.
//
// # Registry
//
// NewRegistrations builds the fixed, immutable list of tool routes from
// the domain services. Both buildMux and newMCPHandler consume the same
// list, and decodeAndValidate is the single validator instance both
// surfaces use, so a tool's input schema can never diverge between them.
package http
