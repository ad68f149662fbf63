// Package gateway is the dialog-relay HTTP server.
//
// # Architecture
//
// The Gateway wires the components together and owns their lifecycle:
//
//   - store.Store persists conversations and messages (SQLite)
//   - completion.Client talks to the chat-completions provider
//   - dialog.Orchestrator runs one turn per request
//   - dialog.Broadcaster fans conversation changes out to open feeds
//   - dedupe.Cache rejects repeated Idempotency-Key submissions
//
// Everything is built in New from configuration, or injected with options
// in tests, and released in Shutdown.
//
// # HTTP Endpoints
//
// Health (no auth):
//
//	GET /health          - liveness
//	GET /health/ready    - store reachable
//
// Chat API (bearer token, under /api/v1/chat):
//
//	GET    /conversations                 - list own conversations
//	POST   /conversations                 - create a conversation
//	GET    /conversations/events          - SSE change feed
//	GET    /conversations/{id}            - conversation with messages
//	DELETE /conversations/{id}            - delete with messages
//	GET    /conversations/{id}/messages   - messages oldest first
//	GET    /conversations/{id}/transcript - markdown or html export
//	GET    /usage                         - stored usage totals
//	POST   /dialog/stream                 - streamed reply (SSE)
//	POST   /dialog/completion             - whole reply (JSON)
//
// # Response Envelope
//
// Conversation routes answer {"status":"success","data":...} or
// {"status":"error","message":...}. The completion route answers
// {"text","conversationId"} or {"error","conversationId"}.
//
// # Streaming
//
// POST /dialog/stream relays orchestrator events through sse.Relay:
// unlabeled data frames carry reply text, then one conversationComplete or
// error frame ends the stream.
package gateway
