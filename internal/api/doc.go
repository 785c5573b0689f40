// Package api implements the optional HTTP and WebSocket surface of ChatLink.
//
// This package provides:
//   - REST endpoints for link status, the received message log, publishing
//     and connection control
//   - A read-only view of the lifecycle journal
//   - A WebSocket hub relaying link state and new messages in real time
//   - Optional HS256 JWT authentication
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server drives a single chat link through its public commands and
// follows it through Watch. Link errors map onto HTTP statuses: blank text is
// 400, not connected or already connecting is 409, and a disposed link is 503.
//
// # Security
//
// When security.jwt.secret is set, every /api/v1 route except /health needs a
// bearer token signed with that secret. WebSocket clients may pass the token
// as the token query parameter.
package api
