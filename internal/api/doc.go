// Package api implements the HTTP REST API and WebSocket server for growrack core.
//
// This package provides:
//   - Rule CRUD over the automation rule registry
//   - Rack listing, creation and activation
//   - Automation event and dispatch failure history
//   - Prometheus metrics and a health endpoint
//   - A WebSocket hub streaming automation events live
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, JWT)
//
// # Security
//
// Read endpoints are open. Mutating endpoints require a bearer JWT signed
// with HS256 using security.jwt.secret. WebSocket connections authenticate
// with a single-use ticket obtained from POST /api/v1/ws/ticket, so tokens
// never appear in URLs.
//
// # Graceful Degradation
//
// Every collaborator except the rule registry is optional: without a rack
// registry the rack routes answer 503, without an audit store the history
// routes do.
package api
