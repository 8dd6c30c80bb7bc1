// Package server provides the agent's HTTP surface: a Gin engine served over
// HTTP/1.1 and h2c, lifecycle-managed as a component.
//
// # Middleware
//
// Applied at the handler level to every route (server/middleware):
//
//   - Recovery: panic recovery with structured logging
//   - RequestID: X-Request-Id generation and propagation
//   - RequestLogger: request logging with status and duration
//
// # Endpoints
//
// Registered by RegisterDefaultEndpoints (server/endpoint):
//
//   - /health: runs the supplied checks; 500 on any failure, 429 on any warning
//   - /info: build and version information
//   - /services, /services/:name: the discovery cache
package server
