// Package api implements the HTTP REST API and WebSocket event stream for
// fleetwatch.
//
// This package provides:
//   - REST endpoints for device registration, telemetry reads, commands and alerts
//   - A WebSocket Hub that implements bus.Publisher with scoped delivery
//   - JWT bearer verification for REST and optional credentials for WebSocket
//   - Middleware (request ID, logging, Prometheus metrics, recovery, CORS, rate limiting)
//
// # Event delivery
//
// Every connected client receives fleet-wide events. Device detail events
// reach only clients that sent subscribe:device for that device; alert:new
// reaches clients that sent subscribe:alerts. Authenticated clients also
// receive events addressed to their user, such as command responses.
// Delivery is best effort: a client whose send buffer is full misses events.
//
// # Graceful Degradation
//
// The server operates without MQTT. Commands are still stored as PENDING
// and reads and WebSocket connections keep working.
package api
