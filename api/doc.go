// Package api groups the HTTP surface of the agent network service.
//
// The service exposes a RESTful API for:
//   - Agent registration, heartbeats, and indexed discovery
//   - Coordination sessions and task graph operations
//   - Resource allocations, usage metering, and enforcement
//   - A WebSocket event stream fed by the in-process bus
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// All endpoints answer with the handlers.Response envelope; errors carry
// the structured code from the types package.
package api
