/*
Package main provides the agentnetd server entry point.

# Overview

cmd/agentnetd is the executable front of the agent network substrate. It
serves the registry, coordination, and resource governor HTTP APIs,
exposes Prometheus metrics on a second port, and mirrors state into
SQLite when durable storage is enabled.

# Core types

  - Server          — main server, owns the API and metrics listeners
  - Middleware      — HTTP middleware signature func(http.Handler) http.Handler
  - responseWriter  — wraps http.ResponseWriter to capture the status code

# Capabilities

  - Subcommands: serve, version, health
  - Middleware chain: Recovery, RequestID, SecurityHeaders,
    RequestLogger, MetricsMiddleware, OTelTracing, RateLimiter (per IP)
  - Metrics server: /metrics on a dedicated port
  - Graceful shutdown: signal wait, drain HTTP, stop sweep, drain bus
  - Build injection: Version, BuildTime, GitCommit set via ldflags
*/
package main
