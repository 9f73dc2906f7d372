/*
Package metrics provides Prometheus-based metrics collection for the
agentnet core, covering the HTTP surface, the registry, the coordination
engine, the resource governor, and the event bus.

The Collector registers its vectors through promauto under one namespace.
An EventObserver can be attached to the event bus so every domain event
increments its counter without the subsystems knowing about Prometheus.
*/
package metrics
