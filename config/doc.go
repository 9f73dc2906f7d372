// Package config loads the agentnet service configuration.
//
// Precedence: built-in defaults, then the YAML file, then environment
// variable overrides (AGENTNET_* by default).
package config
