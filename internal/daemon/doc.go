// Package daemon coordinates the long-running tonearm process.
//
// It wires configuration, the job store, the workflow manager, and the HTTP
// API into a single lifecycle with flock-based locking to prevent multiple
// instances. The daemon also runs periodic staging and API key cleanup and
// reports dependency health for status endpoints.
//
// Keep orchestration logic here: pipeline stages live in their own packages
// while the daemon focuses on startup, shutdown, and request routing.
package daemon
