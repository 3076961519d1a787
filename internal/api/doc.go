// Package api is the core service surface of tonearm and the wire-format
// types shared by the HTTP server and the CLI.
//
// # Key Types
//
// Service: Submit enqueues a conversion and returns a JobHandle at once; Get,
// List and History read the job store at any time. Remove and Clear prune
// terminal jobs.
//
// JobView: transport representation of a job with progress, result (retrieval
// URL and expiry) or error class and message.
//
// WorkflowStatus, DaemonStatus: scheduler state, queue stats, stage health and
// dependency availability.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums (queue.Status, services.Kind)
// are exposed as lowercase strings. Timestamps use RFC3339 with milliseconds.
// Submission validation here is the last line of defence; the gateway rejects
// unauthenticated or malformed requests before they reach the Service.
package api
