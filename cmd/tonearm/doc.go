// Command tonearm runs the conversion daemon and provides the operator CLI.
//
// `tonearm serve` starts the worker pool and HTTP API. The remaining
// commands open the job database directly, so they work whether or not the
// daemon is running: submissions made while the daemon is up are picked up on
// its next queue poll.
package main
