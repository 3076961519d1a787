// Package gateway authenticates and validates inbound conversion requests
// before handing them to the core service.
//
// Every rejection (bad credential, unsupported source URL, unknown format)
// wraps ErrRejected and happens before the core is invoked, so rejected
// requests never create a job.
package gateway
