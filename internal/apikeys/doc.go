// Package apikeys issues, lists, and revokes the client keys accepted by the
// submission gateway.
//
// Keys live in the api_keys table of the job database. A key is valid while
// it has not been revoked and its expiry lies in the future; new keys are
// valid for a configurable number of days (180 by default).
package apikeys
