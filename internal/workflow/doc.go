// Package workflow runs conversion jobs through fetch, transcode and publish.
//
// The Manager owns a fixed pool of workers. A single dispatcher reclaims
// stale leases, claims due jobs from the queue store on behalf of idle
// workers and hands each job over an unbuffered channel, so at most one job
// per worker is ever leased. A worker runs one attempt of its job: it
// consults the result cache, resumes at the stage recorded on the job, keeps
// the lease alive with heartbeats, and converts every stage error into a
// store transition through the retry policy. Queue-level and per-job
// notifications are emitted as jobs start and resolve.
//
// Stage outputs that later stages need are committed into the per-job
// workspace so a retried job can resume without re-fetching. Scratch space
// belongs to a single attempt and is always released.
package workflow
