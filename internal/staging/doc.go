// Package staging owns the on-disk working areas used while a job runs.
//
// Each attempt acquires a fresh scratch directory that is released on every
// exit path. Outputs a later stage depends on are committed into the job's
// workspace, which survives retries and is removed once the job reaches a
// terminal state. Stale-directory sweeps reclaim space left behind by
// crashed processes.
package staging
