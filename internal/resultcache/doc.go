// Package resultcache remembers where the artifact for a (source, format)
// pair was published so repeated submissions can skip the pipeline.
//
// The cache is advisory. Backends may lose entries or fail outright; the
// Advisory wrapper logs backend errors and reports a miss so callers fall back
// to running the pipeline. Entries are written only after a successful
// publish, and the last writer for a key wins.
package resultcache
