// Package fetch downloads the source audio stream with yt-dlp.
//
// Requests are paced by a token bucket so a burst of submissions does not
// trip the upstream rate limiter, and yt-dlp's error output is mapped onto
// the services error taxonomy so the scheduler can decide whether a failure
// is worth retrying.
package fetch
