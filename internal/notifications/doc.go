// Package notifications delivers job lifecycle events via ntfy.
//
// The default implementation publishes to the ntfy topic configured in
// config.toml (or NTFY_TOPIC) and degrades to a no-op when no topic is set.
// Per-event toggles let operators silence succeeded or failed jobs, and a
// short dedup window keeps repeated failures for the same source from
// flooding the topic.
package notifications
