// Package publish stores encoded artifacts and issues time-limited retrieval
// URLs for them.
//
// Two backends are provided. The local backend copies artifacts into a
// directory served by the daemon's /files/{token} route and signs download
// tokens with HMAC-SHA256. The s3 backend uploads to any S3-compatible
// service through minio-go and hands out presigned GET URLs. Both publish
// under the deterministic key <source_id>.<ext>, so re-publishing the same
// source overwrites rather than duplicates.
package publish
