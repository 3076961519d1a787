package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if c.APIKeys.ValidityDays <= 0 {
		return errors.New("api_keys.validity_days must be positive")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if err := ensurePositiveMap(map[string]int{
		"workers.count":                 c.Workers.Count,
		"workers.queue_poll_interval":   c.Workers.QueuePollInterval,
		"workers.stage_timeout":         c.Workers.StageTimeout,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Workers.HeartbeatInterval <= 0 {
		return errors.New("workers.heartbeat_interval must be positive")
	}
	if c.Workers.HeartbeatTimeout <= 0 {
		return errors.New("workers.heartbeat_timeout must be positive")
	}
	if c.Workers.HeartbeatTimeout <= c.Workers.HeartbeatInterval {
		return errors.New("workers.heartbeat_timeout must be greater than workers.heartbeat_interval")
	}
	if c.Workers.MinScratchFreeMiB < 0 {
		return errors.New("workers.min_scratch_free_mib must be >= 0")
	}
	if c.Workers.ScratchRetentionHr < 0 {
		return errors.New("workers.scratch_retention_hours must be >= 0")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelaySeconds < 0 {
		return errors.New("retry.base_delay_seconds must be >= 0")
	}
	if c.Retry.MaxDelaySeconds < c.Retry.BaseDelaySeconds {
		return errors.New("retry.max_delay_seconds must be >= retry.base_delay_seconds")
	}
	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return errors.New("cache.redis_url must be set when cache.backend is redis (or set REDIS_URL)")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported (use %q or %q)", c.Cache.Backend, CacheMemory, CacheRedis)
	}
	if c.Cache.TTLHours <= 0 {
		return errors.New("cache.ttl_hours must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set when storage.backend is local")
		}
	case StorageS3:
		if c.Storage.Endpoint == "" {
			return errors.New("storage.endpoint must be set when storage.backend is s3")
		}
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set when storage.backend is s3 (or set S3_BUCKET_NAME)")
		}
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return errors.New("storage.access_key and storage.secret_key must be set when storage.backend is s3 (or set AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY)")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported (use %q or %q)", c.Storage.Backend, StorageLocal, StorageS3)
	}
	if c.Storage.URLTTLSeconds <= 0 {
		return errors.New("storage.url_ttl_seconds must be positive")
	}
	return nil
}

func (c *Config) validateFetch() error {
	if c.Fetch.RequestsPerMinute < 0 {
		return errors.New("fetch.requests_per_minute must be >= 0")
	}
	if c.Fetch.RequestsPerMinute > 0 && c.Fetch.Burst <= 0 {
		return errors.New("fetch.burst must be positive when fetch.requests_per_minute is set")
	}
	for _, arg := range c.Fetch.ExtraArgs {
		if strings.TrimSpace(arg) == "" {
			return errors.New("fetch.extra_args must not contain blank entries")
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.DedupWindowSeconds < 0 {
		return errors.New("notifications.dedup_window_seconds must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
