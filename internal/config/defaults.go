package config

const (
	defaultConfigPath              = "~/.config/tonearm/config.toml"
	defaultDataDir                 = "~/.local/share/tonearm"
	defaultScratchDir              = "~/.local/share/tonearm/scratch"
	defaultWorkspaceDir            = "~/.local/share/tonearm/workspace"
	defaultLogDir                  = "~/.local/share/tonearm/logs"
	defaultStorageDir              = "~/.local/share/tonearm/public"
	defaultAPIBind                 = "127.0.0.1:7490"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultWorkerCount             = 2
	defaultQueuePollInterval       = 2
	defaultHeartbeatInterval       = 15
	defaultHeartbeatTimeout        = 120
	defaultStageTimeout            = 300
	defaultMinScratchFreeMiB       = 512
	defaultScratchRetentionHours   = 24
	defaultRetryMaxAttempts        = 3
	defaultRetryBaseDelaySeconds   = 2
	defaultRetryMaxDelaySeconds    = 60
	defaultCacheTTLHours           = 24 * 7
	defaultCacheKeyPrefix          = "tonearm:result:"
	defaultURLTTLSeconds           = 3600
	defaultFetchBinary             = "yt-dlp"
	defaultFetchRequestsPerMinute  = 30
	defaultFetchBurst              = 2
	defaultFFmpegBinary            = "ffmpeg"
	defaultFFprobeBinary           = "ffprobe"
	defaultAdminUsername           = "admin"
	defaultAPIKeyValidityDays      = 180
	defaultNotifyRequestTimeout    = 10
	defaultNotifyDedupWindowSecond = 600
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			ScratchDir:   defaultScratchDir,
			WorkspaceDir: defaultWorkspaceDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Workers: Workers{
			Count:              defaultWorkerCount,
			QueuePollInterval:  defaultQueuePollInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			StageTimeout:       defaultStageTimeout,
			MinScratchFreeMiB:  defaultMinScratchFreeMiB,
			ScratchRetentionHr: defaultScratchRetentionHours,
		},
		Retry: Retry{
			MaxAttempts:      defaultRetryMaxAttempts,
			BaseDelaySeconds: defaultRetryBaseDelaySeconds,
			MaxDelaySeconds:  defaultRetryMaxDelaySeconds,
			Jitter:           true,
		},
		Cache: Cache{
			Backend:   CacheMemory,
			KeyPrefix: defaultCacheKeyPrefix,
			TTLHours:  defaultCacheTTLHours,
		},
		Storage: Storage{
			Backend:       StorageLocal,
			LocalDir:      defaultStorageDir,
			PublicBaseURL: "http://" + defaultAPIBind,
			UseSSL:        true,
			URLTTLSeconds: defaultURLTTLSeconds,
		},
		Fetch: Fetch{
			Binary:            defaultFetchBinary,
			RequestsPerMinute: defaultFetchRequestsPerMinute,
			Burst:             defaultFetchBurst,
		},
		Transcode: Transcode{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
		},
		Admin: Admin{
			Username: defaultAdminUsername,
		},
		APIKeys: APIKeys{
			Required:     true,
			ValidityDays: defaultAPIKeyValidityDays,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyRequestTimeout,
			Succeeded:          true,
			Failed:             true,
			DedupWindowSeconds: defaultNotifyDedupWindowSecond,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
