package publish

import (
	"fmt"
	"log/slog"
	"strings"

	"tonearm/internal/config"
	"tonearm/internal/services"
	"tonearm/internal/stage"
)

const stageName = "publish"

// Backend is a publisher that can also report its readiness.
type Backend interface {
	stage.Publisher
	stage.HealthChecker
}

// New builds the publisher selected by configuration.
func New(cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch strings.TrimSpace(cfg.Storage.Backend) {
	case config.StorageLocal, "":
		return NewLocal(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL, cfg.Storage.SigningKey)
	case config.StorageS3:
		return NewS3(cfg.Storage, logger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, stageName, "init",
			fmt.Sprintf("unsupported storage backend %q", cfg.Storage.Backend), nil)
	}
}

func validKey(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, ".") {
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}
