package workflow

import (
	"log/slog"
	"strings"

	"tonearm/internal/logging"
)

// stageLogger tags base with the stage name and applies any per-stage level
// override from configuration.
func (m *Manager) stageLogger(base *slog.Logger, stage string) *slog.Logger {
	logger := base.With(logging.String(logging.FieldStage, stage))
	if m.cfg == nil {
		return logger
	}
	if override := stageOverrideLevel(m.cfg.Logging.StageOverrides, stage); override != "" {
		logger = logging.WithLevelOverride(logger, logging.ParseLevel(override))
	}
	return logger
}

func stageOverrideLevel(overrides map[string]string, stage string) string {
	if len(overrides) == 0 {
		return ""
	}
	stage = strings.ToLower(strings.TrimSpace(stage))
	if stage == "" {
		return ""
	}
	for key, value := range overrides {
		if strings.ToLower(strings.TrimSpace(key)) == stage {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
