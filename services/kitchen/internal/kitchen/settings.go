package kitchen

import (
	"fmt"
	"strconv"
	"time"

	"github.com/appetiteclub/apt"
)

const (
	DefaultWarnAfter       = 10 * time.Minute
	DefaultCriticalAfter   = 20 * time.Minute
	DefaultRecallWindow    = 10 * time.Minute
	DefaultRecentWindow    = 10 * time.Minute
	DefaultBroadcastBuffer = 256
)

// Settings holds the tunables of the fulfillment engine. The recall window
// and the recently-fulfilled window are configured independently.
type Settings struct {
	WarnAfter       time.Duration
	CriticalAfter   time.Duration
	RecallWindow    time.Duration
	RecentWindow    time.Duration
	BroadcastBuffer int
}

func DefaultSettings() Settings {
	return Settings{
		WarnAfter:       DefaultWarnAfter,
		CriticalAfter:   DefaultCriticalAfter,
		RecallWindow:    DefaultRecallWindow,
		RecentWindow:    DefaultRecentWindow,
		BroadcastBuffer: DefaultBroadcastBuffer,
	}
}

// Validate rejects settings that would make the priority bands overlap.
func (s Settings) Validate() error {
	if s.WarnAfter <= 0 || s.CriticalAfter <= 0 {
		return fmt.Errorf("priority thresholds must be positive (warn=%s, critical=%s)", s.WarnAfter, s.CriticalAfter)
	}
	if s.WarnAfter >= s.CriticalAfter {
		return fmt.Errorf("warn threshold %s must be below critical threshold %s", s.WarnAfter, s.CriticalAfter)
	}
	if s.RecallWindow <= 0 {
		return fmt.Errorf("recall window must be positive, got %s", s.RecallWindow)
	}
	if s.RecentWindow <= 0 {
		return fmt.Errorf("recent window must be positive, got %s", s.RecentWindow)
	}
	return nil
}

// LoadSettings reads kitchen.* keys from config. Unparseable values fall back
// to defaults and are logged.
func LoadSettings(config *apt.Config, logger apt.Logger) (Settings, error) {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	s := DefaultSettings()
	if config == nil {
		return s, nil
	}

	s.WarnAfter = durationSetting(config, logger, "kitchen.priority.warn", DefaultWarnAfter)
	s.CriticalAfter = durationSetting(config, logger, "kitchen.priority.critical", DefaultCriticalAfter)
	s.RecallWindow = durationSetting(config, logger, "kitchen.recall.window", DefaultRecallWindow)
	s.RecentWindow = durationSetting(config, logger, "kitchen.recent.window", DefaultRecentWindow)
	s.BroadcastBuffer = intSetting(config, logger, "kitchen.broadcast.buffer", DefaultBroadcastBuffer)

	if err := s.Validate(); err != nil {
		return DefaultSettings(), err
	}
	return s, nil
}

func durationSetting(config *apt.Config, logger apt.Logger, key string, def time.Duration) time.Duration {
	raw := config.GetStringOrDef(key, "")
	d, ok := ParseDuration(raw)
	if !ok {
		if raw != "" {
			logger.Info("invalid duration setting, using default", "key", key, "value", raw, "default", def.String())
		}
		return def
	}
	return d
}

func intSetting(config *apt.Config, logger apt.Logger, key string, def int) int {
	raw := config.GetStringOrDef(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		logger.Info("invalid integer setting, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return n
}

// ParseDuration accepts Go duration syntax ("90s", "10m") or a bare number of
// minutes ("10").
func ParseDuration(raw string) (time.Duration, bool) {
	if raw == "" {
		return 0, false
	}
	if minutes, err := strconv.Atoi(raw); err == nil {
		if minutes <= 0 {
			return 0, false
		}
		return time.Duration(minutes) * time.Minute, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
