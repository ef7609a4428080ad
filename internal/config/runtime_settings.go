package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/tune-ripper/pkg/icron"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings are the retention knobs editable while the server runs.
type RuntimeSettings struct {
	RetentionCompleteSeconds int    `json:"retention_complete_seconds"`
	RetentionErrorSeconds    int    `json:"retention_error_seconds"`
	SweepCron                string `json:"sweep_cron"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if s.RetentionCompleteSeconds < 0 {
		return fmt.Errorf("retention_complete_seconds must not be negative")
	}
	if s.RetentionErrorSeconds < 0 {
		return fmt.Errorf("retention_error_seconds must not be negative")
	}
	if strings.TrimSpace(s.SweepCron) == "" {
		return fmt.Errorf("sweep_cron is required")
	}
	if err := icron.Validate(s.SweepCron); err != nil {
		return fmt.Errorf("invalid sweep_cron: %w", err)
	}
	return nil
}

func (s RuntimeSettings) CompleteRetention() time.Duration {
	return time.Duration(s.RetentionCompleteSeconds) * time.Second
}

func (s RuntimeSettings) ErrorRetention() time.Duration {
	return time.Duration(s.RetentionErrorSeconds) * time.Second
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		RetentionCompleteSeconds: int(c.Retention.Complete / time.Second),
		RetentionErrorSeconds:    int(c.Retention.Error / time.Second),
		SweepCron:                c.Retention.SweepCron,
	}
}

// WithRuntimeSettings overrides retention from a settings file. Zero values
// keep the environment's setting.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if settings.RetentionCompleteSeconds > 0 {
			c.Retention.Complete = settings.CompleteRetention()
		}
		if settings.RetentionErrorSeconds > 0 {
			c.Retention.Error = settings.ErrorRetention()
		}
		if strings.TrimSpace(settings.SweepCron) != "" {
			c.Retention.SweepCron = settings.SweepCron
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
