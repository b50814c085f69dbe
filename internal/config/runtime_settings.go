package config

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/text/language"
)

const runtimeSettingsKey = "runtime_settings"

// Settings are the user-adjustable options. They start from the environment
// and are overridden by whatever was last saved through the API.
type Settings struct {
	TranslationEnabled bool    `json:"translation_enabled"`
	TargetLanguage     string  `json:"target_language"`
	ShowOriginal       bool    `json:"show_original"`
	FontSize           int     `json:"font_size"`
	Opacity            float64 `json:"overlay_opacity"`
	SelfCheckCron      string  `json:"self_check_cron"`
}

func (s Settings) Validate() error {
	if err := validateLanguage(s.TargetLanguage); err != nil {
		return err
	}
	if s.FontSize < 10 || s.FontSize > 24 {
		return fmt.Errorf("font_size must be within [10,24], got %d", s.FontSize)
	}
	if s.Opacity < 0 || s.Opacity > 1 {
		return fmt.Errorf("overlay_opacity must be within [0,1], got %v", s.Opacity)
	}
	return validateCron(s.SelfCheckCron)
}

// Normalized returns s with the target language in canonical BCP 47 form.
func (s Settings) Normalized() Settings {
	if tag, err := language.Parse(s.TargetLanguage); err == nil {
		s.TargetLanguage = tag.String()
	}
	return s
}

// WithSettings overrides the environment-derived settings.
func WithSettings(settings Settings) Option {
	return func(c *Config) {
		c.Settings = settings
	}
}

// KV is the persistence the settings store writes through.
type KV interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Put(ctx context.Context, key string, value any) error
}

type RuntimeSettingsStore struct {
	kv KV

	mu      sync.RWMutex
	current Settings
}

// NewRuntimeSettingsStore returns a store seeded with the persisted settings
// when present, otherwise with initial.
func NewRuntimeSettingsStore(ctx context.Context, kv KV, initial Settings) (*RuntimeSettingsStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("settings storage is required")
	}
	current := initial.Normalized()
	var persisted Settings
	found, err := kv.Get(ctx, runtimeSettingsKey, &persisted)
	if err != nil {
		return nil, fmt.Errorf("load runtime settings: %w", err)
	}
	if found {
		if err := persisted.Validate(); err == nil {
			current = persisted.Normalized()
		}
	}
	if err := current.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{kv: kv, current: current}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(ctx context.Context, next Settings) (Settings, error) {
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	next = next.Normalized()
	if err := s.kv.Put(ctx, runtimeSettingsKey, next); err != nil {
		return Settings{}, fmt.Errorf("save runtime settings: %w", err)
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
