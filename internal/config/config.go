package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"github.com/MimeLyc/live-caption-translator/internal/caption"
	"github.com/MimeLyc/live-caption-translator/pkg/icron"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// Config holds all application configuration.
//
// Environment Variables:
// HTTP:
// - HTTP_ADDR: listen address (default: :8080)
//
// Translator:
// - TRANSLATOR_BACKEND: microsoft or llm (default: microsoft)
// - TRANSLATOR_API_URL: translate API base URL (default: https://api.cognitive.microsofttranslator.com)
// - TRANSLATOR_API_KEY: subscription key (optional; without it the backend rejects calls)
// - TRANSLATOR_REGION: subscription region (default: global)
// - TRANSLATOR_TIMEOUT: per-call timeout in seconds, 0 disables (default: 0)
// - TRANSLATOR_RPS: backend calls per second, 0 disables the limit (default: 0)
// - TRANSLATOR_BURST (default: 5)
//
// LLM backend (TRANSLATOR_BACKEND=llm):
// - LLM_API_URL (default: https://openrouter.ai/api/v1)
// - LLM_API_KEY (required)
// - LLM_MODEL (default: openai/gpt-4o-mini)
// - LLM_MAX_TOKENS (default: 256)
// - LLM_TEMPERATURE (default: 0.2)
// - LLM_TIMEOUT: seconds (default: 30)
// - LLM_APP_NAME (optional)
//
// Translation and overlay:
// - TRANSLATION_ENABLED (default: false)
// - TARGET_LANGUAGE (default: es)
// - SHOW_ORIGINAL (default: true)
// - OVERLAY_FONT_SIZE (default: 14)
// - OVERLAY_OPACITY (default: 0.3)
//
// System:
// - DB_PATH: sqlite file (default: /app/data/captions.db)
// - SELF_CHECK_CRON: translator self-check schedule, empty disables (default: @hourly)
// - CAPTION_SOURCES: comma separated platform=url pages to poll
// - LOG_LEVEL (default: info)
type Config struct {
	HTTP       HTTPConfig       `json:"http"`
	Translator TranslatorConfig `json:"translator"`
	LLM        LLMConfig        `json:"llm"`
	Settings   Settings         `json:"settings"`
	System     SystemConfig     `json:"system"`
	Sources    []Source         `json:"sources"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

const (
	BackendMicrosoft = "microsoft"
	BackendLLM       = "llm"
)

type TranslatorConfig struct {
	Backend string        `json:"backend"`
	APIURL  string        `json:"api_url"`
	APIKey  string        `json:"-"`
	Region  string        `json:"region"`
	Timeout time.Duration `json:"timeout"`
	RPS     float64       `json:"rps"`
	Burst   int           `json:"burst"`
}

type LLMConfig struct {
	APIURL      string  `json:"api_url"`
	APIKey      string  `json:"-"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	AppName     string  `json:"app_name"`
}

type SystemConfig struct {
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`
}

// Source is one page a scraper engine polls.
type Source struct {
	Platform caption.Platform `json:"platform"`
	URL      string           `json:"url"`
}

type Option func(*Config)

// LoadDotEnv loads variables from path when the file exists. Variables
// already set in the environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func NewFromEnv(opts ...Option) (*Config, error) {
	sources, err := ParseSources(getEnvString("CAPTION_SOURCES", ""))
	if err != nil {
		return nil, err
	}

	config := &Config{
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		Translator: TranslatorConfig{
			Backend: strings.ToLower(getEnvString("TRANSLATOR_BACKEND", BackendMicrosoft)),
			APIURL:  getEnvString("TRANSLATOR_API_URL", "https://api.cognitive.microsofttranslator.com"),
			APIKey:  getEnvString("TRANSLATOR_API_KEY", ""),
			Region:  getEnvString("TRANSLATOR_REGION", "global"),
			Timeout: time.Duration(getEnvInt("TRANSLATOR_TIMEOUT", 0)) * time.Second,
			RPS:     getEnvFloat("TRANSLATOR_RPS", 0),
			Burst:   getEnvInt("TRANSLATOR_BURST", 5),
		},
		LLM: LLMConfig{
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			APIKey:      getEnvString("LLM_API_KEY", ""),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 256),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:     getEnvInt("LLM_TIMEOUT", 30),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		Settings: Settings{
			TranslationEnabled: getEnvBool("TRANSLATION_ENABLED", false),
			TargetLanguage:     getEnvString("TARGET_LANGUAGE", "es"),
			ShowOriginal:       getEnvBool("SHOW_ORIGINAL", true),
			FontSize:           getEnvInt("OVERLAY_FONT_SIZE", 14),
			Opacity:            getEnvFloat("OVERLAY_OPACITY", 0.3),
			SelfCheckCron:      getEnvStringAllowEmpty("SELF_CHECK_CRON", "@hourly"),
		},
		System: SystemConfig{
			DBPath:   getEnvString("DB_PATH", "/app/data/captions.db"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
		Sources: sources,
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: addr=%s backend=%s translator=%s sources=%d db=%s",
		config.HTTP.Addr, config.Translator.Backend, config.Translator.APIURL, len(config.Sources), config.System.DBPath)
	return config, nil
}

func (c *Config) validate() error {
	if c.Translator.Timeout < 0 {
		return fmt.Errorf("TRANSLATOR_TIMEOUT must not be negative")
	}
	if c.Translator.RPS < 0 || c.Translator.Burst < 1 {
		return fmt.Errorf("TRANSLATOR_RPS must not be negative and TRANSLATOR_BURST must be at least 1")
	}
	switch c.Translator.Backend {
	case BackendMicrosoft:
		if strings.TrimSpace(c.Translator.APIURL) == "" {
			return fmt.Errorf("TRANSLATOR_API_URL is required")
		}
		if c.Translator.APIKey == "" {
			log.Warn("TRANSLATOR_API_KEY is not set; translations will fail until it is configured")
		}
	case BackendLLM:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required when TRANSLATOR_BACKEND=llm")
		}
		if strings.TrimSpace(c.LLM.APIURL) == "" || strings.TrimSpace(c.LLM.Model) == "" {
			return fmt.Errorf("LLM_API_URL and LLM_MODEL are required")
		}
	default:
		return fmt.Errorf("invalid TRANSLATOR_BACKEND %q: want %s or %s", c.Translator.Backend, BackendMicrosoft, BackendLLM)
	}
	return c.Settings.Validate()
}

// ParseSources reads "platform=url" pairs separated by commas.
func ParseSources(raw string) ([]Source, error) {
	ret := make([]Source, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, url, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("invalid caption source %q: want platform=url", part)
		}
		platform := caption.ParsePlatform(name)
		if platform == caption.PlatformUnknown {
			return nil, fmt.Errorf("invalid caption source %q: unknown platform %q", part, name)
		}
		ret = append(ret, Source{Platform: platform, URL: strings.TrimSpace(url)})
	}
	return ret, nil
}

func validateLanguage(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("target_language is required")
	}
	if _, err := language.Parse(code); err != nil {
		return fmt.Errorf("invalid target_language: %w", err)
	}
	return nil
}

func validateCron(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	if _, err := icron.Parse(expr); err != nil {
		return fmt.Errorf("invalid self_check_cron: %w", err)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvStringAllowEmpty distinguishes unset from explicitly empty.
func getEnvStringAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
