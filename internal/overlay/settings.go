package overlay

import (
	"fmt"

	"golang.org/x/text/language"

	"github.com/MimeLyc/live-caption-translator/internal/message"
)

const (
	MinFontSize     = 10
	MaxFontSize     = 24
	FontStep        = 2
	DefaultFontSize = 14
	DefaultOpacity  = 0.3
	DefaultLanguage = "es"
)

// Settings are the overlay's local display preferences.
type Settings struct {
	ShowOriginal   bool    `json:"showOriginal"`
	TargetLanguage string  `json:"targetLanguage"`
	FontSize       int     `json:"fontSize"`
	Opacity        float64 `json:"overlayOpacity"`
}

func DefaultSettings() Settings {
	return Settings{
		ShowOriginal:   true,
		TargetLanguage: DefaultLanguage,
		FontSize:       DefaultFontSize,
		Opacity:        DefaultOpacity,
	}
}

func (s Settings) Validate() error {
	if s.FontSize < MinFontSize || s.FontSize > MaxFontSize {
		return fmt.Errorf("font size %d out of range [%d,%d]", s.FontSize, MinFontSize, MaxFontSize)
	}
	if s.Opacity < 0 || s.Opacity > 1 {
		return fmt.Errorf("opacity %v out of range [0,1]", s.Opacity)
	}
	if _, err := language.Parse(s.TargetLanguage); err != nil {
		return fmt.Errorf("invalid target language %q: %w", s.TargetLanguage, err)
	}
	return nil
}

// Merge applies the non-nil fields of p. Out-of-range values are clamped.
func (s Settings) Merge(p message.OverlaySettingsPatch) Settings {
	if p.ShowOriginal != nil {
		s.ShowOriginal = *p.ShowOriginal
	}
	if p.TargetLanguage != nil && *p.TargetLanguage != "" {
		s.TargetLanguage = *p.TargetLanguage
	}
	if p.FontSize != nil {
		s.FontSize = clampFont(*p.FontSize)
	}
	if p.Opacity != nil {
		s.Opacity = clampOpacity(*p.Opacity)
	}
	return s
}

func clampFont(size int) int {
	return min(MaxFontSize, max(MinFontSize, size))
}

func clampOpacity(v float64) float64 {
	return min(1, max(0, v))
}
