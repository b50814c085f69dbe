// Package caption holds the captured-caption value types shared by the
// scrapers, the router and the overlay.
package caption

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Platform string

const (
	PlatformYouTube Platform = "YouTube"
	PlatformTeams   Platform = "Teams"
	PlatformZoom    Platform = "Zoom"
	PlatformUnknown Platform = "Unknown"
)

// ParsePlatform accepts platform names case-insensitively.
func ParsePlatform(s string) Platform {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "youtube":
		return PlatformYouTube
	case "teams":
		return PlatformTeams
	case "zoom":
		return PlatformZoom
	default:
		return PlatformUnknown
	}
}

// MinTextLength is the exclusive lower bound on trimmed caption length.
const MinTextLength = 2

// UnknownSpeaker labels a caption whose author node is missing.
const UnknownSpeaker = "Unknown Speaker"

// Sample is one dedup-gated caption read. It is never mutated after creation.
type Sample struct {
	Text       string    `json:"text"`
	Platform   Platform  `json:"platform"`
	Author     string    `json:"author,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

func NewSample(text string, platform Platform, author string, at time.Time) Sample {
	return Sample{
		Text:       Normalize(text),
		Platform:   platform,
		Author:     strings.TrimSpace(author),
		CapturedAt: at,
	}
}

// Normalize trims surrounding whitespace. Comparison after normalization is
// exact and case-sensitive.
func Normalize(text string) string {
	return strings.TrimSpace(text)
}

// LongEnough reports whether normalized text passes the minimal length gate.
func LongEnough(text string) bool {
	return utf8.RuneCountInString(Normalize(text)) > MinTextLength
}

// DisplayText prefixes the author when one is known.
func (s Sample) DisplayText() string {
	if s.Author == "" {
		return s.Text
	}
	return s.Author + ": " + s.Text
}
