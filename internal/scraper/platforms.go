package scraper

import (
	"fmt"
	"time"

	"github.com/MimeLyc/live-caption-translator/internal/caption"
)

// Strategy decides how several matched caption nodes become one string.
type Strategy int

const (
	// LastLine keeps only the most recent node.
	LastLine Strategy = iota
	// JoinAllLines joins every visible non-empty node with LineSeparator.
	JoinAllLines
)

func (s Strategy) String() string {
	if s == JoinAllLines {
		return "join-all-lines"
	}
	return "last-line"
}

// AvatarRule finds a speaker by matching the caption's avatar image against
// the participant tiles: the author is the alt text of the tile image whose
// src equals the caption image src.
type AvatarRule struct {
	CaptionImage string
	TileImage    string
}

// PlatformConfig parameterises the generic poll loop for one site.
type PlatformConfig struct {
	Platform caption.Platform
	// Selectors are tried in order; the first one yielding text wins.
	Selectors     []string
	Interval      time.Duration
	Strategy      Strategy
	LineSeparator string

	// FrameSelector points at an iframe holding the captions. A missing frame
	// falls back to the top document; a cross-origin one yields nothing.
	FrameSelector string

	AuthorSelector string
	AvatarAuthor   *AvatarRule

	// MediaParam is the URL query parameter identifying the playing media.
	// A change resets dedup state.
	MediaParam         string
	MediaCheckInterval time.Duration
}

func (c PlatformConfig) Validate() error {
	if c.Platform == "" {
		return fmt.Errorf("platform is required")
	}
	if len(c.Selectors) == 0 {
		return fmt.Errorf("%s: at least one selector is required", c.Platform)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%s: poll interval must be positive", c.Platform)
	}
	if c.Strategy == JoinAllLines && c.LineSeparator == "" {
		return fmt.Errorf("%s: line separator is required for %s", c.Platform, c.Strategy)
	}
	return nil
}

func (c PlatformConfig) hasAuthor() bool {
	return c.AuthorSelector != "" || c.AvatarAuthor != nil
}

func YouTube() PlatformConfig {
	return PlatformConfig{
		Platform: caption.PlatformYouTube,
		Selectors: []string{
			".ytp-caption-segment",
			".caption-visual-line",
			"#caption-window .caption-text",
			".ytp-caption-window-container span",
			".ytp-caption-window-bottom span",
			".caption-window .caption-text",
		},
		Interval:           300 * time.Millisecond,
		Strategy:           JoinAllLines,
		LineSeparator:      "<br />",
		MediaParam:         "v",
		MediaCheckInterval: 2 * time.Second,
	}
}

func Teams() PlatformConfig {
	return PlatformConfig{
		Platform: caption.PlatformTeams,
		Selectors: []string{
			`[data-tid="closed-caption-text"]`,
			`[class*="transcript-text"]`,
			`[class*="caption-text"]`,
			`[aria-label*="caption"]`,
		},
		Interval:       400 * time.Millisecond,
		Strategy:       LastLine,
		AuthorSelector: `[data-tid="author"]`,
	}
}

func Zoom() PlatformConfig {
	return PlatformConfig{
		Platform:      caption.PlatformZoom,
		FrameSelector: "#webclient",
		Selectors: []string{
			"#live-transcription-subtitle > span",
			`[aria-live="polite"][role="log"]`,
			".closed-caption-container",
			".zoom-caption-text",
		},
		Interval: 300 * time.Millisecond,
		Strategy: LastLine,
		AvatarAuthor: &AvatarRule{
			CaptionImage: "#live-transcription-subtitle > img",
			TileImage:    "img.video-avatar__avatar-img",
		},
	}
}

// ConfigFor returns the built-in strategy for a platform.
func ConfigFor(p caption.Platform) (PlatformConfig, bool) {
	switch p {
	case caption.PlatformYouTube:
		return YouTube(), true
	case caption.PlatformTeams:
		return Teams(), true
	case caption.PlatformZoom:
		return Zoom(), true
	default:
		return PlatformConfig{}, false
	}
}
