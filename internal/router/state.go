package router

import (
	"time"

	"github.com/MimeLyc/live-caption-translator/internal/caption"
)

const (
	WaitingText     = "Waiting for captions..."
	NoPlatform      = "-"
	DefaultLanguage = "es"

	stateKey = "caption_state"
)

// State is the shared caption state. Only the router writes it; everyone
// else receives copies.
type State struct {
	OriginalText       string           `json:"originalText"`
	TranslatedText     string           `json:"translatedText"`
	Platform           caption.Platform `json:"platform"`
	Author             string           `json:"author,omitempty"`
	SourceLanguage     string           `json:"sourceLanguage,omitempty"`
	TranslationEnabled bool             `json:"translationEnabled"`
	TargetLanguage     string           `json:"targetLanguage"`
	Capturing          bool             `json:"capturing"`
	Sequence           uint64           `json:"sequence"`
	LastUpdated        time.Time        `json:"lastUpdated"`
}

// DefaultState is what a fresh install starts with.
func DefaultState(now time.Time) State {
	return State{
		OriginalText:   WaitingText,
		Platform:       NoPlatform,
		TargetLanguage: DefaultLanguage,
		LastUpdated:    now,
	}
}
