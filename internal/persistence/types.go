package persistence

import "time"

// CaptionRecord is one handled caption as kept in the history table.
type CaptionRecord struct {
	Sequence       uint64    `json:"sequence"`
	Platform       string    `json:"platform"`
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text"`
	TargetLanguage string    `json:"target_language"`
	CapturedAt     time.Time `json:"captured_at"`
}
