package translator

import (
	"context"
	"fmt"
)

type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// BackendError is returned when the translation API answers with a
// non-success status.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("translator backend error: status %d", e.Status)
	}
	return fmt.Sprintf("translator backend error: status %d: %s", e.Status, e.Body)
}

type requestItem struct {
	Text string `json:"Text"`
}

type responseItem struct {
	DetectedLanguage *struct {
		Language string  `json:"language"`
		Score    float64 `json:"score"`
	} `json:"detectedLanguage,omitempty"`
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}
