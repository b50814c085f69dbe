package subtitle

import "time"

// Line is one numbered SRT cue.
type Line struct {
	Index          int
	StartTime      time.Duration
	EndTime        time.Duration
	Text           string
	TranslatedText string
}

// File is an ordered set of cues in one target language.
type File struct {
	Lines    []Line
	Language string
}

// Entry is a caption as it was captured, before it is placed on a timeline.
type Entry struct {
	At             time.Time
	Text           string
	TranslatedText string
}

// Mode selects which text a cue carries.
type Mode int

const (
	// ModeTranslated writes the translation, falling back to the original.
	ModeTranslated Mode = iota
	ModeOriginal
	// ModeBilingual writes the original with the translation underneath.
	ModeBilingual
)

// ParseMode maps "translated", "original" and "bilingual" to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "translated":
		return ModeTranslated, true
	case "original":
		return ModeOriginal, true
	case "bilingual":
		return ModeBilingual, true
	}
	return ModeTranslated, false
}
