package subtitle

import (
	"sort"
	"strings"
	"time"
)

const (
	// MaxCueDuration bounds how long a cue stays up when the next caption is
	// far away or there is none.
	MaxCueDuration = 4 * time.Second
	// MinCueDuration keeps bursts of captions readable.
	MinCueDuration = 500 * time.Millisecond
)

// Build places entries on a timeline that starts at the earliest entry.
// Each cue ends when the next one starts, clamped to
// [MinCueDuration, MaxCueDuration]. Blank entries are skipped.
func Build(entries []Entry, language string) *File {
	sorted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		sorted = append(sorted, e)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At.Before(sorted[j].At)
	})

	f := &File{Language: language, Lines: make([]Line, 0, len(sorted))}
	if len(sorted) == 0 {
		return f
	}

	origin := sorted[0].At
	for i, e := range sorted {
		start := e.At.Sub(origin)
		length := MaxCueDuration
		if i+1 < len(sorted) {
			length = min(sorted[i+1].At.Sub(e.At), MaxCueDuration)
		}
		length = max(length, MinCueDuration)

		f.Lines = append(f.Lines, Line{
			Index:          i + 1,
			StartTime:      start,
			EndTime:        start + length,
			Text:           e.Text,
			TranslatedText: e.TranslatedText,
		})
	}
	return f
}
