package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

// Write renders f as SRT to w.
func Write(w io.Writer, f *File, mode Mode) error {
	if f == nil {
		return fmt.Errorf("subtitle data is empty")
	}

	writer := bufio.NewWriter(w)
	for _, line := range f.Lines {
		fmt.Fprintf(writer, "%d\n", line.Index)
		fmt.Fprintf(writer, "%s --> %s\n", formatDuration(line.StartTime), formatDuration(line.EndTime))
		fmt.Fprintf(writer, "%s\n\n", cueText(line, mode))
	}
	return writer.Flush()
}

func cueText(line Line, mode Mode) string {
	switch mode {
	case ModeOriginal:
		return line.Text
	case ModeBilingual:
		if line.TranslatedText == "" || line.TranslatedText == line.Text {
			return line.Text
		}
		return line.Text + "\n" + line.TranslatedText
	default:
		if line.TranslatedText == "" {
			return line.Text
		}
		return line.TranslatedText
	}
}

// formatDuration formats time.Duration to SRT time format
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, milliseconds)
}
