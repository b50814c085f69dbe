package subtitle

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Timeline(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := Build([]Entry{
		{At: base.Add(10 * time.Second), Text: "third"},
		{At: base, Text: "first", TranslatedText: "primero"},
		{At: base.Add(200 * time.Millisecond), Text: "second"},
		{At: base.Add(time.Second), Text: "   "},
	}, "es")

	require.Len(t, f.Lines, 3)
	assert.Equal(t, "es", f.Language)

	assert.Equal(t, Line{Index: 1, StartTime: 0, EndTime: MinCueDuration, Text: "first", TranslatedText: "primero"}, f.Lines[0])
	assert.Equal(t, 200*time.Millisecond, f.Lines[1].StartTime)
	assert.Equal(t, 200*time.Millisecond+MaxCueDuration, f.Lines[1].EndTime)
	assert.Equal(t, 10*time.Second, f.Lines[2].StartTime)
	assert.Equal(t, 10*time.Second+MaxCueDuration, f.Lines[2].EndTime)
	assert.Equal(t, 3, f.Lines[2].Index)
}

func TestBuild_Empty(t *testing.T) {
	f := Build(nil, "fr")
	assert.Empty(t, f.Lines)
}

func TestWrite_Modes(t *testing.T) {
	f := &File{Lines: []Line{
		{Index: 1, StartTime: 0, EndTime: 1500 * time.Millisecond, Text: "Hello", TranslatedText: "Hola"},
		{Index: 2, StartTime: time.Hour + 2*time.Minute + 3*time.Second + 4*time.Millisecond, EndTime: time.Hour + 2*time.Minute + 5*time.Second, Text: "Bye"},
	}}

	tests := []struct {
		mode Mode
		want string
	}{
		{ModeTranslated, "1\n00:00:00,000 --> 00:00:01,500\nHola\n\n2\n01:02:03,004 --> 01:02:05,000\nBye\n\n"},
		{ModeOriginal, "1\n00:00:00,000 --> 00:00:01,500\nHello\n\n2\n01:02:03,004 --> 01:02:05,000\nBye\n\n"},
		{ModeBilingual, "1\n00:00:00,000 --> 00:00:01,500\nHello\nHola\n\n2\n01:02:03,004 --> 01:02:05,000\nBye\n\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, f, tt.mode))
		assert.Equal(t, tt.want, buf.String())
	}

	assert.Error(t, Write(&bytes.Buffer{}, nil, ModeOriginal))
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("bilingual")
	assert.True(t, ok)
	assert.Equal(t, ModeBilingual, m)

	m, ok = ParseMode("")
	assert.True(t, ok)
	assert.Equal(t, ModeTranslated, m)

	_, ok = ParseMode("karaoke")
	assert.False(t, ok)
}
