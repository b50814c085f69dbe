// Package message defines the closed set of messages exchanged between the
// scrapers, the router, the overlay and UI clients, and the bus that carries
// them.
package message

import (
	"time"

	"github.com/MimeLyc/live-caption-translator/internal/caption"
)

type Kind string

const (
	KindCaptionCaptured  Kind = "caption_captured"
	KindTranslateRequest Kind = "translate_request"
	KindGetSettings      Kind = "get_settings"
	KindGetStatus        Kind = "get_status"
	KindUpdateSettings   Kind = "update_settings"
	KindStartCapture     Kind = "start_capture"
	KindStopCapture      Kind = "stop_capture"
	KindSettingsUpdated  Kind = "settings_updated"
	KindCaptureStarted   Kind = "capture_started"
	KindCaptureStopped   Kind = "capture_stopped"
	KindCaptionPush      Kind = "caption_push"
)

type Message interface {
	Kind() Kind
}

// CaptionCaptured is emitted by a scraper for every sample that passes the
// dedup gate.
type CaptionCaptured struct {
	Text      string           `json:"text"`
	Platform  caption.Platform `json:"platform"`
	Author    string           `json:"author,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewCaptionCaptured(s caption.Sample) CaptionCaptured {
	return CaptionCaptured{
		Text:      s.Text,
		Platform:  s.Platform,
		Author:    s.Author,
		Timestamp: s.CapturedAt,
	}
}

func (CaptionCaptured) Kind() Kind { return KindCaptionCaptured }

// Sample converts the message back into a caption sample, defaulting a
// missing platform to Unknown.
func (m CaptionCaptured) Sample() caption.Sample {
	platform := m.Platform
	if platform == "" {
		platform = caption.PlatformUnknown
	}
	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return caption.NewSample(m.Text, platform, m.Author, at)
}

type TranslateRequest struct {
	Text       string `json:"text"`
	TargetLang string `json:"targetLang"`
}

func (TranslateRequest) Kind() Kind { return KindTranslateRequest }

type GetSettings struct{}

func (GetSettings) Kind() Kind { return KindGetSettings }

type GetStatus struct{}

func (GetStatus) Kind() Kind { return KindGetStatus }

// OverlaySettingsPatch carries a partial overlay settings object; nil fields
// are left unchanged by the receiver.
type OverlaySettingsPatch struct {
	ShowOriginal   *bool    `json:"showOriginal,omitempty"`
	TargetLanguage *string  `json:"targetLanguage,omitempty"`
	FontSize       *int     `json:"fontSize,omitempty"`
	Opacity        *float64 `json:"overlayOpacity,omitempty"`
}

func (p OverlaySettingsPatch) Empty() bool {
	return p.ShowOriginal == nil && p.TargetLanguage == nil && p.FontSize == nil && p.Opacity == nil
}

type UpdateSettings struct {
	TranslationEnabled *bool                `json:"translationEnabled,omitempty"`
	TargetLanguage     *string              `json:"targetLanguage,omitempty"`
	Overlay            OverlaySettingsPatch `json:"settings"`
}

func (UpdateSettings) Kind() Kind { return KindUpdateSettings }

type StartCapture struct{}

func (StartCapture) Kind() Kind { return KindStartCapture }

type StopCapture struct{}

func (StopCapture) Kind() Kind { return KindStopCapture }

type SettingsUpdated struct {
	Settings OverlaySettingsPatch `json:"settings"`
}

func (SettingsUpdated) Kind() Kind { return KindSettingsUpdated }

type CaptureStarted struct{}

func (CaptureStarted) Kind() Kind { return KindCaptureStarted }

type CaptureStopped struct{}

func (CaptureStopped) Kind() Kind { return KindCaptureStopped }

// CaptionPush is the router's finished update. Sequence increases with every
// capture the router handles.
type CaptionPush struct {
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
	Sequence       uint64 `json:"sequence"`
}

func (CaptionPush) Kind() Kind { return KindCaptionPush }

// Unknown wraps a decoded envelope whose type is not in the closed set.
type Unknown struct {
	Type string `json:"type"`
}

func (u Unknown) Kind() Kind { return Kind(u.Type) }

type Reply any

type noReply struct{}

// NoReply is returned by handlers for fire-and-forget messages.
var NoReply Reply = noReply{}

func IsNoReply(r Reply) bool {
	if r == nil {
		return true
	}
	_, ok := r.(noReply)
	return ok
}

const StatusSuccess = "success"

type CaptionReply struct {
	Status             string `json:"status"`
	TranslatedText     string `json:"translatedText"`
	TranslationEnabled bool   `json:"translationEnabled"`
	Sequence           uint64 `json:"sequence"`
	Error              string `json:"error,omitempty"`
}

type TranslateReply struct {
	TranslatedText string `json:"translatedText,omitempty"`
	Error          string `json:"error,omitempty"`
}

type SettingsReply struct {
	TranslationEnabled bool   `json:"translationEnabled"`
	TargetLanguage     string `json:"targetLanguage"`
}

type AckReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
