package message

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/MimeLyc/live-caption-translator/internal/caption"
	"github.com/MimeLyc/live-caption-translator/internal/errs"
)

// kindAliases maps every accepted envelope type, including the names used by
// older extension builds, onto the closed set of kinds.
var kindAliases = map[string]Kind{
	string(KindCaptionCaptured):  KindCaptionCaptured,
	"updateCaption":              KindCaptionCaptured,
	"captionsDetected":           KindCaptionCaptured,
	string(KindTranslateRequest): KindTranslateRequest,
	"translateCaption":           KindTranslateRequest,
	"TRANSLATE_TEXT":             KindTranslateRequest,
	string(KindGetSettings):      KindGetSettings,
	"getSettings":                KindGetSettings,
	string(KindGetStatus):        KindGetStatus,
	"GET_STATUS":                 KindGetStatus,
	string(KindUpdateSettings):   KindUpdateSettings,
	"UPDATE_SETTINGS":            KindUpdateSettings,
	string(KindStartCapture):     KindStartCapture,
	"START_CAPTURE":              KindStartCapture,
	string(KindStopCapture):      KindStopCapture,
	"STOP_CAPTURE":               KindStopCapture,
	string(KindSettingsUpdated):  KindSettingsUpdated,
	"SETTINGS_UPDATED":           KindSettingsUpdated,
	string(KindCaptureStarted):   KindCaptureStarted,
	"CAPTURE_STARTED":            KindCaptureStarted,
	string(KindCaptureStopped):   KindCaptureStopped,
	"CAPTURE_STOPPED":            KindCaptureStopped,
	string(KindCaptionPush):      KindCaptionPush,
	"REAL_CAPTION_UPDATE":        KindCaptionPush,
}

type envelopeHead struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

type wireCaption struct {
	Text      string          `json:"text"`
	Platform  string          `json:"platform"`
	Author    string          `json:"author"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type wireTranslate struct {
	Text           string `json:"text"`
	TargetLang     string `json:"targetLang"`
	TargetLanguage string `json:"targetLanguage"`
	ToLang         string `json:"to_lang"`
}

type wireSettings struct {
	TranslationEnabled *bool    `json:"translationEnabled"`
	ShowOriginal       *bool    `json:"showOriginal"`
	TargetLanguage     *string  `json:"targetLanguage"`
	FontSize           *int     `json:"fontSize"`
	Opacity            *float64 `json:"overlayOpacity"`
}

func (w wireSettings) patch() OverlaySettingsPatch {
	return OverlaySettingsPatch{
		ShowOriginal:   w.ShowOriginal,
		TargetLanguage: w.TargetLanguage,
		FontSize:       w.FontSize,
		Opacity:        w.Opacity,
	}
}

type wireUpdateSettings struct {
	TranslationEnabled *bool        `json:"translationEnabled"`
	TargetLanguage     *string      `json:"targetLanguage"`
	Settings           wireSettings `json:"settings"`
}

// Decode parses a JSON envelope. The kind comes from "type", or from "action"
// for older senders. Unrecognised kinds decode to Unknown rather than failing.
func Decode(data []byte) (Message, error) {
	var head envelopeHead
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errs.Wrap(err, errs.ErrParse, "invalid message envelope")
	}
	name := strings.TrimSpace(head.Type)
	if name == "" {
		name = strings.TrimSpace(head.Action)
	}
	if name == "" {
		return nil, errs.New(errs.ErrValidation, "message type is required")
	}

	kind, ok := kindAliases[name]
	if !ok {
		return Unknown{Type: name}, nil
	}

	switch kind {
	case KindCaptionCaptured:
		var w wireCaption
		if err := unmarshalBody(data, &w); err != nil {
			return nil, err
		}
		at, err := parseTimestamp(w.Timestamp)
		if err != nil {
			return nil, err
		}
		return CaptionCaptured{
			Text:      w.Text,
			Platform:  platformOrUnknown(w.Platform),
			Author:    w.Author,
			Timestamp: at,
		}, nil
	case KindTranslateRequest:
		var w wireTranslate
		if err := unmarshalBody(data, &w); err != nil {
			return nil, err
		}
		lang := firstNonEmpty(w.TargetLang, w.TargetLanguage, w.ToLang)
		return TranslateRequest{Text: w.Text, TargetLang: lang}, nil
	case KindGetSettings:
		return GetSettings{}, nil
	case KindGetStatus:
		return GetStatus{}, nil
	case KindUpdateSettings:
		var w wireUpdateSettings
		if err := unmarshalBody(data, &w); err != nil {
			return nil, err
		}
		msg := UpdateSettings{
			TranslationEnabled: w.TranslationEnabled,
			TargetLanguage:     w.TargetLanguage,
			Overlay:            w.Settings.patch(),
		}
		if msg.TranslationEnabled == nil {
			msg.TranslationEnabled = w.Settings.TranslationEnabled
		}
		if msg.TargetLanguage == nil {
			msg.TargetLanguage = w.Settings.TargetLanguage
		}
		return msg, nil
	case KindStartCapture:
		return StartCapture{}, nil
	case KindStopCapture:
		return StopCapture{}, nil
	case KindSettingsUpdated:
		var w struct {
			Settings wireSettings `json:"settings"`
		}
		if err := unmarshalBody(data, &w); err != nil {
			return nil, err
		}
		return SettingsUpdated{Settings: w.Settings.patch()}, nil
	case KindCaptureStarted:
		return CaptureStarted{}, nil
	case KindCaptureStopped:
		return CaptureStopped{}, nil
	case KindCaptionPush:
		var m CaptionPush
		if err := unmarshalBody(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return Unknown{Type: name}, nil
}

// Encode renders msg as a JSON object carrying its kind in "type".
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrParse, "encode message")
	}
	fields := make(map[string]json.RawMessage)
	if !bytes.Equal(body, []byte("{}")) {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, errs.Wrap(err, errs.ErrParse, "encode message")
		}
	}
	kind, _ := json.Marshal(string(msg.Kind()))
	fields["type"] = kind
	return json.Marshal(fields)
}

func unmarshalBody(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Wrap(err, errs.ErrParse, "invalid message body")
	}
	return nil
}

// parseTimestamp accepts epoch milliseconds (as sent by page scripts) or an
// RFC 3339 string.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(int64(ms)), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, errs.Wrap(err, errs.ErrParse, "invalid timestamp")
	}
	if s == "" {
		return time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errs.Wrap(err, errs.ErrParse, "invalid timestamp").WithContext("value", s)
	}
	return at, nil
}

func platformOrUnknown(s string) caption.Platform {
	if strings.TrimSpace(s) == "" {
		return caption.PlatformUnknown
	}
	return caption.ParsePlatform(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
