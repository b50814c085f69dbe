package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/errs"
	"github.com/MimeLyc/live-caption-translator/internal/message"
	"github.com/MimeLyc/live-caption-translator/internal/persistence"
	"github.com/MimeLyc/live-caption-translator/internal/subtitle"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

const maxMessageBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"bus":    s.bus.Stats(),
	})
}

// handleMessages accepts one message envelope. Broadcast kinds are fanned
// out; everything else goes to its handler and the reply is returned.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	msg, err := message.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var reply message.Reply
	switch msg.Kind() {
	case message.KindSettingsUpdated, message.KindCaptureStarted, message.KindCaptureStopped, message.KindCaptionPush:
		s.bus.Publish(msg)
		reply = message.NoReply
	case message.KindCaptionCaptured:
		reply, err = s.bus.Send(r.Context(), msg)
	default:
		reply, err = s.bus.Request(r.Context(), msg)
	}
	if err != nil {
		writeBusError(w, err)
		return
	}
	if message.IsNoReply(reply) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reply, err := s.bus.Request(r.Context(), message.GetStatus{})
	if err != nil {
		writeBusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.GetRuntimeSettings())
	case http.MethodPut:
		var req config.Settings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		reply, err := s.bus.Request(r.Context(), settingsMessage(saved))
		if err != nil {
			writeBusError(w, err)
			return
		}
		if ack, ok := reply.(message.AckReply); ok && ack.Error != "" {
			writeError(w, http.StatusBadRequest, ack.Error)
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func settingsMessage(s config.Settings) message.UpdateSettings {
	return message.UpdateSettings{
		TranslationEnabled: &s.TranslationEnabled,
		TargetLanguage:     &s.TargetLanguage,
		Overlay: message.OverlaySettingsPatch{
			ShowOriginal: &s.ShowOriginal,
			FontSize:     &s.FontSize,
			Opacity:      &s.Opacity,
		},
	}
}

func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request) {
	recs, ok := s.recentCaptions(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleCaptionsSRT exports recent history as an SRT file, oldest cue first.
func (s *Server) handleCaptionsSRT(w http.ResponseWriter, r *http.Request) {
	mode, ok := subtitle.ParseMode(r.URL.Query().Get("mode"))
	if !ok {
		writeError(w, http.StatusBadRequest, "mode must be translated, original or bilingual")
		return
	}
	recs, ok := s.recentCaptions(w, r)
	if !ok {
		return
	}

	entries := make([]subtitle.Entry, 0, len(recs))
	lang := ""
	for _, rec := range recs {
		entries = append(entries, subtitle.Entry{
			At:             rec.CapturedAt,
			Text:           rec.OriginalText,
			TranslatedText: rec.TranslatedText,
		})
		if lang == "" {
			lang = rec.TargetLanguage
		}
	}

	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="captions.srt"`)
	if err := subtitle.Write(w, subtitle.Build(entries, lang), mode); err != nil {
		log.Warn("SRT export failed: %v", err)
	}
}

func (s *Server) recentCaptions(w http.ResponseWriter, r *http.Request) ([]persistence.CaptionRecord, bool) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "caption history is not configured")
		return nil, false
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return nil, false
		}
		limit = n
	}
	recs, err := s.history.RecentCaptions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return recs, true
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.overlay == nil {
		writeError(w, http.StatusNotImplemented, "overlay is not configured")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, s.overlay.HTML())
}

type overlayAction struct {
	Action string `json:"action"`
	Value  int    `json:"value"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

func (s *Server) handleOverlayAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.overlay == nil {
		writeError(w, http.StatusNotImplemented, "overlay is not configured")
		return
	}
	var req overlayAction
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result := map[string]any{"action": req.Action}
	switch req.Action {
	case "font_increase":
		result["fontSize"] = s.overlay.IncreaseFont()
	case "font_decrease":
		result["fontSize"] = s.overlay.DecreaseFont()
	case "opacity":
		result["overlayOpacity"] = s.overlay.SetOpacitySlider(req.Value)
	case "close":
		if err := s.overlay.Close(r.Context()); err != nil {
			writeBusError(w, err)
			return
		}
	case "mouse_down":
		result["started"] = s.overlay.MouseDown(req.X, req.Y)
	case "mouse_move":
		s.overlay.MouseMove(req.X, req.Y)
	case "mouse_up":
		s.overlay.MouseUp()
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeBusError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsErrorType(err, errs.ErrChannel):
		status = http.StatusServiceUnavailable
	case errs.IsErrorType(err, errs.ErrValidation), errs.IsErrorType(err, errs.ErrParse):
		status = http.StatusBadRequest
	}
	errs.Log(err)
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
