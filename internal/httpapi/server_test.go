package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/message"
	"github.com/MimeLyc/live-caption-translator/internal/overlay"
	"github.com/MimeLyc/live-caption-translator/internal/persistence"
	"github.com/MimeLyc/live-caption-translator/internal/router"
)

type upperTranslator struct{}

func (upperTranslator) Translate(_ context.Context, text, lang string) (string, error) {
	return strings.ToUpper(text) + " (" + lang + ")", nil
}

type testEnv struct {
	bus      *message.Bus
	router   *router.Router
	overlay  *overlay.Renderer
	settings *config.RuntimeSettingsStore
	server   *Server
	applied  []config.Settings
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "captions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	settings, err := config.NewRuntimeSettingsStore(ctx, store, config.Settings{
		TargetLanguage: "es",
		ShowOriginal:   true,
		FontSize:       14,
		Opacity:        0.3,
	})
	require.NoError(t, err)

	bus := message.NewBus()
	rt := router.New(upperTranslator{},
		router.WithStore(store),
		router.WithHistory(store),
		router.WithSettingsStore(settings),
		router.WithPublisher(bus),
	)
	require.NoError(t, rt.Init(ctx))
	rt.Wait()
	rt.Register(bus)

	env := &testEnv{
		bus:      bus,
		router:   rt,
		overlay:  overlay.New(bus),
		settings: settings,
	}
	base := []Option{
		WithOverlay(env.overlay),
		WithRuntimeSettingsStore(settings),
		WithCaptionHistory(store),
		WithRuntimeSettingsApplier(func(next config.Settings) error {
			env.applied = append(env.applied, next)
			return nil
		}),
	}
	env.server = NewServer(bus, append(base, opts...)...)
	return env
}

func (e *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServer_PostCaptionMessage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/messages", `{"action":"updateCaption","text":"hello world","platform":"youtube"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply message.CaptionReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, message.StatusSuccess, reply.Status)
	assert.False(t, reply.TranslationEnabled)
	assert.Empty(t, reply.TranslatedText)

	rec = env.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st router.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "hello world", st.OriginalText)
	assert.Equal(t, uint64(1), st.Sequence)

	rec = env.do(t, http.MethodGet, "/api/captions?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []persistence.CaptionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "hello world", recs[0].OriginalText)

	rec = env.do(t, http.MethodGet, "/api/captions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CaptionsSRT(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/messages", `{"type":"UPDATE_SETTINGS","translationEnabled":true,"targetLanguage":"es"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/messages", `{"type":"caption_captured","text":"hello again","platform":"zoom"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/captions.srt?mode=bilingual", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-subrip; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:04,000\nhello again\nHELLO AGAIN (es)\n\n", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/captions.srt?mode=karaoke", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_PostTranslateMessage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/messages", `{"type":"TRANSLATE_TEXT","text":"hi","targetLanguage":"fr"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"translatedText":"HI (fr)"}`, rec.Body.String())
}

func TestServer_PostMessageErrors(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/api/messages", `{"type":"ping"}`).Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/api/messages", `{"type":"capture_started"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/messages", `{not json`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/messages", `{"text":"no type"}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/api/messages", "").Code)
}

func TestServer_NoReceiverIsUnavailable(t *testing.T) {
	srv := NewServer(message.NewBus())
	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"type":"get_settings"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_Settings(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"target_language":"es"`)

	rec = env.do(t, http.MethodPut, "/api/settings", `{"target_language":"es","font_size":99,"overlay_opacity":0.3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/settings", `{`).Code)

	rec = env.do(t, http.MethodPut, "/api/settings",
		`{"translation_enabled":true,"target_language":"pt-br","show_original":false,"font_size":18,"overlay_opacity":0.5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, message.SettingsReply{TranslationEnabled: true, TargetLanguage: "pt-BR"}, env.router.HandleGetSettings())
	assert.Equal(t, "pt-BR", env.settings.GetRuntimeSettings().TargetLanguage)
	require.Len(t, env.applied, 1)
	assert.Equal(t, 18, env.applied[0].FontSize)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodDelete, "/api/settings", "").Code)
}

func TestServer_UpdateSettingsMessageIsVisibleInSettings(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/messages", `{"type":"UPDATE_SETTINGS","translationEnabled":true,"targetLanguage":"fr"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, message.SettingsReply{TranslationEnabled: true, TargetLanguage: "fr"}, env.router.HandleGetSettings())

	rec = env.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got config.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.TranslationEnabled)
	assert.Equal(t, "fr", got.TargetLanguage)
	assert.Equal(t, 14, got.FontSize)

	rec = env.do(t, http.MethodPost, "/api/messages", `{"type":"UPDATE_SETTINGS","settings":{"fontSize":40}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "font_size")
	assert.Equal(t, 14, env.settings.GetRuntimeSettings().FontSize)
}

func TestServer_OverlayActions(t *testing.T) {
	env := newTestEnv(t)
	env.overlay.Activate()
	env.router.SetCapturing(context.Background(), true)

	rec := env.do(t, http.MethodGet, "/api/overlay", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `id="real-caption-display"`)

	rec = env.do(t, http.MethodPost, "/api/overlay/actions", `{"action":"font_increase"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"action":"font_increase","fontSize":16}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/overlay/actions", `{"action":"opacity","value":80}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"action":"opacity","overlayOpacity":0.8}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/overlay/actions", `{"action":"mouse_down","x":500,"y":550}`)
	assert.JSONEq(t, `{"action":"mouse_down","started":true}`, rec.Body.String())
	env.do(t, http.MethodPost, "/api/overlay/actions", `{"action":"mouse_move","x":510,"y":560}`)
	env.do(t, http.MethodPost, "/api/overlay/actions", `{"action":"mouse_up"}`)
	assert.Equal(t, overlay.Rect{X: 350, Y: 550, W: 600, H: 100}, env.overlay.Rect())

	rec = env.do(t, http.MethodPost, "/api/overlay/actions", `{"action":"close"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.overlay.Active())
	assert.False(t, env.router.Snapshot().Capturing)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/overlay/actions", `{"action":"spin"}`).Code)
}

func TestServer_StreamRelaysBroadcasts(t *testing.T) {
	env := newTestEnv(t, WithKeepAlive(time.Hour))
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/overlay/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return len(env.bus.Stats().Subscribers) == 1
	}, time.Second, 10*time.Millisecond)

	env.router.SetCapturing(context.Background(), true)

	reader := bufio.NewReader(resp.Body)
	event, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: capture_started\n", event)
	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(data, "data: "))
	assert.Contains(t, data, `"type":"capture_started"`)

	cancel()
	require.Eventually(t, func() bool {
		return len(env.bus.Stats().Subscribers) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServer_ServesSPAFromStaticDir(t *testing.T) {
	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>popup</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("console.log(1)"), 0o644))

	server := NewServer(message.NewBus(), WithUI(staticDir, true))
	for _, url := range []string{"/", "/settings/overlay", "/missing.css"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "popup")
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Contains(t, rec.Body.String(), "console.log")

	disabled := NewServer(message.NewBus())
	rec = httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
