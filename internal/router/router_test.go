package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/live-caption-translator/internal/caption"
	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/message"
	"github.com/MimeLyc/live-caption-translator/internal/persistence"
)

type translateCall struct {
	Text string
	Lang string
}

type fakeTranslator struct {
	mu    sync.Mutex
	calls []translateCall
	fn    func(ctx context.Context, text, lang string) (string, error)
}

func (f *fakeTranslator) Translate(ctx context.Context, text, lang string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, translateCall{Text: text, Lang: lang})
	f.mu.Unlock()
	if f.fn == nil {
		return "[" + lang + "] " + text, nil
	}
	return f.fn(ctx, text, lang)
}

func (f *fakeTranslator) Calls() []translateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]translateCall(nil), f.calls...)
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key string, dst any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (s *memStore) Put(_ context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.data[key] = raw
	return nil
}

func (s *memStore) state(t *testing.T) State {
	t.Helper()
	var st State
	found, err := s.Get(context.Background(), stateKey, &st)
	require.NoError(t, err)
	require.True(t, found)
	return st
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (p *recordingPublisher) Publish(msg message.Message) {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
}

func (p *recordingPublisher) Messages() []message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message.Message(nil), p.msgs...)
}

type memHistory struct {
	mu   sync.Mutex
	recs []persistence.CaptionRecord
}

func (h *memHistory) AppendCaption(_ context.Context, rec persistence.CaptionRecord) error {
	h.mu.Lock()
	h.recs = append(h.recs, rec)
	h.mu.Unlock()
	return nil
}

var fixedNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func newTestRouter(t *testing.T, tr *fakeTranslator, opts ...Option) (*Router, *memStore, *recordingPublisher) {
	t.Helper()
	store := newMemStore()
	pub := &recordingPublisher{}
	base := []Option{
		WithStore(store),
		WithPublisher(pub),
		WithClock(func() time.Time { return fixedNow }),
	}
	r := New(tr, append(base, opts...)...)
	require.NoError(t, r.Init(context.Background()))
	r.Wait()
	return r, store, pub
}

func enabled(t *testing.T, r *Router, lang string) {
	t.Helper()
	on := true
	reply := r.HandleUpdateSettings(context.Background(), message.UpdateSettings{
		TranslationEnabled: &on,
		TargetLanguage:     &lang,
	})
	require.Equal(t, message.StatusSuccess, reply.Status)
}

func TestInit_SeedsDefaultsAndRunsSelfCheck(t *testing.T) {
	tr := &fakeTranslator{}
	r, store, _ := newTestRouter(t, tr)

	st := r.Snapshot()
	assert.Equal(t, WaitingText, st.OriginalText)
	assert.Equal(t, caption.Platform(NoPlatform), st.Platform)
	assert.False(t, st.TranslationEnabled)
	assert.Equal(t, "es", st.TargetLanguage)
	assert.Equal(t, st, store.state(t))

	assert.Equal(t, []translateCall{{Text: "test", Lang: "es"}}, tr.Calls())
}

func TestInit_LoadsPersistedState(t *testing.T) {
	store := newMemStore()
	persisted := State{OriginalText: "earlier line", Platform: caption.PlatformZoom, TargetLanguage: "fr", TranslationEnabled: true, Sequence: 7}
	require.NoError(t, store.Put(context.Background(), stateKey, persisted))

	r := New(&fakeTranslator{}, WithStore(store), WithSettings(false, "de"))
	require.NoError(t, r.Init(context.Background()))
	r.Wait()

	assert.Equal(t, persisted, r.Snapshot())
}

func newSettingsStore(t *testing.T, kv config.KV, enabled bool, lang string) *config.RuntimeSettingsStore {
	t.Helper()
	settings, err := config.NewRuntimeSettingsStore(context.Background(), kv, config.Settings{
		TranslationEnabled: enabled,
		TargetLanguage:     lang,
		ShowOriginal:       true,
		FontSize:           14,
		Opacity:            0.3,
	})
	require.NoError(t, err)
	return settings
}

func TestInit_RuntimeSettingsWinOverPersistedState(t *testing.T) {
	store := newMemStore()
	persisted := State{OriginalText: "earlier line", TargetLanguage: "de", Sequence: 3}
	require.NoError(t, store.Put(context.Background(), stateKey, persisted))
	settings := newSettingsStore(t, store, true, "fr")

	r := New(&fakeTranslator{}, WithStore(store), WithSettingsStore(settings))
	require.NoError(t, r.Init(context.Background()))
	r.Wait()

	st := r.Snapshot()
	assert.Equal(t, "earlier line", st.OriginalText)
	assert.True(t, st.TranslationEnabled)
	assert.Equal(t, "fr", st.TargetLanguage)
	assert.Equal(t, "fr", store.state(t).TargetLanguage)
}

func TestHandleUpdateSettings_WritesThroughSettingsStore(t *testing.T) {
	kv := newMemStore()
	settings := newSettingsStore(t, kv, false, "es")
	r, _, _ := newTestRouter(t, &fakeTranslator{}, WithSettingsStore(settings))
	ctx := context.Background()

	on := true
	lang := "fr"
	opacity := 0.6
	reply := r.HandleUpdateSettings(ctx, message.UpdateSettings{
		TranslationEnabled: &on,
		TargetLanguage:     &lang,
		Overlay:            message.OverlaySettingsPatch{Opacity: &opacity},
	})
	require.Equal(t, message.StatusSuccess, reply.Status)

	got := settings.GetRuntimeSettings()
	assert.True(t, got.TranslationEnabled)
	assert.Equal(t, "fr", got.TargetLanguage)
	assert.Equal(t, 0.6, got.Opacity)
	assert.Equal(t, 14, got.FontSize)

	size := 40
	reply = r.HandleUpdateSettings(ctx, message.UpdateSettings{Overlay: message.OverlaySettingsPatch{FontSize: &size}})
	assert.Contains(t, reply.Error, "font_size")
	assert.Equal(t, 14, settings.GetRuntimeSettings().FontSize)
	assert.Equal(t, message.SettingsReply{TranslationEnabled: true, TargetLanguage: "fr"}, r.HandleGetSettings())
}

func TestInit_SelfCheckFailureIsNotFatal(t *testing.T) {
	tr := &fakeTranslator{fn: func(context.Context, string, string) (string, error) {
		return "", errors.New("unreachable")
	}}
	r := New(tr, WithSettings(true, "ja"))
	require.NoError(t, r.Init(context.Background()))
	r.Wait()

	assert.True(t, r.Snapshot().TranslationEnabled)
	assert.Equal(t, "ja", r.Snapshot().TargetLanguage)
}

func TestHandleCaptionCaptured_TranslationDisabled(t *testing.T) {
	tr := &fakeTranslator{}
	r, store, pub := newTestRouter(t, tr)

	reply := r.HandleCaptionCaptured(context.Background(), message.CaptionCaptured{
		Text:      "hello there",
		Platform:  caption.PlatformYouTube,
		Timestamp: fixedNow,
	})

	assert.Equal(t, message.CaptionReply{Status: message.StatusSuccess, Sequence: 1}, reply)
	assert.Len(t, tr.Calls(), 1, "only the self-check reaches the translator")

	st := store.state(t)
	assert.Equal(t, "hello there", st.OriginalText)
	assert.Equal(t, caption.PlatformYouTube, st.Platform)
	assert.Equal(t, fixedNow, st.LastUpdated)

	require.Len(t, pub.Messages(), 1)
	assert.Equal(t, message.CaptionPush{OriginalText: "hello there", Sequence: 1}, pub.Messages()[0])
}

func TestHandleCaptionCaptured_TranslatesDisplayTextWithAuthor(t *testing.T) {
	tr := &fakeTranslator{}
	history := &memHistory{}
	r, _, pub := newTestRouter(t, tr, WithHistory(history))
	enabled(t, r, "fr")

	reply := r.HandleCaptionCaptured(context.Background(), message.CaptionCaptured{
		Text:      "  good morning  ",
		Platform:  caption.PlatformTeams,
		Author:    "Alice",
		Timestamp: fixedNow,
	})

	assert.Equal(t, message.StatusSuccess, reply.Status)
	assert.True(t, reply.TranslationEnabled)
	assert.Equal(t, "[fr] Alice: good morning", reply.TranslatedText)
	assert.Empty(t, reply.Error)

	calls := tr.Calls()
	assert.Equal(t, translateCall{Text: "Alice: good morning", Lang: "fr"}, calls[len(calls)-1])

	st := r.Snapshot()
	assert.Equal(t, "Alice: good morning", st.OriginalText)
	assert.Equal(t, "[fr] Alice: good morning", st.TranslatedText)
	assert.Equal(t, "Alice", st.Author)

	msgs := pub.Messages()
	assert.Equal(t, message.CaptionPush{
		OriginalText:   "Alice: good morning",
		TranslatedText: "[fr] Alice: good morning",
		Sequence:       1,
	}, msgs[len(msgs)-1])

	require.Len(t, history.recs, 1)
	assert.Equal(t, "Teams", history.recs[0].Platform)
	assert.Equal(t, "fr", history.recs[0].TargetLanguage)
}

func TestHandleCaptionCaptured_TranslationFailureStillReplies(t *testing.T) {
	tr := &fakeTranslator{}
	r, _, _ := newTestRouter(t, tr)
	enabled(t, r, "es")
	tr.fn = func(context.Context, string, string) (string, error) {
		return "", errors.New("backend down")
	}

	reply := r.HandleCaptionCaptured(context.Background(), message.CaptionCaptured{Text: "still here"})

	assert.Equal(t, message.StatusSuccess, reply.Status)
	assert.True(t, reply.TranslationEnabled)
	assert.Empty(t, reply.TranslatedText)
	assert.Contains(t, reply.Error, "backend down")
	assert.Equal(t, "still here", r.Snapshot().OriginalText)
	assert.Equal(t, caption.PlatformUnknown, r.Snapshot().Platform)
}

func TestHandleCaptionCaptured_StaleTranslationDoesNotOverwriteState(t *testing.T) {
	tr := &fakeTranslator{}
	r, _, _ := newTestRouter(t, tr)
	enabled(t, r, "es")

	release := make(chan struct{})
	entered := make(chan struct{})
	tr.fn = func(_ context.Context, text, lang string) (string, error) {
		if text == "first caption" {
			close(entered)
			<-release
		}
		return "[" + lang + "] " + text, nil
	}

	var first message.CaptionReply
	done := make(chan struct{})
	go func() {
		defer close(done)
		first = r.HandleCaptionCaptured(context.Background(), message.CaptionCaptured{Text: "first caption"})
	}()
	<-entered

	second := r.HandleCaptionCaptured(context.Background(), message.CaptionCaptured{Text: "second caption"})
	close(release)
	<-done

	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, "[es] first caption", first.TranslatedText)
	assert.Equal(t, uint64(2), second.Sequence)

	st := r.Snapshot()
	assert.Equal(t, "second caption", st.OriginalText)
	assert.Equal(t, "[es] second caption", st.TranslatedText)
}

func TestHandleCaptionCaptured_TimeoutBoundsTranslation(t *testing.T) {
	tr := &fakeTranslator{}
	r, _, _ := newTestRouter(t, tr, WithTimeout(20*time.Millisecond))
	enabled(t, r, "es")
	tr.fn = func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	reply := r.HandleCaptionCaptured(context.Background(), message.CaptionCaptured{Text: "slow backend"})
	assert.Contains(t, reply.Error, context.DeadlineExceeded.Error())
}

func TestHandleTranslationRequest(t *testing.T) {
	tr := &fakeTranslator{}
	r, _, _ := newTestRouter(t, tr)

	r.HandleCaptionCaptured(context.Background(), message.CaptionCaptured{Text: "bonjour"})
	reply := r.HandleTranslationRequest(context.Background(), message.TranslateRequest{Text: "bonjour", TargetLang: "en"})
	assert.Equal(t, message.TranslateReply{TranslatedText: "[en] bonjour"}, reply)
	assert.Equal(t, "[en] bonjour", r.Snapshot().TranslatedText)

	reply = r.HandleTranslationRequest(context.Background(), message.TranslateRequest{Text: "hello"})
	assert.Equal(t, "[es] hello", reply.TranslatedText)

	reply = r.HandleTranslationRequest(context.Background(), message.TranslateRequest{Text: "hello", TargetLang: "not a tag!"})
	assert.Empty(t, reply.TranslatedText)
	assert.Contains(t, reply.Error, "invalid target language")

	tr.fn = func(context.Context, string, string) (string, error) { return "", errors.New("quota exceeded") }
	reply = r.HandleTranslationRequest(context.Background(), message.TranslateRequest{Text: "hello", TargetLang: "de"})
	assert.Contains(t, reply.Error, "quota exceeded")
}

func TestHandleTranslationRequest_LateReplyForOlderCaptionIsNotStored(t *testing.T) {
	tr := &fakeTranslator{}
	r, store, _ := newTestRouter(t, tr)
	enabled(t, r, "es")
	ctx := context.Background()

	r.HandleCaptionCaptured(ctx, message.CaptionCaptured{Text: "First caption"})
	assert.Equal(t, "[es] First caption", r.Snapshot().TranslatedText)

	tr.fn = func(context.Context, string, string) (string, error) { return "", errors.New("backend down") }
	r.HandleCaptionCaptured(ctx, message.CaptionCaptured{Text: "Second caption"})
	tr.fn = nil

	reply := r.HandleTranslationRequest(ctx, message.TranslateRequest{Text: "First caption"})
	assert.Equal(t, "[es] First caption", reply.TranslatedText)

	st := r.Snapshot()
	assert.Equal(t, "Second caption", st.OriginalText)
	assert.Empty(t, st.TranslatedText)
	assert.Empty(t, store.state(t).TranslatedText)
}

func TestHandleUpdateSettings(t *testing.T) {
	r, store, pub := newTestRouter(t, &fakeTranslator{})

	bad := "??"
	reply := r.HandleUpdateSettings(context.Background(), message.UpdateSettings{TargetLanguage: &bad})
	assert.Contains(t, reply.Error, "invalid target language")
	assert.Equal(t, "es", r.Snapshot().TargetLanguage)

	on := true
	lang := "pt-br"
	size := 18
	reply = r.HandleUpdateSettings(context.Background(), message.UpdateSettings{
		TranslationEnabled: &on,
		TargetLanguage:     &lang,
		Overlay:            message.OverlaySettingsPatch{FontSize: &size},
	})
	require.Equal(t, message.StatusSuccess, reply.Status)

	assert.Equal(t, message.SettingsReply{TranslationEnabled: true, TargetLanguage: "pt-BR"}, r.HandleGetSettings())
	assert.Equal(t, "pt-BR", store.state(t).TargetLanguage)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	upd, ok := msgs[0].(message.SettingsUpdated)
	require.True(t, ok)
	require.NotNil(t, upd.Settings.TargetLanguage)
	assert.Equal(t, "pt-BR", *upd.Settings.TargetLanguage)
	assert.Equal(t, 18, *upd.Settings.FontSize)

	off := false
	r.HandleUpdateSettings(context.Background(), message.UpdateSettings{TranslationEnabled: &off})
	assert.Len(t, pub.Messages(), 1, "no overlay change, nothing published")

	opacity := 1.5
	reply = r.HandleUpdateSettings(context.Background(), message.UpdateSettings{
		Overlay: message.OverlaySettingsPatch{Opacity: &opacity},
	})
	assert.Contains(t, reply.Error, "invalid opacity")
}

func TestSetCapturing_PublishesLifecycle(t *testing.T) {
	r, store, pub := newTestRouter(t, &fakeTranslator{})

	assert.Equal(t, message.StatusSuccess, r.SetCapturing(context.Background(), true).Status)
	assert.True(t, store.state(t).Capturing)
	r.SetCapturing(context.Background(), false)
	assert.False(t, r.Snapshot().Capturing)

	assert.Equal(t, []message.Message{message.CaptureStarted{}, message.CaptureStopped{}}, pub.Messages())
}

func TestRegister_RoutesThroughBus(t *testing.T) {
	tr := &fakeTranslator{}
	r, _, _ := newTestRouter(t, tr)
	bus := message.NewBus()
	r.Register(bus)
	ctx := context.Background()

	msg, err := message.Decode([]byte(`{"action":"getSettings"}`))
	require.NoError(t, err)
	reply, err := bus.Request(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, message.SettingsReply{TargetLanguage: "es"}, reply)

	reply, err = bus.Request(ctx, message.Unknown{Type: "ping"})
	require.NoError(t, err)
	assert.True(t, message.IsNoReply(reply))

	reply, err = bus.Request(ctx, message.StartCapture{})
	require.NoError(t, err)
	assert.Equal(t, message.AckReply{Status: message.StatusSuccess}, reply)

	reply, err = bus.Request(ctx, message.GetStatus{})
	require.NoError(t, err)
	st, ok := reply.(State)
	require.True(t, ok)
	assert.True(t, st.Capturing)

	msg, err = message.Decode([]byte(`{"action":"updateCaption","text":"over the bus","platform":"zoom"}`))
	require.NoError(t, err)
	reply, err = bus.Request(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, message.StatusSuccess, reply.(message.CaptionReply).Status)
	assert.Equal(t, caption.PlatformZoom, r.Snapshot().Platform)
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	r, store, _ := newTestRouter(t, &fakeTranslator{})
	store.err = errors.New("disk full")

	reply := r.HandleCaptionCaptured(context.Background(), message.CaptionCaptured{Text: "keeps going"})
	assert.Equal(t, message.StatusSuccess, reply.Status)
	assert.Equal(t, "keeps going", r.Snapshot().OriginalText)
}

func TestSchedule(t *testing.T) {
	tr := &fakeTranslator{}
	r, _, _ := newTestRouter(t, tr)
	c := cron.New()

	require.NoError(t, r.Schedule(context.Background(), c, ""))
	assert.Empty(t, c.Entries())

	require.Error(t, r.Schedule(context.Background(), c, "sometimes"))

	require.NoError(t, r.Schedule(context.Background(), c, "@every 1h"))
	entries := c.Entries()
	require.Len(t, entries, 1)
	entries[0].Job.Run()
	assert.Len(t, tr.Calls(), 2)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "en", detectLanguage("The quick brown fox jumps over the lazy dog while the children are watching from the window"))
	assert.Equal(t, "", detectLanguage(""))
}
