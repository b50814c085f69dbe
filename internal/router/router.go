// Package router is the hub between scrapers and the overlay: it owns the
// shared caption state, runs translations and answers control messages.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/errs"
	"github.com/MimeLyc/live-caption-translator/internal/message"
	"github.com/MimeLyc/live-caption-translator/internal/persistence"
	"github.com/MimeLyc/live-caption-translator/internal/translator"
	"github.com/MimeLyc/live-caption-translator/pkg/icron"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

const (
	selfCheckText = "test"
	selfCheckLang = "es"
)

// Store persists the state between runs.
type Store interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Put(ctx context.Context, key string, value any) error
}

// History records every handled caption.
type History interface {
	AppendCaption(ctx context.Context, rec persistence.CaptionRecord) error
}

// SettingsStore owns the user settings. When set, the router takes its
// translation settings from it and writes every update through it.
type SettingsStore interface {
	GetRuntimeSettings() config.Settings
	UpdateRuntimeSettings(ctx context.Context, next config.Settings) (config.Settings, error)
}

type Router struct {
	translator translator.Translator
	store      Store
	history    History
	settings   SettingsStore
	publisher  message.Publisher
	timeout    time.Duration
	now        func() time.Time
	defaults   *State

	mu    sync.RWMutex
	state State

	checks singleflight.Group
	wg     sync.WaitGroup
}

type Option func(*Router)

func WithStore(store Store) Option {
	return func(r *Router) {
		r.store = store
	}
}

func WithSettingsStore(settings SettingsStore) Option {
	return func(r *Router) {
		r.settings = settings
	}
}

func WithHistory(history History) Option {
	return func(r *Router) {
		r.history = history
	}
}

// WithPublisher sets where pushes and overlay notifications go.
func WithPublisher(p message.Publisher) Option {
	return func(r *Router) {
		r.publisher = p
	}
}

// WithTimeout bounds each translation call. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.timeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// WithSettings seeds translation settings used when nothing is persisted yet.
func WithSettings(enabled bool, targetLanguage string) Option {
	return func(r *Router) {
		s := DefaultState(time.Time{})
		s.TranslationEnabled = enabled
		if tag, err := language.Parse(targetLanguage); err == nil {
			s.TargetLanguage = tag.String()
		}
		r.defaults = &s
	}
}

func New(tr translator.Translator, opts ...Option) *Router {
	r := &Router{
		translator: tr,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init loads the persisted state or seeds and persists the defaults, then
// fires a one-shot connectivity check in the background.
func (r *Router) Init(ctx context.Context) error {
	seed := DefaultState(r.now())
	if r.defaults != nil {
		seed.TranslationEnabled = r.defaults.TranslationEnabled
		seed.TargetLanguage = r.defaults.TargetLanguage
	}

	loaded := false
	if r.store != nil {
		var persisted State
		found, err := r.store.Get(ctx, stateKey, &persisted)
		if err != nil {
			errs.Log(err)
		} else if found {
			seed = persisted
			if seed.TargetLanguage == "" {
				seed.TargetLanguage = DefaultLanguage
			}
			loaded = true
		}
	}

	if r.settings != nil {
		owned := r.settings.GetRuntimeSettings()
		if loaded && (seed.TranslationEnabled != owned.TranslationEnabled || seed.TargetLanguage != owned.TargetLanguage) {
			log.Info("Caption state settings replaced by runtime settings (target %s)", owned.TargetLanguage)
			loaded = false
		}
		seed.TranslationEnabled = owned.TranslationEnabled
		seed.TargetLanguage = owned.TargetLanguage
	}

	r.mu.Lock()
	r.state = seed
	r.mu.Unlock()

	if loaded {
		log.Info("Loaded caption state (sequence %d, target %s)", seed.Sequence, seed.TargetLanguage)
	} else {
		log.Info("Seeded caption state (target %s, translation enabled %v)", seed.TargetLanguage, seed.TranslationEnabled)
		r.persist(ctx, seed)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.SelfCheck(context.WithoutCancel(ctx))
	}()
	return nil
}

// Register installs the router as the receiver for every request kind.
func (r *Router) Register(bus *message.Bus) {
	bus.Handle(message.KindCaptionCaptured, func(ctx context.Context, msg message.Message) (message.Reply, error) {
		m, ok := msg.(message.CaptionCaptured)
		if !ok {
			return nil, unexpected(msg)
		}
		return r.HandleCaptionCaptured(ctx, m), nil
	})
	bus.Handle(message.KindTranslateRequest, func(ctx context.Context, msg message.Message) (message.Reply, error) {
		m, ok := msg.(message.TranslateRequest)
		if !ok {
			return nil, unexpected(msg)
		}
		return r.HandleTranslationRequest(ctx, m), nil
	})
	bus.Handle(message.KindGetSettings, func(ctx context.Context, msg message.Message) (message.Reply, error) {
		return r.HandleGetSettings(), nil
	})
	bus.Handle(message.KindGetStatus, func(ctx context.Context, msg message.Message) (message.Reply, error) {
		return r.Snapshot(), nil
	})
	bus.Handle(message.KindUpdateSettings, func(ctx context.Context, msg message.Message) (message.Reply, error) {
		m, ok := msg.(message.UpdateSettings)
		if !ok {
			return nil, unexpected(msg)
		}
		return r.HandleUpdateSettings(ctx, m), nil
	})
	bus.Handle(message.KindStartCapture, func(ctx context.Context, msg message.Message) (message.Reply, error) {
		return r.SetCapturing(ctx, true), nil
	})
	bus.Handle(message.KindStopCapture, func(ctx context.Context, msg message.Message) (message.Reply, error) {
		return r.SetCapturing(ctx, false), nil
	})
	bus.HandleUnknown(r.handleUnknown)
}

func unexpected(msg message.Message) error {
	return errs.New(errs.ErrValidation, "unexpected message payload").
		WithContext("kind", msg.Kind()).
		WithContext("type", fmt.Sprintf("%T", msg))
}

func (r *Router) handleUnknown(_ context.Context, msg message.Message) (message.Reply, error) {
	log.Debug("Ignoring message of kind %q", msg.Kind())
	return message.NoReply, nil
}

// Snapshot returns a copy of the shared state.
func (r *Router) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// HandleCaptionCaptured records the caption, translates it when enabled and
// always produces exactly one reply.
func (r *Router) HandleCaptionCaptured(ctx context.Context, msg message.CaptionCaptured) message.CaptionReply {
	sample := msg.Sample()
	display := sample.DisplayText()

	r.mu.Lock()
	r.state.Sequence++
	seq := r.state.Sequence
	r.state.OriginalText = display
	r.state.TranslatedText = ""
	r.state.Platform = sample.Platform
	r.state.Author = sample.Author
	r.state.SourceLanguage = detectLanguage(sample.Text)
	r.state.LastUpdated = sample.CapturedAt
	enabled := r.state.TranslationEnabled
	target := r.state.TargetLanguage
	r.mu.Unlock()

	reply := message.CaptionReply{
		Status:             message.StatusSuccess,
		TranslationEnabled: enabled,
		Sequence:           seq,
	}

	if enabled {
		translated, err := r.translate(ctx, display, target)
		if err != nil {
			errs.Log(errs.Wrap(err, errs.ErrBackend, "caption translation failed").WithContext("sequence", seq))
			reply.Error = err.Error()
		} else {
			reply.TranslatedText = translated
			r.mu.Lock()
			// a newer caption may have landed while we were translating
			if r.state.Sequence == seq {
				r.state.TranslatedText = translated
			}
			r.mu.Unlock()
		}
	}

	snapshot := r.Snapshot()
	r.persist(ctx, snapshot)
	r.record(ctx, persistence.CaptionRecord{
		Sequence:       seq,
		Platform:       string(sample.Platform),
		OriginalText:   display,
		TranslatedText: reply.TranslatedText,
		TargetLanguage: target,
		CapturedAt:     sample.CapturedAt,
	})
	r.publish(message.CaptionPush{
		OriginalText:   display,
		TranslatedText: reply.TranslatedText,
		Sequence:       seq,
	})
	return reply
}

// HandleTranslationRequest translates an arbitrary text. An empty target
// falls back to the configured one. The result is stored only when text is
// the caption currently held.
func (r *Router) HandleTranslationRequest(ctx context.Context, msg message.TranslateRequest) message.TranslateReply {
	target := strings.TrimSpace(msg.TargetLang)
	if target == "" {
		target = r.Snapshot().TargetLanguage
	}
	tag, err := language.Parse(target)
	if err != nil {
		return message.TranslateReply{Error: fmt.Sprintf("invalid target language %q", target)}
	}

	translated, err := r.translate(ctx, msg.Text, tag.String())
	if err != nil {
		errs.Log(errs.Wrap(err, errs.ErrBackend, "translation request failed"))
		return message.TranslateReply{Error: err.Error()}
	}

	r.mu.Lock()
	// only a translation of the caption currently held belongs in the state
	current := r.state.OriginalText == strings.TrimSpace(msg.Text)
	if current {
		r.state.TranslatedText = translated
		r.state.LastUpdated = r.now()
	}
	snapshot := r.state
	r.mu.Unlock()
	if current {
		r.persist(ctx, snapshot)
	}

	return message.TranslateReply{TranslatedText: translated}
}

func (r *Router) HandleGetSettings() message.SettingsReply {
	s := r.Snapshot()
	return message.SettingsReply{
		TranslationEnabled: s.TranslationEnabled,
		TargetLanguage:     s.TargetLanguage,
	}
}

// HandleUpdateSettings applies a partial settings update. The overlay part is
// forwarded as SettingsUpdated; a target language change is mirrored into it.
func (r *Router) HandleUpdateSettings(ctx context.Context, msg message.UpdateSettings) message.AckReply {
	target := msg.TargetLanguage
	if target == nil {
		target = msg.Overlay.TargetLanguage
	}
	var canonical string
	if target != nil {
		tag, err := language.Parse(strings.TrimSpace(*target))
		if err != nil {
			return message.AckReply{Error: fmt.Sprintf("invalid target language %q", *target)}
		}
		canonical = tag.String()
	}
	if fs := msg.Overlay.FontSize; fs != nil && *fs <= 0 {
		return message.AckReply{Error: fmt.Sprintf("invalid font size %d", *fs)}
	}
	if op := msg.Overlay.Opacity; op != nil && (*op < 0 || *op > 1) {
		return message.AckReply{Error: fmt.Sprintf("invalid opacity %v", *op)}
	}

	if err := r.saveSettings(ctx, msg, target, canonical); err != nil {
		errs.Log(err)
		return message.AckReply{Error: err.Error()}
	}

	r.mu.Lock()
	if msg.TranslationEnabled != nil {
		r.state.TranslationEnabled = *msg.TranslationEnabled
	}
	if target != nil {
		r.state.TargetLanguage = canonical
	}
	snapshot := r.state
	r.mu.Unlock()

	log.Info("Settings updated (translation enabled %v, target %s)", snapshot.TranslationEnabled, snapshot.TargetLanguage)
	r.persist(ctx, snapshot)

	patch := msg.Overlay
	if target != nil {
		patch.TargetLanguage = &canonical
	}
	if !patch.Empty() {
		r.publish(message.SettingsUpdated{Settings: patch})
	}
	return message.AckReply{Status: message.StatusSuccess}
}

// saveSettings writes the update through the settings store so the HTTP
// settings view and the next start see the same values.
func (r *Router) saveSettings(ctx context.Context, msg message.UpdateSettings, target *string, canonical string) error {
	if r.settings == nil {
		return nil
	}
	current := r.settings.GetRuntimeSettings()
	next := current
	if msg.TranslationEnabled != nil {
		next.TranslationEnabled = *msg.TranslationEnabled
	}
	if target != nil {
		next.TargetLanguage = canonical
	}
	if v := msg.Overlay.ShowOriginal; v != nil {
		next.ShowOriginal = *v
	}
	if v := msg.Overlay.FontSize; v != nil {
		next.FontSize = *v
	}
	if v := msg.Overlay.Opacity; v != nil {
		next.Opacity = *v
	}
	if next == current {
		return nil
	}
	if _, err := r.settings.UpdateRuntimeSettings(ctx, next); err != nil {
		return errs.Wrap(err, errs.ErrValidation, "settings rejected")
	}
	return nil
}

// SetCapturing flips the capture flag and tells the overlay.
func (r *Router) SetCapturing(ctx context.Context, capturing bool) message.AckReply {
	r.mu.Lock()
	r.state.Capturing = capturing
	snapshot := r.state
	r.mu.Unlock()
	r.persist(ctx, snapshot)

	if capturing {
		log.Info("Capture started")
		r.publish(message.CaptureStarted{})
	} else {
		log.Info("Capture stopped")
		r.publish(message.CaptureStopped{})
	}
	return message.AckReply{Status: message.StatusSuccess}
}

// SelfCheck translates a fixed sample text to verify backend connectivity.
// Concurrent checks share one call.
func (r *Router) SelfCheck(ctx context.Context) error {
	_, err, _ := r.checks.Do("selfcheck", func() (any, error) {
		translated, err := r.translate(ctx, selfCheckText, selfCheckLang)
		if err != nil {
			log.Warn("Translator self-check failed: %v | advice: %s", err, errs.Advice(err))
			return nil, err
		}
		log.Info("Translator self-check ok: %q -> %q", selfCheckText, translated)
		return nil, nil
	})
	return err
}

// Schedule registers the periodic self-check on c. An empty expression
// disables it.
func (r *Router) Schedule(ctx context.Context, c *cron.Cron, expr string) error {
	if strings.TrimSpace(expr) == "" {
		log.Info("Scheduled self-check disabled")
		return nil
	}
	schedule, err := icron.Parse(expr)
	if err != nil {
		return errs.Wrap(err, errs.ErrConfig, "invalid self-check schedule").WithContext("expr", expr)
	}
	c.Schedule(schedule, cron.FuncJob(func() {
		_ = r.SelfCheck(ctx)
	}))

	if info, err := icron.GetTriggerInfo(expr, r.now()); err == nil {
		log.Info("Scheduled translator self-check: %s", info)
	}
	return nil
}

// Wait blocks until background work started by Init has finished.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) translate(ctx context.Context, text, target string) (string, error) {
	if r.translator == nil {
		return "", errs.New(errs.ErrConfig, "no translator configured")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.translator.Translate(ctx, text, target)
}

func (r *Router) persist(ctx context.Context, s State) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(ctx, stateKey, s); err != nil {
		errs.Log(err)
	}
}

func (r *Router) record(ctx context.Context, rec persistence.CaptionRecord) {
	if r.history == nil {
		return
	}
	if err := r.history.AppendCaption(ctx, rec); err != nil {
		errs.Log(err)
	}
}

func (r *Router) publish(msg message.Message) {
	if r.publisher != nil {
		r.publisher.Publish(msg)
	}
}

func detectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
