package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/MimeLyc/live-caption-translator/internal/caption"
	"github.com/MimeLyc/live-caption-translator/internal/errs"
	"github.com/MimeLyc/live-caption-translator/internal/message"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// Engine is the generic poll loop. One engine serves one page and keeps its
// own dedup state; ticks never overlap, sends are fire-and-forget.
type Engine struct {
	cfg      PlatformConfig
	page     Page
	sender   message.Sender
	now      func() time.Time
	announce bool

	mu       sync.Mutex
	last     string
	mediaID  string
	paused   bool
	inflight sync.WaitGroup
}

type EngineOption func(*Engine)

// WithClock overrides the sample timestamp source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithAnnouncement makes Run emit a "<platform> detected" notice first.
func WithAnnouncement(enabled bool) EngineOption {
	return func(e *Engine) {
		e.announce = enabled
	}
}

func NewEngine(cfg PlatformConfig, page Page, sender message.Sender, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.ErrConfig, "invalid platform config")
	}
	if page == nil || sender == nil {
		return nil, errs.New(errs.ErrConfig, "page and sender are required").WithContext("platform", cfg.Platform)
	}
	e := &Engine{
		cfg:    cfg,
		page:   page,
		sender: sender,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Platform() caption.Platform {
	return e.cfg.Platform
}

// PollOnce reads the current caption. Any failure, including a panic while
// walking the document, counts as "no caption" for this tick.
func (e *Engine) PollOnce(ctx context.Context) *caption.Sample {
	var sample *caption.Sample
	err := errs.SafeExecute(func() error {
		s, err := e.read(ctx)
		sample = s
		return err
	})
	if err != nil {
		log.Debug("%s: no caption this tick: %v", e.cfg.Platform, err)
		return nil
	}
	return sample
}

// Tick polls once and sends the sample if it passes the dedup gate. It
// reports whether a send was issued.
func (e *Engine) Tick(ctx context.Context) bool {
	sample := e.PollOnce(ctx)
	if sample == nil {
		return false
	}
	return e.offer(ctx, *sample)
}

// Reset forgets the last emitted text so the next read is sent again.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.last = ""
	e.mu.Unlock()
}

// Wait blocks until every issued send has returned.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Run polls on the platform interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	var mediaTick <-chan time.Time
	if e.cfg.MediaParam != "" && e.cfg.MediaCheckInterval > 0 {
		t := time.NewTicker(e.cfg.MediaCheckInterval)
		defer t.Stop()
		mediaTick = t.C
	}

	var events <-chan MediaEvent
	if mp, ok := e.page.(MediaPage); ok {
		events = mp.MediaEvents()
	}

	e.mu.Lock()
	e.mediaID = e.currentMediaID()
	e.mu.Unlock()

	log.Info("%s: starting caption monitoring every %s", e.cfg.Platform, e.cfg.Interval)
	if e.announce {
		e.offer(ctx, caption.NewSample(
			fmt.Sprintf("%s detected - waiting for captions...", e.cfg.Platform),
			e.cfg.Platform, "", e.now()))
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("%s: stopping caption monitoring", e.cfg.Platform)
			e.Wait()
			return nil
		case <-ticker.C:
			e.mu.Lock()
			paused := e.paused
			e.mu.Unlock()
			if !paused {
				e.Tick(ctx)
			}
		case <-mediaTick:
			e.checkMediaChange()
		case ev := <-events:
			e.handleMediaEvent(ev)
		}
	}
}

func (e *Engine) handleMediaEvent(ev MediaEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch ev {
	case MediaPlay:
		e.paused = false
	case MediaPause:
		e.paused = true
	case MediaEnded:
		e.paused = true
		e.last = ""
	}
	log.Debug("%s: media %s", e.cfg.Platform, ev)
}

func (e *Engine) checkMediaChange() {
	id := e.currentMediaID()
	e.mu.Lock()
	defer e.mu.Unlock()
	if id != e.mediaID {
		log.Info("%s: media changed, resetting caption tracking", e.cfg.Platform)
		e.mediaID = id
		e.last = ""
	}
}

func (e *Engine) currentMediaID() string {
	if e.cfg.MediaParam == "" {
		return ""
	}
	u := e.page.URL()
	if u == nil {
		return ""
	}
	return u.Query().Get(e.cfg.MediaParam)
}

// offer applies the dedup gate: long enough and different from the last sent
// text of this engine.
func (e *Engine) offer(ctx context.Context, sample caption.Sample) bool {
	if !caption.LongEnough(sample.Text) {
		return false
	}
	e.mu.Lock()
	if sample.Text == e.last {
		e.mu.Unlock()
		return false
	}
	e.last = sample.Text
	e.mu.Unlock()

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.send(ctx, sample)
	}()
	return true
}

func (e *Engine) send(ctx context.Context, sample caption.Sample) {
	reply, err := e.sender.Send(ctx, message.NewCaptionCaptured(sample))
	if err != nil {
		log.Warn("%s: failed to send caption update: %v", e.cfg.Platform, err)
		return
	}
	if r, ok := reply.(message.CaptionReply); !ok || r.Status == "" {
		log.Warn("%s: no status in reply for caption update", e.cfg.Platform)
		return
	}
	log.Debug("%s: caption sent: %q", e.cfg.Platform, sample.Text)
}

func (e *Engine) read(ctx context.Context) (*caption.Sample, error) {
	root, err := e.root(ctx)
	if err != nil {
		return nil, err
	}
	text, ok := e.extract(root)
	if !ok {
		return nil, nil
	}
	s := caption.NewSample(text, e.cfg.Platform, e.author(root), e.now())
	return &s, nil
}

func (e *Engine) root(ctx context.Context) (*goquery.Selection, error) {
	if e.cfg.FrameSelector != "" {
		if fp, ok := e.page.(FramedPage); ok {
			frame, err := fp.Frame(ctx, e.cfg.FrameSelector)
			switch {
			case err == nil:
				doc, err := frame.Document(ctx)
				if err != nil {
					return nil, err
				}
				return doc.Selection, nil
			case errors.Is(err, ErrCrossOrigin):
				return nil, err
			}
			// frame not present: older layouts render captions in the top document
		}
	}
	doc, err := e.page.Document(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Selection, nil
}

func (e *Engine) extract(root *goquery.Selection) (string, bool) {
	for _, selector := range e.cfg.Selectors {
		nodes := root.Find(selector)
		if nodes.Length() == 0 {
			continue
		}

		var text string
		switch e.cfg.Strategy {
		case JoinAllLines:
			lines := make([]string, 0, nodes.Length())
			nodes.Each(func(_ int, s *goquery.Selection) {
				if line := strings.TrimSpace(s.Text()); line != "" {
					lines = append(lines, line)
				}
			})
			text = strings.Join(lines, e.cfg.LineSeparator)
		default:
			text = strings.TrimSpace(nodes.Last().Text())
		}

		if text != "" {
			log.Debug("%s: caption found with selector %s", e.cfg.Platform, selector)
			return text, true
		}
	}
	return "", false
}

func (e *Engine) author(root *goquery.Selection) string {
	if !e.cfg.hasAuthor() {
		return ""
	}
	if e.cfg.AuthorSelector != "" {
		if name := strings.TrimSpace(root.Find(e.cfg.AuthorSelector).Last().Text()); name != "" {
			return name
		}
	}
	if rule := e.cfg.AvatarAuthor; rule != nil {
		if src, ok := root.Find(rule.CaptionImage).First().Attr("src"); ok && src != "" {
			var name string
			root.Find(rule.TileImage).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if tileSrc, _ := s.Attr("src"); tileSrc == src {
					name, _ = s.Attr("alt")
					return false
				}
				return true
			})
			if name = strings.TrimSpace(name); name != "" {
				return name
			}
		}
	}
	return caption.UnknownSpeaker
}
