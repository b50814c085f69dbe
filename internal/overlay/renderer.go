// Package overlay keeps the floating caption panel as an HTML document and
// applies caption updates, settings changes and user gestures to it.
package overlay

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/MimeLyc/live-caption-translator/internal/caption"
	"github.com/MimeLyc/live-caption-translator/internal/errs"
	"github.com/MimeLyc/live-caption-translator/internal/message"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

const (
	DisplayID       = "real-caption-display"
	TextID          = "real-caption-text"
	PlaceholderText = "Waiting for captions..."

	classPlaceholder = "no-captions-state"
	classEntry       = "caption-entry"
	classOriginal    = "original-text-content"
	classTranslated  = "translated-text-content"
	classHandle      = "drag-handle"
	classSlider      = "opacity-slider"
	classFontButton  = "resize-btn"
	classClose       = "close-btn"

	DefaultFadeDelay = 500 * time.Millisecond

	maxTapped = 32
)

// Renderer owns one overlay document. It is Absent until the first capture
// start or caption and Active while the panel node is attached.
type Renderer struct {
	router    message.Requester
	viewport  Size
	fadeDelay time.Duration
	after     func(time.Duration, func())

	mu         sync.Mutex
	settings   Settings
	doc        *html.Node
	body       *html.Node
	panel      *html.Node
	rect       Rect
	gesture    gesture
	generation uint64
	lastPush   uint64
	// live-tapped captions not yet confirmed by a push, oldest first
	tapped []string

	pending sync.WaitGroup
}

type Option func(*Renderer)

func WithSettings(s Settings) Option {
	return func(r *Renderer) {
		r.settings = s
	}
}

// WithViewport sets the page size used to place a new panel.
func WithViewport(width, height int) Option {
	return func(r *Renderer) {
		r.viewport = Size{Width: width, Height: height}
	}
}

// WithFadeDelay sets how long the faded placeholder stays before removal.
func WithFadeDelay(d time.Duration) Option {
	return func(r *Renderer) {
		r.fadeDelay = d
	}
}

func New(router message.Requester, opts ...Option) *Renderer {
	r := &Renderer{
		router:    router,
		viewport:  Size{Width: 1280, Height: 720},
		fadeDelay: DefaultFadeDelay,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.doc, r.body = newDocument()
	return r
}

// Handle applies one bus message to the overlay.
func (r *Renderer) Handle(ctx context.Context, msg message.Message) {
	switch m := msg.(type) {
	case message.CaptureStarted:
		r.Activate()
	case message.CaptureStopped:
		r.Remove()
	case message.SettingsUpdated:
		r.ApplySettings(m.Settings)
	case message.CaptionPush:
		r.Push(m)
	case message.CaptionCaptured:
		r.LiveTap(ctx, m)
	}
}

// Subscriber is the part of the bus the overlay listens on.
type Subscriber interface {
	Subscribe(id string, ch chan<- message.Message) error
	Unsubscribe(id string) error
}

// Run consumes bus messages until ctx is done.
func (r *Renderer) Run(ctx context.Context, bus Subscriber, id string) error {
	ch := make(chan message.Message, 64)
	if err := bus.Subscribe(id, ch); err != nil {
		return errs.Wrap(err, errs.ErrChannel, "overlay subscribe").WithContext("id", id)
	}
	defer func() {
		_ = bus.Unsubscribe(id)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			r.Handle(ctx, msg)
		}
	}
}

// Activate mounts a fresh panel, replacing any existing one.
func (r *Renderer) Activate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mount()
	log.Debug("Overlay activated")
}

// Remove detaches the panel. The next caption recreates it from scratch.
func (r *Renderer) Remove() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unmount()
}

// Close is the close button: tear down and ask the router to stop capture.
func (r *Renderer) Close(ctx context.Context) error {
	r.Remove()
	if r.router == nil {
		return nil
	}
	if _, err := r.router.Request(ctx, message.StopCapture{}); err != nil {
		errs.Log(err)
		return err
	}
	return nil
}

func (r *Renderer) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.panel != nil
}

func (r *Renderer) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// HTML renders the whole overlay document.
func (r *Renderer) HTML() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return render(r.doc)
}

// Wait blocks until pending live-tap translations have resolved.
func (r *Renderer) Wait() {
	r.pending.Wait()
}

// Push renders a finished caption from the router. Pushes older than the
// last one shown are dropped, and so is a push for a caption that a newer
// live tap has already replaced on screen.
func (r *Renderer) Push(m message.CaptionPush) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.Sequence != 0 && m.Sequence < r.lastPush {
		log.Debug("Dropping stale caption push %d (showing %d)", m.Sequence, r.lastPush)
		return
	}
	if m.Sequence != 0 {
		r.lastPush = m.Sequence
	}
	if i := lastIndex(r.tapped, m.OriginalText); i >= 0 && i < len(r.tapped)-1 {
		r.tapped = r.tapped[i+1:]
		log.Debug("Dropping caption push %d, a newer caption is shown", m.Sequence)
		return
	}
	r.tapped = r.tapped[:0]
	r.renderEntry(m.OriginalText, m.TranslatedText)
}

// LiveTap renders a scraper capture straight away, then fetches the
// translation in the background and appends it if nothing newer was shown.
func (r *Renderer) LiveTap(ctx context.Context, m message.CaptionCaptured) {
	original := m.Sample().DisplayText()
	if !caption.LongEnough(original) {
		return
	}

	r.mu.Lock()
	gen := r.renderEntry(original, "")
	r.tapped = append(r.tapped, original)
	if len(r.tapped) > maxTapped {
		r.tapped = r.tapped[len(r.tapped)-maxTapped:]
	}
	fallbackLang := r.settings.TargetLanguage
	r.mu.Unlock()

	if r.router == nil {
		return
	}
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		translated, ok := r.fetchTranslation(ctx, original, fallbackLang)
		if !ok {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.generation != gen || r.panel == nil {
			log.Debug("Dropping stale translation for generation %d", gen)
			return
		}
		r.appendTranslated(original, translated)
	}()
}

func (r *Renderer) fetchTranslation(ctx context.Context, text, fallbackLang string) (string, bool) {
	reply, err := r.router.Request(ctx, message.GetSettings{})
	if err != nil {
		errs.Log(err)
		return "", false
	}
	settings, ok := reply.(message.SettingsReply)
	if !ok || !settings.TranslationEnabled {
		return "", false
	}
	lang := settings.TargetLanguage
	if lang == "" {
		lang = fallbackLang
	}

	reply, err = r.router.Request(ctx, message.TranslateRequest{Text: text, TargetLang: lang})
	if err != nil {
		errs.Log(err)
		return "", false
	}
	tr, ok := reply.(message.TranslateReply)
	if !ok || tr.Error != "" || tr.TranslatedText == "" {
		return "", false
	}
	return tr.TranslatedText, true
}

// ApplySettings merges p and re-applies font size and opacity in place.
func (r *Renderer) ApplySettings(p message.OverlaySettingsPatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = r.settings.Merge(p)
	r.applyFontSize()
	r.applyOpacity()
}

func (r *Renderer) IncreaseFont() int {
	return r.stepFont(FontStep)
}

func (r *Renderer) DecreaseFont() int {
	return r.stepFont(-FontStep)
}

func (r *Renderer) stepFont(delta int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings.FontSize = clampFont(r.settings.FontSize + delta)
	r.applyFontSize()
	return r.settings.FontSize
}

// SetOpacitySlider maps a 0-100 slider position onto the panel opacity.
func (r *Renderer) SetOpacitySlider(value int) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings.Opacity = clampOpacity(float64(value) / 100)
	r.applyOpacity()
	return r.settings.Opacity
}

// renderEntry replaces the displayed lines with one entry and returns the
// new render generation. Caller holds mu.
func (r *Renderer) renderEntry(original, translated string) uint64 {
	if r.panel == nil {
		r.mount()
	}
	r.generation++

	text := r.textArea()
	for c := text.FirstChild; c != nil; {
		next := c.NextSibling
		if !hasClass(c, classPlaceholder) {
			text.RemoveChild(c)
		}
		c = next
	}
	r.fadePlaceholder(text)

	entry := element(atom.Div, attr{"class", classEntry})
	showOriginal := r.settings.ShowOriginal || translated == "" || translated == original
	if showOriginal {
		entry.AppendChild(r.line(classOriginal, original))
	}
	if translated != "" && translated != original {
		entry.AppendChild(r.line(classTranslated, translated))
	}
	text.AppendChild(entry)
	return r.generation
}

// appendTranslated adds the translated line under the current entry. When
// the original is hidden by settings it replaces the original line.
func (r *Renderer) appendTranslated(original, translated string) {
	if translated == original {
		return
	}
	entries := find(r.panel, "."+classEntry)
	if len(entries) == 0 {
		return
	}
	entry := entries[len(entries)-1]
	if !r.settings.ShowOriginal {
		for _, n := range find(entry, "."+classOriginal) {
			detach(n)
		}
	}
	entry.AppendChild(r.line(classTranslated, translated))
}

func (r *Renderer) line(class, text string) *html.Node {
	span := element(atom.Span, attr{"class", class})
	if class == classTranslated {
		setStyle(span, "font-style", "italic")
	}
	setStyle(span, "font-size", px(r.settings.FontSize))
	span.AppendChild(textNode(text))
	return span
}

func (r *Renderer) fadePlaceholder(text *html.Node) {
	for _, p := range find(text, "."+classPlaceholder) {
		if StyleValue(p, "opacity") == "0" {
			continue
		}
		setStyle(p, "opacity", "0")
		placeholder := p
		r.after(r.fadeDelay, func() {
			r.mu.Lock()
			detach(placeholder)
			r.mu.Unlock()
		})
	}
}

func (r *Renderer) textArea() *html.Node {
	for _, n := range find(r.panel, "#"+TextID) {
		return n
	}
	return nil
}

func (r *Renderer) applyFontSize() {
	if r.panel == nil {
		return
	}
	for _, n := range find(r.panel, "."+classOriginal+", ."+classTranslated) {
		setStyle(n, "font-size", px(r.settings.FontSize))
	}
}

func (r *Renderer) applyOpacity() {
	if r.panel == nil {
		return
	}
	setStyle(r.panel, "background", rgba(0, 0, 0, r.settings.Opacity))
	for _, btn := range find(r.panel, "."+classFontButton) {
		setStyle(btn, "background", rgba(255, 255, 255, r.settings.Opacity*0.5))
	}
	for _, slider := range find(r.panel, "."+classSlider) {
		setAttr(slider, "value", strconv.Itoa(int(r.settings.Opacity*100+0.5)))
	}
}

// mount builds a new panel in the placeholder state. Caller holds mu.
func (r *Renderer) mount() {
	r.unmount()

	r.rect = Rect{
		X: r.viewport.Width/2 - InitialWidth/2,
		Y: r.viewport.Height - InitialHeight - InitialBottomOffset,
		W: InitialWidth,
		H: InitialHeight,
	}

	panel := element(atom.Div, attr{"id", DisplayID})
	setStyle(panel, "position", "fixed")
	r.applyRect(panel)

	handle := element(atom.Div, attr{"class", classHandle})
	setStyle(handle, "height", px(DragHandleHeight))
	slider := element(atom.Input,
		attr{"type", "range"}, attr{"class", classSlider},
		attr{"min", "0"}, attr{"max", "100"})
	decrease := element(atom.Button, attr{"class", classFontButton}, attr{"data-action", "decrease"})
	decrease.AppendChild(textNode("A-"))
	increase := element(atom.Button, attr{"class", classFontButton}, attr{"data-action", "increase"})
	increase.AppendChild(textNode("A+"))
	closeBtn := element(atom.Button, attr{"class", classClose})
	closeBtn.AppendChild(textNode("×"))
	for _, n := range []*html.Node{slider, decrease, increase, closeBtn} {
		handle.AppendChild(n)
	}

	text := element(atom.Div, attr{"id", TextID})
	placeholder := element(atom.P, attr{"class", classPlaceholder})
	setStyle(placeholder, "opacity", "1")
	placeholder.AppendChild(textNode(PlaceholderText))
	text.AppendChild(placeholder)

	panel.AppendChild(handle)
	panel.AppendChild(text)
	r.body.AppendChild(panel)
	r.panel = panel
	r.gesture = gesture{}

	r.applyOpacity()
}

func (r *Renderer) unmount() {
	if r.panel == nil {
		return
	}
	detach(r.panel)
	r.panel = nil
	r.gesture = gesture{}
	log.Debug("Overlay removed")
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func lastIndex(list []string, s string) int {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i] == s {
			return i
		}
	}
	return -1
}
