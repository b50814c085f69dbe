package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/MimeLyc/live-caption-translator/internal/errs"
)

// ErrCrossOrigin is returned when a frame's document belongs to another origin.
var ErrCrossOrigin = errors.New("cross-origin frame access blocked")

// Page is a live document a scraper can read on every tick.
type Page interface {
	Document(ctx context.Context) (*goquery.Document, error)
	URL() *url.URL
}

// FramedPage exposes embedded frame documents.
type FramedPage interface {
	Page
	Frame(ctx context.Context, selector string) (Page, error)
}

type MediaEvent int

const (
	MediaPlay MediaEvent = iota
	MediaPause
	MediaEnded
)

func (e MediaEvent) String() string {
	switch e {
	case MediaPlay:
		return "play"
	case MediaPause:
		return "pause"
	case MediaEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MediaPage reports lifecycle events of the page's media element.
type MediaPage interface {
	Page
	MediaEvents() <-chan MediaEvent
}

// StaticPage is an in-memory document whose HTML and URL can be swapped while
// an engine polls it.
type StaticPage struct {
	mu          sync.RWMutex
	html        string
	url         *url.URL
	frames      map[string]*StaticPage
	crossOrigin map[string]bool
	events      chan MediaEvent
}

func NewStaticPage(rawURL, html string) (*StaticPage, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	return &StaticPage{
		html:        html,
		url:         u,
		frames:      make(map[string]*StaticPage),
		crossOrigin: make(map[string]bool),
		events:      make(chan MediaEvent, 8),
	}, nil
}

func (p *StaticPage) SetHTML(html string) {
	p.mu.Lock()
	p.html = html
	p.mu.Unlock()
}

// Navigate swaps both the URL and the document, like an in-app navigation.
func (p *StaticPage) Navigate(rawURL, html string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse page url: %w", err)
	}
	p.mu.Lock()
	p.url = u
	p.html = html
	p.mu.Unlock()
	return nil
}

// SetFrame attaches a frame document reachable through selector.
func (p *StaticPage) SetFrame(selector string, frame *StaticPage, crossOrigin bool) {
	p.mu.Lock()
	p.frames[selector] = frame
	p.crossOrigin[selector] = crossOrigin
	p.mu.Unlock()
}

// Emit queues a media lifecycle event; it is dropped if nobody is listening.
func (p *StaticPage) Emit(e MediaEvent) {
	select {
	case p.events <- e:
	default:
	}
}

func (p *StaticPage) MediaEvents() <-chan MediaEvent {
	return p.events
}

func (p *StaticPage) URL() *url.URL {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u := *p.url
	return &u
}

func (p *StaticPage) Document(_ context.Context) (*goquery.Document, error) {
	p.mu.RLock()
	html := p.html
	p.mu.RUnlock()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrDOM, "parse document")
	}
	return doc, nil
}

func (p *StaticPage) Frame(_ context.Context, selector string) (Page, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.crossOrigin[selector] {
		return nil, errs.Wrap(ErrCrossOrigin, errs.ErrDOM, "frame not readable").WithContext("selector", selector)
	}
	frame, ok := p.frames[selector]
	if !ok {
		return nil, errs.New(errs.ErrDOM, "frame not found").WithContext("selector", selector)
	}
	return frame, nil
}

const maxDocumentBytes = 8 << 20

// HTTPPage fetches a fresh snapshot of its URL on every read.
type HTTPPage struct {
	url        *url.URL
	httpClient *http.Client
	userAgent  string
}

func NewHTTPPage(rawURL string, timeout time.Duration) (*HTTPPage, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported page url scheme %q", u.Scheme)
	}
	return &HTTPPage{
		url:        u,
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "live-caption-translator/1.0",
	}, nil
}

func (p *HTTPPage) URL() *url.URL {
	u := *p.url
	return &u
}

func (p *HTTPPage) Document(ctx context.Context) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url.String(), nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrNetwork, "create page request")
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrNetwork, "fetch page").WithContext("url", p.url.String())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.ErrDOM, "page not available").
			WithContext("url", p.url.String()).
			WithContext("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrNetwork, "read page")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrDOM, "parse document")
	}
	doc.Url = p.URL()
	return doc, nil
}

// Frame resolves the iframe matched by selector and returns its document as a
// page. Frames on another origin are refused.
func (p *HTTPPage) Frame(ctx context.Context, selector string) (Page, error) {
	doc, err := p.Document(ctx)
	if err != nil {
		return nil, err
	}
	src, ok := doc.Find(selector).First().Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return nil, errs.New(errs.ErrDOM, "frame not found").WithContext("selector", selector)
	}
	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrDOM, "invalid frame src").WithContext("src", src)
	}
	frameURL := p.url.ResolveReference(ref)
	if frameURL.Scheme != p.url.Scheme || frameURL.Host != p.url.Host {
		return nil, errs.Wrap(ErrCrossOrigin, errs.ErrDOM, "frame not readable").WithContext("src", frameURL.String())
	}
	return &HTTPPage{url: frameURL, httpClient: p.httpClient, userAgent: p.userAgent}, nil
}
