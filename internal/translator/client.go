package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/MimeLyc/live-caption-translator/internal/errs"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

const (
	apiVersion   = "3.0"
	maxErrorBody = 512

	defaultFetchTimeout = 30 * time.Second
)

// Backend performs one uncached translation. The chat-completion client in
// internal/llm satisfies it.
type Backend interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Client calls the remote translate API and caches every successful result
// for the lifetime of the process. Thread-safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
	backend    Backend
	limiter    *rate.Limiter
	cache      Cache
	group      singleflight.Group
	calls      atomic.Int64

	fetchTimeout time.Duration
}

type Option func(*Client)

// WithBackend replaces the translate API with b. Caching and request
// coalescing still apply, and config may be nil.
func WithBackend(b Backend) Option {
	return func(c *Client) {
		c.backend = b
	}
}

func WithCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithRateLimit caps backend calls at perSecond with the given burst. Cache
// hits are never throttled. A non-positive perSecond leaves calls unlimited.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a translator client. Each shared fetch is bounded by
// config.Timeout, or 30s when that is zero.
func NewClient(config *Config, opts ...Option) (*Client, error) {
	c := &Client{
		config:       config,
		cache:        NewMemoryCache(),
		fetchTimeout: defaultFetchTimeout,
	}
	if config != nil && config.Timeout > 0 {
		c.fetchTimeout = time.Duration(config.Timeout) * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backend != nil {
		return c, nil
	}

	if config == nil {
		return nil, fmt.Errorf("invalid configuration: config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	c.baseURL = strings.TrimRight(config.APIURL, "/")
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		}
	}
	return c, nil
}

// Translate returns text in targetLang. Empty text or language is returned
// unchanged without a network call; cached keys never hit the network again.
// Concurrent misses on one key share a single request.
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if text == "" || targetLang == "" {
		return text, nil
	}
	if cached, ok := c.cache.Get(text, targetLang); ok {
		return cached, nil
	}

	// The shared fetch is detached from ctx; each caller stops waiting on
	// its own cancellation.
	ch := c.group.DoChan(targetLang+"\x00"+text, func() (any, error) {
		if cached, ok := c.cache.Get(text, targetLang); ok {
			return cached, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		translated, err := c.fetch(fetchCtx, text, targetLang)
		if err != nil {
			return "", err
		}
		c.cache.Set(text, targetLang, translated)
		return translated, nil
	})

	select {
	case <-ctx.Done():
		return "", errs.Wrap(ctx.Err(), errs.ErrNetwork, "translation cancelled").
			WithContext("target", targetLang)
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Calls reports how many requests reached the API.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

func (c *Client) fetch(ctx context.Context, text, targetLang string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", errs.Wrap(err, errs.ErrNetwork, "translation throttled").
				WithContext("target", targetLang)
		}
	}
	if c.backend == nil {
		return c.requestTranslation(ctx, text, targetLang)
	}
	c.calls.Add(1)
	translated, err := c.backend.Translate(ctx, text, targetLang)
	if err != nil {
		return "", err
	}
	return translated, nil
}

func (c *Client) requestTranslation(ctx context.Context, text, targetLang string) (string, error) {
	endpoint := fmt.Sprintf("%s/translate?api-version=%s&to=%s",
		c.baseURL, apiVersion, url.QueryEscape(targetLang))

	payload, err := json.Marshal([]requestItem{{Text: text}})
	if err != nil {
		return "", errs.Wrap(err, errs.ErrParse, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", errs.Wrap(err, errs.ErrNetwork, "failed to create request")
	}
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	c.calls.Add(1)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errs.Wrap(err, errs.ErrNetwork, "translate request failed").
			WithContext("target", targetLang)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Wrap(err, errs.ErrNetwork, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		snippet = truncate(snippet, maxErrorBody)
		return "", errs.Wrap(&BackendError{Status: resp.StatusCode, Body: snippet}, errs.ErrBackend, "translation rejected").
			WithContext("target", targetLang).
			WithContext("status", resp.StatusCode)
	}

	var items []responseItem
	if err := json.Unmarshal(body, &items); err != nil {
		return "", errs.Wrap(err, errs.ErrParse, "failed to decode response")
	}
	if len(items) == 0 || len(items[0].Translations) == 0 {
		return "", errs.New(errs.ErrParse, "no translations in response").
			WithContext("target", targetLang)
	}

	if d := items[0].DetectedLanguage; d != nil {
		log.Debug("Translator detected %s (score %.2f) for %q", d.Language, d.Score, text)
	}
	return items[0].Translations[0].Text, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
