package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/live-caption-translator/internal/config"
	"github.com/MimeLyc/live-caption-translator/internal/message"
	"github.com/MimeLyc/live-caption-translator/internal/persistence"
)

// Bus is the message bus surface the API needs.
type Bus interface {
	message.Sender
	message.Requester
	message.Publisher
	Subscribe(id string, ch chan<- message.Message) error
	Unsubscribe(id string) error
	Stats() message.BusStats
}

// Overlay is the rendered panel and its controls.
type Overlay interface {
	HTML() string
	IncreaseFont() int
	DecreaseFont() int
	SetOpacitySlider(value int) float64
	Close(ctx context.Context) error
	MouseDown(x, y int) bool
	MouseMove(x, y int)
	MouseUp()
}

type runtimeSettingsStore interface {
	GetRuntimeSettings() config.Settings
	UpdateRuntimeSettings(ctx context.Context, next config.Settings) (config.Settings, error)
}

type runtimeSettingsApplier func(next config.Settings) error

type captionHistory interface {
	RecentCaptions(ctx context.Context, limit int) ([]persistence.CaptionRecord, error)
}

type Server struct {
	bus      Bus
	overlay  Overlay
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier
	history  captionHistory

	uiEnabled   bool
	uiStaticDir string

	keepAlive time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func WithOverlay(o Overlay) Option {
	return func(s *Server) {
		s.overlay = o
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

// WithRuntimeSettingsApplier runs after saved settings were dispatched to
// the router, e.g. to reschedule the self-check.
func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

func WithCaptionHistory(h captionHistory) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithKeepAlive sets the SSE comment interval.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		s.keepAlive = d
	}
}

func NewServer(bus Bus, opts ...Option) *Server {
	s := &Server{
		bus:       bus,
		uiEnabled: false,
		keepAlive: 15 * time.Second,
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/messages", s.handleMessages)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/captions", s.handleCaptions)
	s.mux.HandleFunc("/api/captions.srt", s.handleCaptionsSRT)
	s.mux.HandleFunc("/api/overlay", s.handleOverlay)
	s.mux.HandleFunc("/api/overlay/actions", s.handleOverlayAction)
	s.mux.HandleFunc("/api/overlay/stream", s.handleStream)
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
