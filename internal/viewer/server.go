package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/penaltyvision/overlay-server/internal/backend"
	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/metrics"
	"github.com/penaltyvision/overlay-server/internal/navigation"
	"github.com/penaltyvision/overlay-server/internal/recorder"
	"github.com/penaltyvision/overlay-server/internal/session"
	"github.com/penaltyvision/overlay-server/internal/webrtc"
)

const maxBodyBytes = 1 << 20

// Catalog is the penalty search side of the backend.
type Catalog interface {
	ListPenalties(ctx context.Context, f backend.Filter) ([]backend.Penalty, error)
	PenaltyFilters(ctx context.Context) (backend.FilterOptions, error)
	PlayerPenalties(ctx context.Context, playerID string) ([]backend.Penalty, error)
	PlayerStats(ctx context.Context) ([]backend.PlayerStats, error)
	Player(ctx context.Context, playerID string) (backend.Player, error)
}

type recording struct {
	rec   *recorder.Recorder
	subID int
	done  chan struct{}
}

// Server serves the player page and the session API.
type Server struct {
	cfg       Config
	catalog   Catalog
	sessions  *session.Manager
	webrtc    *webrtc.Server
	metrics   *metrics.Metrics
	validator *Validator
	startedAt time.Time

	// navMu guards the navigation stack together with the sessions it opened,
	// keyed by stack depth.
	navMu       sync.Mutex
	nav         *navigation.Stack
	navSessions map[int]string

	mu         sync.Mutex
	recordings map[string]*recording
	forwarders map[string]bool
}

// NewServer returns a configured server.
func NewServer(cfg Config, catalog Catalog, sessions *session.Manager, m *metrics.Metrics) *Server {
	def := DefaultConfig()
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.RecordingOutputPath == "" {
		cfg.RecordingOutputPath = def.RecordingOutputPath
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		cfg:         cfg,
		catalog:     catalog,
		sessions:    sessions,
		webrtc:      webrtc.NewServer(cfg.STUNServers, cfg.MaxClients, m),
		metrics:     m,
		validator:   NewValidator(),
		startedAt:   time.Now(),
		nav:         navigation.NewStack(),
		navSessions: make(map[int]string),
		recordings:  make(map[string]*recording),
		forwarders:  make(map[string]bool),
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.handleIndex)
	r.Handle("/assets/*", http.StripPrefix("/assets/", newAssetHandler(s.cfg.BuildAssetsDir, s.cfg.AssetsDir)))
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Get("/penalties", s.handlePenalties)
		r.Get("/penalties/filters", s.handlePenaltyFilters)
		r.Get("/players", s.handlePlayers)
		r.Get("/players/{playerID}", s.handlePlayer)
		r.Get("/players/{playerID}/penalties", s.handlePlayerPenalties)

		r.Get("/navigation", s.handleNavigation)
		r.Post("/navigation", s.handleNavigationPush)
		r.Post("/navigation/pop", s.handleNavigationPop)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleSessionList)
			r.Post("/", s.handleSessionOpen)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleSessionGet)
				r.Delete("/", s.handleSessionClose)
				r.Post("/metadata", s.handleMetadata)
				r.Post("/control", s.handleControl)
				r.Get("/overlay.png", s.handleOverlayPNG)
				r.Get("/stream", s.handleStream)
				r.Get("/events", s.handleEvents)
				r.Post("/webrtc/offer", s.handleWebRTCOffer)
				r.Post("/recording/start", s.handleRecordingStart)
				r.Post("/recording/stop", s.handleRecordingStop)
				r.Get("/recording/status", s.handleRecordingStatus)
			})
		})
	})
	return r
}

// Close stops recordings, disconnects peers and closes every session.
func (s *Server) Close() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.recordings))
	for id := range s.recordings {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if _, err := s.stopRecording(id); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
			logger.Warn("Server", "Stopping recording for %s: %v", id, err)
		}
	}

	err := s.webrtc.Close()
	s.sessions.CloseAll()
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.navMu.Lock()
	current := s.nav.Current()
	s.navMu.Unlock()

	writeJSON(w, map[string]any{
		"sessions":       s.sessions.Count(),
		"metrics":        s.metrics.Snapshot(),
		"webrtc_clients": s.webrtc.GetClientStats(),
		"navigation":     current,
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"timestamp":      float64(time.Now().Unix()),
	})
}

// session resolves the {sessionID} URL parameter, writing a 404 when unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "failed to read body"}, http.StatusBadRequest)
		return false
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, dst); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "invalid JSON: " + err.Error()}, http.StatusBadRequest)
			return false
		}
	}
	if errs, ok := s.validator.Validate(dst); !ok {
		writeJSONWithStatus(w, map[string]any{"error": "validation failed", "fields": errs}, http.StatusUnprocessableEntity)
		return false
	}
	return true
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP", "%s %s %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond))
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps domain errors to HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	var (
		loadErr *session.LoadError
		apiErr  *backend.APIError
		valErr  *ValidationErrors
	)
	switch {
	case errors.As(err, &loadErr):
		status := http.StatusBadGateway
		switch {
		case backend.IsNotFound(loadErr.Err):
			status = http.StatusNotFound
		case errors.Is(loadErr.Err, backend.ErrInvalidID):
			status = http.StatusBadRequest
		}
		writeJSONWithStatus(w, map[string]any{
			"error":     loadErr.Message,
			"step":      loadErr.Step,
			"retryable": loadErr.Retryable,
		}, status)
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			status = apiErr.Status
		}
		writeJSONWithStatus(w, map[string]any{"error": apiErr.Message}, status)
	case errors.Is(err, backend.ErrInvalidID):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
	case errors.As(err, &valErr):
		writeJSONWithStatus(w, map[string]any{"error": "validation failed", "fields": valErr.Errors}, http.StatusUnprocessableEntity)
	case errors.Is(err, session.ErrNotFound):
		writeJSONWithStatus(w, map[string]any{"error": "session not found"}, http.StatusNotFound)
	case errors.Is(err, session.ErrTooMany), errors.Is(err, webrtc.ErrMaxClients):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusTooManyRequests)
	case errors.Is(err, session.ErrNoMetadata), errors.Is(err, navigation.ErrRootView),
		errors.Is(err, recorder.ErrRecording), errors.Is(err, recorder.ErrNotRecording):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusConflict)
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		logger.Error("HTTP", "Request failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
	}
}
