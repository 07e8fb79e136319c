package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/metrics"
	"github.com/penaltyvision/overlay-server/internal/overlay"
	"github.com/penaltyvision/overlay-server/internal/playback"
	"github.com/penaltyvision/overlay-server/internal/posture"
	"github.com/penaltyvision/overlay-server/pkg/types"
)

// Update is the latest observable state of a session. Version increases
// with every published change.
type Update struct {
	Version uint64             `json:"version"`
	Tick    overlay.TickResult `json:"tick"`
	State   playback.State     `json:"state"`
}

// Info is the JSON summary of a session.
type Info struct {
	ID        string         `json:"id"`
	PenaltyID string         `json:"penalty_id"`
	VideoURL  string         `json:"video_url"`
	OpenedAt  time.Time      `json:"opened_at"`
	State     playback.State `json:"state"`
	Rendering bool           `json:"rendering"`
	Postures  posture.Stats  `json:"postures"`
	Loaded    *Loaded        `json:"loaded"`
	Clients   map[string]int `json:"clients"`
}

// Session is one opened penalty video: the mirrored player, the overlay
// surface sized to the video and the render loop that keeps it in sync.
type Session struct {
	ID       string
	OpenedAt time.Time

	loaded   *Loaded
	seq      *posture.Sequence
	player   *playback.Player
	canvas   *overlay.RasterCanvas
	renderer *overlay.Renderer
	metrics  *metrics.Metrics

	frames *FrameBroadcaster
	events *EventBroadcaster

	// ctlMu serialises renderer start/stop against player transitions.
	ctlMu  sync.Mutex
	closed atomic.Bool

	feedMu  sync.Mutex
	latest  Update
	changed chan struct{}
}

func newSession(id string, loaded *Loaded, sched overlay.FrameScheduler, cfg types.OverlayConfig, m *metrics.Metrics, opts ...playback.Option) *Session {
	s := &Session{
		ID:       id,
		OpenedAt: time.Now(),
		loaded:   loaded,
		seq:      loaded.Postures,
		player:   playback.NewPlayer(opts...),
		canvas:   overlay.NewRasterCanvas(0, 0),
		metrics:  m,
		changed:  make(chan struct{}),
	}
	s.renderer = overlay.NewRenderer(sched, s.onTick)
	s.latest.State = s.player.State()
	s.frames = NewFrameBroadcaster(s, cfg.JPEGQuality, m)
	s.events = NewEventBroadcaster(s, m)
	s.player.OnChange(s.onPlayerChange)
	s.frames.Start()
	s.events.Start()
	return s
}

// Player returns the mirrored playback host.
func (s *Session) Player() *playback.Player { return s.player }

// Canvas returns the live overlay surface.
func (s *Session) Canvas() *overlay.RasterCanvas { return s.canvas }

// Postures returns the posture sequence, nil once closed.
func (s *Session) Postures() *posture.Sequence {
	if s.closed.Load() {
		return nil
	}
	return s.seq
}

// Loaded returns the data fetched when the session opened.
func (s *Session) Loaded() *Loaded { return s.loaded }

// Frames returns the JPEG overlay broadcaster.
func (s *Session) Frames() *FrameBroadcaster { return s.frames }

// Events returns the posture event broadcaster.
func (s *Session) Events() *EventBroadcaster { return s.events }

// Rendering reports whether the render loop is scheduled.
func (s *Session) Rendering() bool { return s.renderer.Running() }

// SetMetadata applies the loaded video's duration and native size. The
// overlay surface is resized to match.
func (s *Session) SetMetadata(duration float64, width, height int) {
	s.canvas.Resize(width, height)
	s.player.SetMetadata(duration, width, height)
}

// Info summarises the session.
func (s *Session) Info() Info {
	return Info{
		ID:        s.ID,
		PenaltyID: s.loaded.PenaltyID,
		VideoURL:  s.loaded.VideoURL,
		OpenedAt:  s.OpenedAt,
		State:     s.player.State(),
		Rendering: s.renderer.Running(),
		Postures:  s.Postures().Stats(),
		Loaded:    s.loaded,
		Clients: map[string]int{
			"frames": s.frames.ClientCount(),
			"events": s.events.ClientCount(),
		},
	}
}

// RenderPNG renders the overlay for an arbitrary time on a fresh surface
// sized like the live one.
func (s *Session) RenderPNG(seconds float64) ([]byte, overlay.TickResult, error) {
	w, h := s.canvas.Size()
	if w == 0 || h == 0 {
		return nil, overlay.TickResult{}, ErrNoMetadata
	}
	c := overlay.NewRasterCanvas(w, h)
	res := overlay.RenderAt(c, s.Postures(), seconds)
	data, err := c.PNG()
	return data, res, err
}

// Close stops rendering and releases the posture data. Subscribers see
// their channels closed.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.ctlMu.Lock()
	s.renderer.Stop()
	s.ctlMu.Unlock()

	s.frames.Stop()
	s.events.Stop()
	s.player.Pause()
	logger.Info("Session", "Session %s closed (penalty %s)", s.ID, s.loaded.PenaltyID)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Watch returns the latest update and a channel closed on the next change.
func (s *Session) Watch() (Update, <-chan struct{}) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	return s.latest, s.changed
}

// Latest returns the latest update.
func (s *Session) Latest() Update {
	u, _ := s.Watch()
	return u
}

func (s *Session) onPlayerChange(state playback.State) {
	s.sync()
	s.publish(func(u *Update) bool {
		u.State = state
		return true
	})
}

// sync aligns the render loop with the current playback state. A paused
// player gets one repaint so the surface shows the frame at the new position.
func (s *Session) sync() {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	if s.closed.Load() {
		return
	}
	if s.player.Playing() {
		if !s.renderer.Running() {
			s.renderer.Start(s.player, s.seq, s.canvas)
		}
		return
	}
	s.renderer.Stop()
	s.renderer.Refresh(s.player, s.seq, s.canvas)
}

// onTick runs under the renderer lock.
func (s *Session) onTick(res overlay.TickResult) {
	s.metrics.ObserveTick(res.Matched, len(res.Joints), len(res.Bones), res.Took)
	state := s.player.State()
	s.publish(func(u *Update) bool {
		same := u.Version > 0 &&
			u.Tick.FrameIndex == res.FrameIndex &&
			u.Tick.Matched == res.Matched &&
			u.State.Playing == state.Playing
		u.Tick = res
		u.State = state
		return !same
	})
}

// publish applies fn to the latest update and wakes watchers when fn reports
// a change.
func (s *Session) publish(fn func(u *Update) bool) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if !fn(&s.latest) {
		return
	}
	s.latest.Version++
	close(s.changed)
	s.changed = make(chan struct{})
}
