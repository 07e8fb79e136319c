// Package playback mirrors the state of the client's video element: the
// playback position, rate and native dimensions the overlay is aligned to.
package playback

import (
	"math"
	"sync"
	"time"
)

const (
	MinRate  = 0.25
	MaxRate  = 2.0
	RateStep = 0.25
	// SkipSeconds is the jump applied by SkipForward and SkipBack.
	SkipSeconds = 1.0
)

// State is a snapshot of the player.
type State struct {
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	Playing     bool    `json:"playing"`
	Rate        float64 `json:"rate"`
	Muted       bool    `json:"muted"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
}

// Listener receives the state after every transition.
type Listener func(State)

// Player extrapolates the current time from the last anchor while playing.
type Player struct {
	now func() time.Time

	mu        sync.Mutex
	position  float64
	anchor    time.Time
	playing   bool
	rate      float64
	muted     bool
	duration  float64
	width     int
	height    int
	listeners []Listener
}

// Option configures a Player.
type Option func(*Player)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Player) { p.now = now }
}

// NewPlayer returns a paused player at 0s and 1x.
func NewPlayer(opts ...Option) *Player {
	p := &Player{now: time.Now, rate: 1.0}
	for _, opt := range opts {
		opt(p)
	}
	p.anchor = p.now()
	return p
}

// OnChange registers a listener. Listeners run outside the player lock.
func (p *Player) OnChange(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// SetMetadata records the duration and native size of the loaded video.
func (p *Player) SetMetadata(duration float64, width, height int) {
	p.update(func() {
		p.settleLocked()
		p.duration = math.Max(duration, 0)
		p.width = width
		p.height = height
		p.position = p.clampLocked(p.position)
	})
}

// CurrentTime returns the playback position in seconds.
func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked()
}

// Playing reports whether playback is advancing. Reaching the end pauses.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing && p.endedLocked() {
		p.settleLocked()
		p.playing = false
	}
	return p.playing
}

// Duration returns the video length in seconds.
func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Rate returns the playback rate.
func (p *Player) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// State returns a snapshot.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

// Play starts playback. Playing from the end restarts at 0.
func (p *Player) Play() {
	p.update(func() {
		if p.playing {
			return
		}
		if p.duration > 0 && p.position >= p.duration {
			p.position = 0
		}
		p.anchor = p.now()
		p.playing = true
	})
}

// Pause freezes playback at the current position.
func (p *Player) Pause() {
	p.update(func() {
		p.settleLocked()
		p.playing = false
	})
}

// Toggle switches between playing and paused.
func (p *Player) Toggle() {
	if p.Playing() {
		p.Pause()
		return
	}
	p.Play()
}

// SeekFraction jumps to fraction of the duration, clamped to [0, 1].
func (p *Player) SeekFraction(fraction float64) {
	p.update(func() {
		fraction = math.Min(math.Max(fraction, 0), 1)
		p.settleLocked()
		p.position = fraction * p.duration
	})
}

// Seek jumps to an absolute position.
func (p *Player) Seek(seconds float64) {
	p.update(func() {
		p.settleLocked()
		p.position = p.clampLocked(seconds)
	})
}

// Skip moves the position by delta seconds.
func (p *Player) Skip(delta float64) {
	p.update(func() {
		p.settleLocked()
		p.position = p.clampLocked(p.position + delta)
	})
}

// SkipForward jumps one second ahead.
func (p *Player) SkipForward() { p.Skip(SkipSeconds) }

// SkipBack jumps one second back.
func (p *Player) SkipBack() { p.Skip(-SkipSeconds) }

// AdjustRate changes the rate by delta, clamped to [MinRate, MaxRate] and
// snapped to RateStep.
func (p *Player) AdjustRate(delta float64) float64 {
	var rate float64
	p.update(func() {
		p.settleLocked()
		p.rate = ClampRate(p.rate + delta)
		rate = p.rate
	})
	return rate
}

// SetRate sets the rate, clamped and snapped like AdjustRate.
func (p *Player) SetRate(rate float64) float64 {
	var out float64
	p.update(func() {
		p.settleLocked()
		p.rate = ClampRate(rate)
		out = p.rate
	})
	return out
}

// SetMuted mutes or unmutes the audio. Rendering does not depend on it.
func (p *Player) SetMuted(muted bool) {
	p.update(func() { p.muted = muted })
}

// ToggleMute flips the muted state and returns the new value.
func (p *Player) ToggleMute() bool {
	var muted bool
	p.update(func() {
		p.muted = !p.muted
		muted = p.muted
	})
	return muted
}

// ClampRate limits rate to [MinRate, MaxRate] in RateStep increments.
func ClampRate(rate float64) float64 {
	snapped := math.Round(rate/RateStep) * RateStep
	return math.Min(math.Max(snapped, MinRate), MaxRate)
}

func (p *Player) update(fn func()) {
	p.mu.Lock()
	fn()
	state := p.stateLocked()
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

func (p *Player) stateLocked() State {
	return State{
		CurrentTime: p.currentLocked(),
		Duration:    p.duration,
		Playing:     p.playing && !p.endedLocked(),
		Rate:        p.rate,
		Muted:       p.muted,
		Width:       p.width,
		Height:      p.height,
	}
}

func (p *Player) currentLocked() float64 {
	pos := p.position
	if p.playing {
		pos += p.now().Sub(p.anchor).Seconds() * p.rate
	}
	return p.clampLocked(pos)
}

func (p *Player) endedLocked() bool {
	return p.duration > 0 && p.currentLocked() >= p.duration
}

// settleLocked folds elapsed playback into position and resets the anchor.
func (p *Player) settleLocked() {
	p.position = p.currentLocked()
	p.anchor = p.now()
}

func (p *Player) clampLocked(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if p.duration > 0 && pos > p.duration {
		return p.duration
	}
	return pos
}
