package overlay

import (
	"sync"
	"time"

	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/posture"
)

// Clock is the part of the playback host the renderer reads.
type Clock interface {
	CurrentTime() float64
	Playing() bool
}

// TickHook observes every completed render pass. It runs while the renderer
// lock is held and must not call back into the Renderer.
type TickHook func(TickResult)

// Renderer repaints the skeleton for the current playback frame once per
// display refresh while playback runs. It is Idle until Start and returns to
// Idle on Stop or when a tick finds playback paused.
type Renderer struct {
	sched FrameScheduler
	hook  TickHook

	mu         sync.Mutex
	running    bool
	pending    FrameHandle
	hasPending bool
	generation uint64
	clock      Clock
	seq        *posture.Sequence
	canvas     Canvas
}

// NewRenderer returns an idle renderer driven by sched.
func NewRenderer(sched FrameScheduler, hook TickHook) *Renderer {
	return &Renderer{sched: sched, hook: hook}
}

// Start begins the render loop. A running loop is stopped first, so at most one
// loop exists. An empty sequence leaves the renderer idle.
func (r *Renderer) Start(clock Clock, seq *posture.Sequence, canvas Canvas) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()
	if seq.Len() == 0 || clock == nil {
		return
	}

	r.clock = clock
	r.seq = seq
	r.canvas = canvas
	r.running = true
	r.scheduleLocked()
	logger.Debug("Renderer", "Render loop started (%d posture frames)", seq.Len())
}

// Stop cancels the pending tick. No draw happens after Stop returns. Calling
// Stop on an idle renderer has no effect.
func (r *Renderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

// Running reports whether a tick is scheduled.
func (r *Renderer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Refresh paints the frame for the clock's current time once, outside the
// loop. It does nothing while the loop runs since the next tick repaints.
func (r *Renderer) Refresh(clock Clock, seq *posture.Sequence, canvas Canvas) (TickResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running || clock == nil || seq.Len() == 0 {
		return TickResult{}, false
	}
	result := r.render(clock, seq, canvas)
	if r.hook != nil {
		r.hook(result)
	}
	return result, true
}

func (r *Renderer) render(clock Clock, seq *posture.Sequence, canvas Canvas) TickResult {
	start := time.Now()
	result := RenderAt(canvas, seq, clock.CurrentTime())
	result.Took = time.Since(start)
	return result
}

func (r *Renderer) stopLocked() {
	if !r.running {
		return
	}
	r.running = false
	r.generation++
	if r.hasPending {
		r.sched.CancelFrame(r.pending)
		r.hasPending = false
	}
	logger.Debug("Renderer", "Render loop stopped")
}

func (r *Renderer) scheduleLocked() {
	gen := r.generation
	r.pending = r.sched.RequestFrame(func() { r.tick(gen) })
	r.hasPending = true
}

func (r *Renderer) tick(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A timer may fire after Stop already cancelled it.
	if !r.running || gen != r.generation {
		return
	}
	r.hasPending = false

	result := r.render(r.clock, r.seq, r.canvas)
	if r.hook != nil {
		r.hook(result)
	}

	if r.clock.Playing() {
		r.scheduleLocked()
		return
	}
	r.running = false
	r.generation++
}
