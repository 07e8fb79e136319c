package overlay

import (
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/penaltyvision/overlay-server/internal/posture"
	"github.com/penaltyvision/overlay-server/internal/skeleton"
)

type drawOp struct {
	kind   string
	x, y   float64
	x2, y2 float64
	r, w   float64
	color  color.RGBA
}

type recordingCanvas struct {
	mu     sync.Mutex
	clears int
	ops    []drawOp
}

func (c *recordingCanvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
	c.ops = nil
}

func (c *recordingCanvas) Line(x1, y1, x2, y2, width float64, col color.RGBA) {
	c.record(drawOp{kind: "line", x: x1, y: y1, x2: x2, y2: y2, w: width, color: col})
}

func (c *recordingCanvas) FillCircle(cx, cy, r float64, col color.RGBA) {
	c.record(drawOp{kind: "fill", x: cx, y: cy, r: r, color: col})
}

func (c *recordingCanvas) StrokeCircle(cx, cy, r, width float64, col color.RGBA) {
	c.record(drawOp{kind: "stroke", x: cx, y: cy, r: r, w: width, color: col})
}

func (c *recordingCanvas) record(op drawOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
}

func (c *recordingCanvas) snapshot() (int, []drawOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears, append([]drawOp(nil), c.ops...)
}

func (c *recordingCanvas) count(kind string) int {
	_, ops := c.snapshot()
	n := 0
	for _, op := range ops {
		if op.kind == kind {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu      sync.Mutex
	now     float64
	playing bool
}

func (c *fakeClock) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *fakeClock) set(now float64, playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	c.playing = playing
}

const frame42 = `[{"frame": 42,
  "nose_x": 100, "nose_y": 50, "nose_confidence": 0.9,
  "left_shoulder_x": 90, "left_shoulder_y": 80, "left_shoulder_confidence": 0.95,
  "right_shoulder_x": 130, "right_shoulder_y": 80, "right_shoulder_confidence": 0.95,
  "left_eye_x": 95, "left_eye_y": 45, "left_eye_confidence": 0.8,
  "left_elbow_x": 80, "left_elbow_y": 110, "left_elbow_confidence": 0.25}]`

func mustSequence(t *testing.T, raw string) *posture.Sequence {
	t.Helper()
	seq, err := posture.Decode(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return seq
}

func lowNose(t *testing.T) *posture.Sequence {
	t.Helper()
	return mustSequence(t, strings.Replace(frame42, `"nose_confidence": 0.9`, `"nose_confidence": 0.2`, 1))
}

func findCircle(ops []drawOp, kind string, x, y float64) (drawOp, bool) {
	for _, op := range ops {
		if op.kind == kind && op.x == x && op.y == y {
			return op, true
		}
	}
	return drawOp{}, false
}

func TestRenderAtExactMatch(t *testing.T) {
	seq := mustSequence(t, frame42)
	canvas := &recordingCanvas{}

	res := RenderAt(canvas, seq, 1.4)
	if !res.Matched || res.FrameIndex != 42 {
		t.Fatalf("result = %+v", res)
	}
	_, ops := canvas.snapshot()

	nose, ok := findCircle(ops, "fill", 100, 50)
	if !ok || nose.r != 6 || nose.color != skeleton.Yellow {
		t.Fatalf("nose marker = %+v (found=%v)", nose, ok)
	}
	shoulder, ok := findCircle(ops, "fill", 90, 80)
	if !ok || shoulder.r != 6 || shoulder.color != skeleton.Green {
		t.Fatalf("shoulder marker = %+v (found=%v)", shoulder, ok)
	}
	eye, ok := findCircle(ops, "fill", 95, 45)
	if !ok || eye.r != 4 {
		t.Fatalf("eye marker = %+v (found=%v)", eye, ok)
	}
	outline, ok := findCircle(ops, "stroke", 100, 50)
	if !ok || outline.r != 7 || outline.w != 2 || outline.color != skeleton.White {
		t.Fatalf("nose outline = %+v (found=%v)", outline, ok)
	}

	// left_eye-nose and left_shoulder-right_shoulder are drawable; the elbow is
	// below threshold.
	if got := canvas.count("line"); got != 2 {
		t.Fatalf("lines = %d, want 2", got)
	}
	for _, op := range ops {
		if op.kind == "line" && op.w != 2 {
			t.Fatalf("line width = %v", op.w)
		}
	}
	if len(res.Joints) != 4 || len(res.Bones) != 2 {
		t.Fatalf("result joints=%d bones=%d", len(res.Joints), len(res.Bones))
	}
}

func TestRenderAtBonesUseFirstJointColor(t *testing.T) {
	seq := mustSequence(t, frame42)
	canvas := &recordingCanvas{}
	RenderAt(canvas, seq, 1.4)
	_, ops := canvas.snapshot()

	for _, op := range ops {
		if op.kind != "line" {
			continue
		}
		// (left_eye, nose) is coloured by left_eye, both yellow; shoulders are green.
		if op.x == 95 && op.color != skeleton.Yellow {
			t.Fatalf("eye bone colour = %v", op.color)
		}
		if op.x == 90 && op.color != skeleton.Green {
			t.Fatalf("shoulder bone colour = %v", op.color)
		}
	}
}

func TestRenderAtSuppressesLowConfidence(t *testing.T) {
	canvas := &recordingCanvas{}
	RenderAt(canvas, lowNose(t), 1.4)
	_, ops := canvas.snapshot()

	if _, ok := findCircle(ops, "fill", 100, 50); ok {
		t.Fatalf("low-confidence nose was drawn")
	}
	for _, op := range ops {
		if op.kind == "line" && ((op.x == 100 && op.y == 50) || (op.x2 == 100 && op.y2 == 50)) {
			t.Fatalf("bone touching the nose was drawn: %+v", op)
		}
	}
	if got := canvas.count("line"); got != 1 {
		t.Fatalf("lines = %d, want only the shoulder bone", got)
	}
}

func TestRenderAtNoMatchClearsOnly(t *testing.T) {
	seq := mustSequence(t, frame42)
	canvas := &recordingCanvas{}
	RenderAt(canvas, seq, 1.4)

	for _, at := range []float64{1.3, 1.5, 1.4999, 0} {
		res := RenderAt(canvas, seq, at)
		clears, ops := canvas.snapshot()
		if res.Matched || len(ops) != 0 || clears == 0 {
			t.Fatalf("t=%v matched=%v ops=%d clears=%d", at, res.Matched, len(ops), clears)
		}
	}

	res := RenderAt(canvas, seq, 1.41)
	if !res.Matched || res.FrameIndex != 42 {
		t.Fatalf("1.41s should floor to frame 42, got %+v", res)
	}
}

func TestRenderAtNilCanvas(t *testing.T) {
	res := RenderAt(nil, mustSequence(t, frame42), 1.4)
	if res.Drawn() {
		t.Fatalf("nil canvas should never report draws")
	}
}

func TestRendererDrawsOncePerTick(t *testing.T) {
	sched := NewManualScheduler()
	var ticks int
	r := NewRenderer(sched, func(TickResult) { ticks++ })
	clock := &fakeClock{now: 1.4, playing: true}
	canvas := &recordingCanvas{}
	seq := mustSequence(t, frame42)

	r.Start(clock, seq, canvas)
	r.Start(clock, seq, canvas)

	if sched.Pending() != 1 {
		t.Fatalf("pending ticks = %d, want 1", sched.Pending())
	}
	for i := 1; i <= 3; i++ {
		if fired := sched.Fire(); fired != 1 {
			t.Fatalf("fire %d ran %d callbacks", i, fired)
		}
		if ticks != i {
			t.Fatalf("ticks = %d, want %d", ticks, i)
		}
	}
	clears, _ := canvas.snapshot()
	if clears != 3 {
		t.Fatalf("clears = %d, want 3", clears)
	}
	r.Stop()
}

func TestRendererStopBeforeFirstTick(t *testing.T) {
	sched := NewManualScheduler()
	var ticks int
	r := NewRenderer(sched, func(TickResult) { ticks++ })
	canvas := &recordingCanvas{}

	r.Start(&fakeClock{now: 1.4, playing: true}, mustSequence(t, frame42), canvas)
	r.Stop()

	sched.Fire()
	clears, ops := canvas.snapshot()
	if ticks != 0 || clears != 0 || len(ops) != 0 {
		t.Fatalf("ticks=%d clears=%d ops=%d after stop", ticks, clears, len(ops))
	}
	if r.Running() {
		t.Fatalf("renderer should be idle")
	}
}

func TestRendererStopIsIdempotent(t *testing.T) {
	sched := NewManualScheduler()
	r := NewRenderer(sched, nil)
	r.Stop()
	r.Stop()
	if r.Running() || sched.Pending() != 0 {
		t.Fatalf("idle renderer changed state")
	}
}

func TestRendererEmptySequenceIsNoop(t *testing.T) {
	sched := NewManualScheduler()
	r := NewRenderer(sched, nil)
	r.Start(&fakeClock{playing: true}, posture.NewSequence(nil), &recordingCanvas{})
	if r.Running() || sched.Pending() != 0 {
		t.Fatalf("empty sequence should leave the renderer idle")
	}
}

func TestRendererPauseEndsLoop(t *testing.T) {
	sched := NewManualScheduler()
	r := NewRenderer(sched, nil)
	clock := &fakeClock{now: 1.4, playing: true}
	canvas := &recordingCanvas{}

	r.Start(clock, mustSequence(t, frame42), canvas)
	sched.Fire()
	clock.set(1.4, false)
	sched.Fire()

	if r.Running() {
		t.Fatalf("renderer should be idle once playback is paused")
	}
	if sched.Pending() != 0 {
		t.Fatalf("paused renderer rescheduled")
	}
}

func TestRendererUnmatchedFrameKeepsLooping(t *testing.T) {
	sched := NewManualScheduler()
	var results []TickResult
	r := NewRenderer(sched, func(res TickResult) { results = append(results, res) })
	clock := &fakeClock{now: 3.0, playing: true}

	r.Start(clock, mustSequence(t, frame42), &recordingCanvas{})
	sched.Fire()
	clock.set(1.4, true)
	sched.Fire()

	if len(results) != 2 || results[0].Matched || !results[1].Matched {
		t.Fatalf("results = %+v", results)
	}
	r.Stop()
}

func TestRendererWithTimerScheduler(t *testing.T) {
	sched := NewTimerScheduler(time.Millisecond)
	done := make(chan struct{}, 64)
	r := NewRenderer(sched, func(TickResult) {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	r.Start(&fakeClock{now: 1.4, playing: true}, mustSequence(t, frame42), NewRasterCanvas(200, 200))

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d never fired", i)
		}
	}
	r.Stop()

	// Drain anything that completed before Stop returned, then make sure
	// nothing else arrives.
	for len(done) > 0 {
		<-done
	}
	select {
	case <-done:
		t.Fatalf("tick after Stop")
	case <-time.After(20 * time.Millisecond):
	}
	if sched.Pending() != 0 {
		t.Fatalf("pending timers = %d", sched.Pending())
	}
}

func TestRasterCanvasPaintsPixels(t *testing.T) {
	canvas := NewRasterCanvas(200, 150)
	RenderAt(canvas, mustSequence(t, frame42), 1.4)
	img := canvas.Snapshot()

	if got := img.RGBAAt(100, 50); got != skeleton.Yellow {
		t.Fatalf("nose centre = %v", got)
	}
	if got := img.RGBAAt(90, 80); got != skeleton.Green {
		t.Fatalf("shoulder centre = %v", got)
	}
	// The white outline sits between radius 6 and 8 around the shoulder.
	if got := img.RGBAAt(97, 80); got.R < 200 || got.G < 200 || got.B < 200 {
		t.Fatalf("outline pixel = %v", got)
	}
	if got := img.RGBAAt(5, 5); got.A != 0 {
		t.Fatalf("background should stay transparent, got %v", got)
	}

	canvas.Clear()
	if got := canvas.Snapshot().RGBAAt(100, 50); got.A != 0 {
		t.Fatalf("clear left %v", got)
	}
}

func TestRasterCanvasZeroSize(t *testing.T) {
	canvas := NewRasterCanvas(0, 0)
	res := RenderAt(canvas, mustSequence(t, frame42), 1.4)
	if !res.Matched {
		t.Fatalf("lookup should still match")
	}
	w, h := canvas.Size()
	if w != 0 || h != 0 {
		t.Fatalf("size = %dx%d", w, h)
	}

	canvas.Resize(64, 32)
	if w, h := canvas.Size(); w != 64 || h != 32 {
		t.Fatalf("resized to %dx%d", w, h)
	}
}

func TestRasterCanvasEncoders(t *testing.T) {
	canvas := NewRasterCanvas(160, 120)
	RenderAt(canvas, mustSequence(t, frame42), 1.4)

	pngData, err := canvas.PNG()
	if err != nil || len(pngData) < 8 || string(pngData[1:4]) != "PNG" {
		t.Fatalf("png err=%v len=%d", err, len(pngData))
	}
	jpegData, err := canvas.JPEG(75, color.Black)
	if err != nil || len(jpegData) < 2 || jpegData[0] != 0xFF || jpegData[1] != 0xD8 {
		t.Fatalf("jpeg err=%v len=%d", err, len(jpegData))
	}
}

func TestRefreshDrawsOnceWhileIdle(t *testing.T) {
	sched := NewManualScheduler()
	var ticks int
	r := NewRenderer(sched, func(TickResult) { ticks++ })
	canvas := &recordingCanvas{}
	seq := mustSequence(t, frame42)
	clock := &fakeClock{now: 1.4}

	res, ok := r.Refresh(clock, seq, canvas)
	if !ok || !res.Matched || ticks != 1 {
		t.Fatalf("refresh ok=%v matched=%v ticks=%d", ok, res.Matched, ticks)
	}
	if sched.Pending() != 0 || r.Running() {
		t.Fatalf("refresh must not schedule a loop")
	}

	clock.set(1.4, true)
	r.Start(clock, seq, canvas)
	if _, ok := r.Refresh(clock, seq, canvas); ok {
		t.Fatalf("refresh should defer to the running loop")
	}
	r.Stop()
}

func TestDrawCaption(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 40))
	DrawCaption(img, 4, 4, "Frame: 42", 2)

	if got := img.RGBAAt(4, 4); got != (color.RGBA{A: 255}) {
		t.Fatalf("caption box corner = %v, want opaque black", got)
	}
	var white int
	for y := 0; y < 40; y++ {
		for x := 0; x < 200; x++ {
			if img.RGBAAt(x, y) == (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
				white++
			}
		}
	}
	if white == 0 {
		t.Fatalf("no glyph pixels drawn")
	}
	if got := img.RGBAAt(190, 35); got.A != 0 {
		t.Fatalf("caption spilled outside its box: %v", got)
	}
}
