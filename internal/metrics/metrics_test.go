package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveTick(t *testing.T) {
	m := New()
	m.ObserveTick(true, 17, 16, 1500*time.Microsecond)
	m.ObserveTick(false, 0, 0, 200*time.Microsecond)

	snap := m.Snapshot()
	if snap.Ticks != 2 || snap.FramesDrawn != 1 || snap.FramesUnmatched != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := m.KeypointsDrawn.Load(); got != 17 {
		t.Fatalf("keypoints drawn = %d, want 17", got)
	}
	if got := m.RenderLatencyUs.Load(); got != 200 {
		t.Fatalf("render latency = %d, want last pass (200)", got)
	}
}

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.SessionsActive.Store(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"penaltyvision_render_ticks_total",
		"penaltyvision_sessions_active 2",
		"penaltyvision_recording_active",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
