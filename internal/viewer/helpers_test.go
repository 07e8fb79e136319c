package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/penaltyvision/overlay-server/internal/backend"
	"github.com/penaltyvision/overlay-server/internal/metrics"
	"github.com/penaltyvision/overlay-server/internal/overlay"
	"github.com/penaltyvision/overlay-server/internal/playback"
	"github.com/penaltyvision/overlay-server/internal/posture"
	"github.com/penaltyvision/overlay-server/internal/session"
)

const samplePostures = `[
 {"frame":0,"nose_x":40,"nose_y":30,"nose_confidence":0.9,"left_shoulder_x":30,"left_shoulder_y":60,"left_shoulder_confidence":0.8,"right_shoulder_x":50,"right_shoulder_y":60,"right_shoulder_confidence":0.8},
 {"frame":42,"nose_x":100,"nose_y":50,"nose_confidence":0.9,"left_eye_x":95,"left_eye_y":45,"left_eye_confidence":0.2}
]`

// fakeBackend serves both the loader and the catalog.
type fakeBackend struct {
	mu       sync.Mutex
	postures *posture.Sequence
	errs     map[string]error
	filters  []backend.Filter
	gate     chan struct{} // Penalty blocks until closed when set
	entered  chan struct{}
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	seq, err := posture.Decode(strings.NewReader(samplePostures))
	require.NoError(t, err)
	return &fakeBackend{postures: seq, errs: map[string]error{}}
}

func (f *fakeBackend) fail(step string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[step] = err
}

func (f *fakeBackend) err(step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[step]
}

// block makes Penalty wait until the returned release func is called.
func (f *fakeBackend) block() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	f.entered = make(chan struct{}, 4)
	return f.entered, func() { close(gate) }
}

func (f *fakeBackend) Penalty(_ context.Context, id string) (backend.Penalty, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	if err := f.err("penalty"); err != nil {
		return backend.Penalty{}, err
	}
	return backend.Penalty{PenaltyID: 7, Event: "Penalty", PlayerName: "Harry Kane"}, nil
}

func (f *fakeBackend) Postures(_ context.Context, id string) (*posture.Sequence, error) {
	if err := f.err("postures"); err != nil {
		return nil, err
	}
	return f.postures, nil
}

func (f *fakeBackend) VideoURL(_ context.Context, id string) (string, error) {
	if err := f.err("video"); err != nil {
		return "", err
	}
	return "https://cdn.example/" + id + ".mp4", nil
}

func (f *fakeBackend) ListPenalties(_ context.Context, filter backend.Filter) ([]backend.Penalty, error) {
	if err := f.err("list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	return []backend.Penalty{{PenaltyID: 7, Event: "Penalty"}, {PenaltyID: 9, Event: "Missed Penalty"}}, nil
}

func (f *fakeBackend) PenaltyFilters(_ context.Context) (backend.FilterOptions, error) {
	return backend.FilterOptions{
		Leagues: []backend.League{{LeagueID: 39, Name: "Premier League"}},
		Seasons: []any{2023.0},
	}, nil
}

func (f *fakeBackend) PlayerStats(_ context.Context) ([]backend.PlayerStats, error) {
	if err := f.err("players"); err != nil {
		return nil, err
	}
	return []backend.PlayerStats{
		{Player: backend.Player{PlayerID: 1, ShortName: "H. Kane", Name: "Harry", Lastname: "Kane", Foot: "R"}, TotalPenalties: 10, Goals: 9, Saved: 1, Effectiveness: 90},
		{Player: backend.Player{PlayerID: 2, ShortName: "R. Díaz", Name: "Raúl", Lastname: "Díaz", Foot: "L"}, TotalPenalties: 4, Goals: 2, Missed: 1, Saved: 1, Effectiveness: 50},
	}, nil
}

func (f *fakeBackend) Player(_ context.Context, playerID string) (backend.Player, error) {
	if err := f.err("players"); err != nil {
		return backend.Player{}, err
	}
	return backend.Player{PlayerID: 1, ShortName: "H. Kane", Name: "Harry", Lastname: "Kane", Foot: "R"}, nil
}

func (f *fakeBackend) PlayerPenalties(_ context.Context, playerID string) ([]backend.Penalty, error) {
	if err := f.err("list"); err != nil {
		return nil, err
	}
	return []backend.Penalty{{PenaltyID: 7, Event: "Penalty"}}, nil
}

type testEnv struct {
	srv     *Server
	ts      *httptest.Server
	backend *fakeBackend
	sched   *overlay.ManualScheduler
	metrics *metrics.Metrics
	client  *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fb := newFakeBackend(t)
	m := metrics.New()
	sched := overlay.NewManualScheduler()
	now := time.Unix(1_700_000_000, 0)

	cfg := DefaultConfig()
	cfg.KeepaliveInterval = 50 * time.Millisecond
	cfg.RecordingOutputPath = t.TempDir()
	cfg.AssetsDir = t.TempDir()
	cfg.BuildAssetsDir = ""
	cfg.STUNServers = nil
	cfg.MaxSessions = 2

	loader := session.NewLoader(fb, session.NewMemoryCache(time.Minute), m)
	mgr := session.NewManager(loader, cfg.OverlayConfig(), m,
		session.WithScheduler(func() overlay.FrameScheduler { return sched }),
		session.WithPlayerOptions(playback.WithClock(func() time.Time { return now })),
		session.WithMaxSessions(cfg.MaxSessions),
	)
	srv := NewServer(cfg, fb, mgr, m)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		// Closing sessions first ends streaming handlers.
		_ = srv.Close()
		ts.Close()
	})
	return &testEnv{
		srv:     srv,
		ts:      ts,
		backend: fb,
		sched:   sched,
		metrics: m,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (e *testEnv) do(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return e.do(t, http.MethodGet, path, nil)
}

func (e *testEnv) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	if payload == nil {
		payload = map[string]any{}
	}
	return e.do(t, http.MethodPost, path, payload)
}

// openSession opens penalty 7 and sizes it to 200x100.
func (e *testEnv) openSession(t *testing.T) string {
	t.Helper()
	resp, body := e.postJSON(t, "/api/sessions", map[string]any{"penalty_id": 7})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open status = %d body=%s", resp.StatusCode, body)
	}
	id := requireString(t, decodeJSONMap(t, body)["id"], "id")

	resp, body = e.postJSON(t, "/api/sessions/"+id+"/metadata", map[string]any{
		"duration": 4.0, "width": 200, "height": 100,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metadata status = %d body=%s", resp.StatusCode, body)
	}
	return id
}

// readSSEEvent returns the first data event, skipping keepalive comments.
func readSSEEvent(url, accept string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				if strings.HasPrefix(event, ":") {
					continue
				}
				return event, resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func sseData(t *testing.T, event string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}
