package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/color"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/metrics"
	"github.com/penaltyvision/overlay-server/internal/overlay"
	"github.com/penaltyvision/overlay-server/pkg/types"
)

const DefaultJPEGQuality = 80

// FrameBroadcaster manages fanout of JPEG overlay frames to multiple clients.
type FrameBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan *types.OverlayFrame
	nextID    int
	session   *Session
	quality   int
	metrics   *metrics.Metrics
	last      *types.OverlayFrame
	wake      chan struct{}
	stop      chan struct{}
	stopped   bool
	skipCount int // Updates skipped while no clients were connected
}

// NewFrameBroadcaster creates a broadcaster that encodes the session's
// overlay after every published update and fans it out.
func NewFrameBroadcaster(s *Session, quality int, m *metrics.Metrics) *FrameBroadcaster {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &FrameBroadcaster{
		clients: make(map[int]chan *types.OverlayFrame),
		session: s,
		quality: quality,
		metrics: m,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// The last encoded frame is queued first, and the encode loop is woken so
// updates published while nobody watched reach the new client.
// The channel is closed on Unsubscribe or when the session closes.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan *types.OverlayFrame) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan *types.OverlayFrame, 2) // Buffer 2 frames to avoid blocking
	if fb.stopped {
		close(ch)
		return id, ch
	}
	if fb.last != nil {
		ch <- fb.last
	}
	fb.clients[id] = ch
	select {
	case fb.wake <- struct{}{}:
	default:
	}

	logger.Debug("FrameBroadcaster", "Client #%d subscribed to %s (total clients: %d)", id, fb.session.ID, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
		if len(fb.clients) == 0 {
			logger.Debug("FrameBroadcaster", "No clients remaining on %s - frame encoding will be skipped", fb.session.ID)
		}
	}
}

// ClientCount returns the number of subscribers.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Start begins the encode and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster and closes every client channel.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.stopped {
		return
	}
	close(fb.stop)
	fb.stopped = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
}

func (fb *FrameBroadcaster) run() {
	var encoded uint64
	for {
		upd, changed := fb.session.Watch()

		// Check client count before encoding
		if fb.ClientCount() == 0 {
			fb.skipCount++
			if fb.skipCount%300 == 0 {
				logger.Debug("FrameBroadcaster", "No clients on %s, skipped %d updates", fb.session.ID, fb.skipCount)
			}
		} else if upd.Version != encoded && upd.Version > 0 {
			fb.skipCount = 0
			if frame := fb.encode(upd); frame != nil {
				encoded = upd.Version
				fb.broadcast(frame)
			}
		}

		select {
		case <-fb.stop:
			return
		case <-changed:
		case <-fb.wake:
		}
	}
}

func (fb *FrameBroadcaster) encode(upd Update) *types.OverlayFrame {
	img := fb.session.canvas.Snapshot()
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil
	}

	composed := overlay.Composite(img, color.Black)
	caption := fmt.Sprintf("Frame: %d  Time: %.2fs", upd.Tick.FrameIndex, upd.Tick.PlaybackTime)
	if !upd.Tick.Matched {
		caption += "  (no posture)"
	}
	overlay.DrawCaption(composed, 10, 10, caption, 2)

	data, err := overlay.EncodeJPEG(composed, fb.quality)
	if err != nil {
		fb.metrics.EncodeErrors.Add(1)
		logger.Error("FrameBroadcaster", "JPEG encode error: %v", err)
		return nil
	}
	return &types.OverlayFrame{
		Data:         data,
		Timestamp:    time.Now(),
		SessionID:    fb.session.ID,
		FrameIndex:   upd.Tick.FrameIndex,
		PlaybackTime: upd.Tick.PlaybackTime,
		Matched:      upd.Tick.Matched,
		Width:        w,
		Height:       h,
	}
}

func (fb *FrameBroadcaster) broadcast(frame *types.OverlayFrame) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.last = frame
	for _, ch := range fb.clients {
		select {
		case ch <- frame:
		default:
			// Client too slow, skip this frame for this client
			fb.metrics.EventsDropped.Add(1)
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	Version      uint64
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

// EventBroadcaster manages fanout of posture events to SSE and data
// channel clients.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	session *Session
	metrics *metrics.Metrics
	last    *SerializedEvent
	stop    chan struct{}
	stopped bool
}

// NewEventBroadcaster creates a broadcaster for posture events.
func NewEventBroadcaster(s *Session, m *metrics.Metrics) *EventBroadcaster {
	return &EventBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		session: s,
		metrics: m,
		stop:    make(chan struct{}),
	}
}

// Subscribe adds a new client. The latest event, if any, is queued first.
func (eb *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *SerializedEvent, 4)
	if eb.stopped {
		close(ch)
		return id, ch
	}
	if eb.last != nil {
		ch <- eb.last
	}
	eb.clients[id] = ch

	logger.Debug("EventBroadcaster", "Client #%d subscribed to %s (total clients: %d)", id, eb.session.ID, len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		logger.Debug("EventBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// ClientCount returns the number of subscribers.
func (eb *EventBroadcaster) ClientCount() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients)
}

// Start begins the event loop.
func (eb *EventBroadcaster) Start() {
	go eb.run()
}

// Stop halts the broadcaster and closes every client channel.
func (eb *EventBroadcaster) Stop() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.stopped {
		return
	}
	close(eb.stop)
	eb.stopped = true
	for id, ch := range eb.clients {
		close(ch)
		delete(eb.clients, id)
	}
}

func (eb *EventBroadcaster) run() {
	var last uint64
	for {
		upd, changed := eb.session.Watch()
		if upd.Version != last {
			last = upd.Version
			event, err := SerializeUpdate(eb.session.ID, upd)
			if err != nil {
				eb.metrics.EncodeErrors.Add(1)
				logger.Error("EventBroadcaster", "Serialize error: %v", err)
			} else {
				eb.broadcast(event)
			}
		}

		select {
		case <-eb.stop:
			return
		case <-changed:
		}
	}
}

func (eb *EventBroadcaster) broadcast(event *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.last = event
	for _, ch := range eb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
			eb.metrics.EventsDropped.Add(1)
		}
	}
}

// SerializeUpdate encodes an update as JSON and as a base64 protobuf Struct
// with the same fields.
func SerializeUpdate(sessionID string, upd Update) (*SerializedEvent, error) {
	fields := eventFields(sessionID, upd)

	jsonData, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	pbEvent, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(pbEvent)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		Version:      upd.Version,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// eventFields uses only types structpb accepts.
func eventFields(sessionID string, upd Update) map[string]any {
	joints := make([]any, len(upd.Tick.Joints))
	for i, j := range upd.Tick.Joints {
		joints[i] = map[string]any{
			"joint":      string(j.Joint),
			"x":          j.X,
			"y":          j.Y,
			"confidence": j.Confidence,
			"radius":     j.Radius,
			"color":      fmt.Sprintf("#%02X%02X%02X", j.Color.R, j.Color.G, j.Color.B),
		}
	}
	bones := make([]any, len(upd.Tick.Bones))
	for i, b := range upd.Tick.Bones {
		bones[i] = []any{string(b.From), string(b.To)}
	}

	return map[string]any{
		"session_id":    sessionID,
		"version":       float64(upd.Version),
		"frame_index":   float64(upd.Tick.FrameIndex),
		"playback_time": upd.Tick.PlaybackTime,
		"matched":       upd.Tick.Matched,
		"joints":        joints,
		"bones":         bones,
		"state": map[string]any{
			"current_time": upd.State.CurrentTime,
			"duration":     upd.State.Duration,
			"playing":      upd.State.Playing,
			"rate":         upd.State.Rate,
			"width":        float64(upd.State.Width),
			"height":       float64(upd.State.Height),
		},
	}
}
