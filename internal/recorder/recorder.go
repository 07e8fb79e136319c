package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/metrics"
	"github.com/penaltyvision/overlay-server/pkg/types"
)

// Boundary separates JPEG parts in a recording.
const Boundary = "frame"

var (
	ErrRecording    = errors.New("already recording")
	ErrNotRecording = errors.New("not recording")
)

// Recorder records the overlay frames of one session to an MJPEG file
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	out          *bufio.Writer
	filename     string
	basePath     string
	sessionID    string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	dropped      atomic.Uint64
	startTime    time.Time
	frameChan    chan *types.OverlayFrame
	done         chan struct{}
	wg           sync.WaitGroup
	metrics      *metrics.Metrics
}

// NewRecorder creates a recorder writing into basePath
func NewRecorder(basePath, sessionID string, m *metrics.Metrics) *Recorder {
	if m == nil {
		m = metrics.New()
	}
	return &Recorder{
		basePath:  basePath,
		sessionID: sessionID,
		metrics:   m,
	}
}

// Start starts recording to a new file
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrRecording
	}
	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create recordings directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("overlay_%s_%s.mjpeg", r.sessionID, timestamp)
	file, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.out = bufio.NewWriter(file)
	r.filename = filename
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.dropped.Store(0)
	r.startTime = time.Now()
	r.frameChan = make(chan *types.OverlayFrame, 60) // Buffer 2 seconds of posture frames
	r.done = make(chan struct{})

	r.wg.Add(1)
	go r.writeFrames(r.frameChan, r.done)

	r.metrics.RecordingActive.Store(1)
	r.metrics.RecordingFrames.Store(0)
	r.metrics.RecordingBytes.Store(0)
	logger.Info("Recorder", "Recording session %s to %s", r.sessionID, filename)
	return nil
}

// Stop stops recording and returns the final status
func (r *Recorder) Stop() (RecordingStatus, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return r.GetStatus(), ErrNotRecording
	}
	r.recording = false
	close(r.done)
	r.mu.Unlock()

	// Wait for write goroutine to drain
	r.wg.Wait()

	r.mu.Lock()
	var err error
	if r.file != nil {
		if ferr := r.out.Flush(); ferr != nil {
			err = fmt.Errorf("failed to flush file: %w", ferr)
		} else if serr := r.file.Sync(); serr != nil {
			err = fmt.Errorf("failed to sync file: %w", serr)
		}
		if cerr := r.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
		r.file = nil
		r.out = nil
	}
	r.mu.Unlock()

	r.metrics.RecordingActive.Store(0)
	status := r.GetStatus()
	logger.Info("Recorder", "Recording %s stopped: %d frames, %d bytes", status.Filename, status.FrameCount, status.BytesWritten)
	return status, err
}

// SendFrame sends a frame to the recorder (non-blocking)
func (r *Recorder) SendFrame(frame *types.OverlayFrame) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}
	select {
	case r.frameChan <- frame:
		return true
	default:
		// Channel full, drop frame
		r.dropped.Add(1)
		r.metrics.RecordingDropped.Add(1)
		return false
	}
}

// writeFrames writes frames until done is closed, then drains the buffer.
func (r *Recorder) writeFrames(frames <-chan *types.OverlayFrame, done <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case frame := <-frames:
			r.writeFrame(frame)
		case <-done:
			for {
				select {
				case frame := <-frames:
					r.writeFrame(frame)
				default:
					return
				}
			}
		}
	}
}

// writeFrame writes a single multipart JPEG part
func (r *Recorder) writeFrame(frame *types.OverlayFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.out == nil || frame == nil || len(frame.Data) == 0 {
		return
	}

	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\nX-Frame-Index: %d\r\nX-Playback-Time: %.3f\r\n\r\n",
		Boundary, len(frame.Data), frame.FrameIndex, frame.PlaybackTime)
	n1, err := r.out.WriteString(header)
	if err != nil {
		logger.Warn("Recorder", "Write error: %v", err)
		return
	}
	n2, err := r.out.Write(frame.Data)
	if err != nil {
		logger.Warn("Recorder", "Write error: %v", err)
		return
	}
	n3, _ := r.out.WriteString("\r\n")

	r.bytesWritten += uint64(n1 + n2 + n3)
	r.frameCount++
	r.metrics.RecordingFrames.Store(r.frameCount)
	r.metrics.RecordingBytes.Store(r.bytesWritten)
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}
	var path string
	if r.filename != "" {
		path = filepath.Join(r.basePath, r.filename)
	}

	return RecordingStatus{
		SessionID:     r.sessionID,
		Recording:     r.recording,
		Filename:      r.filename,
		Path:          path,
		FrameCount:    r.frameCount,
		BytesWritten:  r.bytesWritten,
		FramesDropped: r.dropped.Load(),
		DurationMs:    duration.Milliseconds(),
		StartTime:     r.startTime,
	}
}

// Close stops an active recording
func (r *Recorder) Close() error {
	if !r.IsRecording() {
		return nil
	}
	_, err := r.Stop()
	return err
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	SessionID     string    `json:"session_id"`
	Recording     bool      `json:"recording"`
	Filename      string    `json:"filename,omitempty"`
	Path          string    `json:"path,omitempty"`
	FrameCount    uint64    `json:"frame_count"`
	BytesWritten  uint64    `json:"bytes_written"`
	FramesDropped uint64    `json:"frames_dropped"`
	DurationMs    int64     `json:"duration_ms"`
	StartTime     time.Time `json:"start_time"`
}
