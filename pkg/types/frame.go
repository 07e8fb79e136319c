package types

import "time"

// OverlayFrame is one encoded overlay image published by a session.
type OverlayFrame struct {
	Data         []byte    // JPEG bytes
	Timestamp    time.Time // Wall clock time of the render pass
	SessionID    string
	FrameIndex   int     // Posture frame index, floor(t*30)
	PlaybackTime float64 // Video position in seconds
	Matched      bool    // A posture frame existed for FrameIndex
	Width        int
	Height       int
}

// OverlayConfig holds configuration for overlay publishing
type OverlayConfig struct {
	JPEGQuality     int           // Quality of MJPEG and recorded frames
	RefreshInterval time.Duration // Render loop tick interval
}
