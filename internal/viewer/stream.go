package viewer

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"strings"
	"time"

	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/overlay"
	"github.com/penaltyvision/overlay-server/internal/session"
	"github.com/penaltyvision/overlay-server/pkg/types"
)

const (
	blankWidth  = 640
	blankHeight = 360
)

// blankJPEG is sent while a session has no frame to show, keeping the
// multipart connection alive.
func blankJPEG(width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		width, height = blankWidth, blankHeight
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	overlay.DrawCaption(img, 8, 8, "Waiting for playback", 4)
	return overlay.EncodeJPEG(img, 75)
}

// wantsProtobuf reports whether the client prefers protobuf events.
func wantsProtobuf(accept string) bool {
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

// streamMJPEGFromChannel streams overlay frames as multipart JPEG until the
// channel closes or the client goes away. The last frame is repeated on
// keepalive; blank is only sent before the first frame arrives.
func streamMJPEGFromChannel(w http.ResponseWriter, r *http.Request, frameCh <-chan *types.OverlayFrame, keepalive time.Duration, blank []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	var current *types.OverlayFrame
	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frameCh:
			if !ok {
				// Session closed
				return
			}
			if frame != nil && len(frame.Data) > 0 {
				current = frame
			}
		case <-time.After(keepalive):
			// No new frame while paused, repeat the current one
		}

		jpegData, frameHeader := blank, ""
		if current != nil {
			jpegData = current.Data
			frameHeader = fmt.Sprintf("X-Frame-Index: %d\r\n", current.FrameIndex)
		}
		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n%s\r\n", len(jpegData), frameHeader); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()
	}
}

// streamEventsFromChannel streams pre-serialized posture events to an SSE
// client. Protobuf payloads are base64 so they fit the text framing.
func streamEventsFromChannel(w http.ResponseWriter, r *http.Request, eventCh <-chan *session.SerializedEvent, useProtobuf bool, keepalive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.Version, data); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-time.After(keepalive):
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
