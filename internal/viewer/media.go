package viewer

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/recorder"
	"github.com/penaltyvision/overlay-server/internal/session"
	"github.com/penaltyvision/overlay-server/internal/webrtc"
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	width, height := sess.Canvas().Size()
	blank, err := blankJPEG(width, height)
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	id, frameCh := sess.Frames().Subscribe()
	defer sess.Frames().Unsubscribe(id)
	s.metrics.StreamClients.Add(1)
	defer s.metrics.StreamClients.Add(^uint64(0))

	streamMJPEGFromChannel(w, r, frameCh, s.cfg.KeepaliveInterval, blank)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id, eventCh := sess.Events().Subscribe()
	defer sess.Events().Unsubscribe(id)
	s.metrics.EventClients.Add(1)
	defer s.metrics.EventClients.Add(^uint64(0))

	streamEventsFromChannel(w, r, eventCh, wantsProtobuf(r.Header.Get("Accept")), s.cfg.KeepaliveInterval)
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "failed to read body"}, http.StatusBadRequest)
		return
	}

	answer, err := s.webrtc.HandleOffer(sess.ID, body)
	if err != nil {
		logger.Warn("WebRTC", "Offer for session %s rejected: %v", sess.ID, err)
		if errors.Is(err, webrtc.ErrInvalidOffer) {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
		writeError(w, err)
		return
	}
	s.forwardEvents(sess)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

// forwardEvents relays a session's posture events to its data channel
// clients. One forwarder runs per session until the session closes.
func (s *Server) forwardEvents(sess *session.Session) {
	s.mu.Lock()
	if s.forwarders[sess.ID] {
		s.mu.Unlock()
		return
	}
	s.forwarders[sess.ID] = true
	s.mu.Unlock()

	id, eventCh := sess.Events().Subscribe()
	go func() {
		defer func() {
			sess.Events().Unsubscribe(id)
			s.webrtc.RemoveSession(sess.ID)
			s.mu.Lock()
			delete(s.forwarders, sess.ID)
			s.mu.Unlock()
			logger.Debug("WebRTC", "Event forwarder for %s stopped", sess.ID)
		}()
		for event := range eventCh {
			s.webrtc.Broadcast(sess.ID, event.JSONData)
		}
	}()
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	if _, exists := s.recordings[sess.ID]; exists {
		s.mu.Unlock()
		writeError(w, recorder.ErrRecording)
		return
	}
	rec := recorder.NewRecorder(s.cfg.RecordingOutputPath, sess.ID, s.metrics)
	if err := rec.Start(); err != nil {
		s.mu.Unlock()
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	subID, frameCh := sess.Frames().Subscribe()
	state := &recording{rec: rec, subID: subID, done: make(chan struct{})}
	s.recordings[sess.ID] = state
	s.mu.Unlock()

	go func() {
		defer close(state.done)
		for frame := range frameCh {
			rec.SendFrame(frame)
		}
	}()

	status := rec.GetStatus()
	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       status.Filename,
		"started_at": float64(status.StartTime.Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	status, err := s.stopRecording(sess.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"status":      "stopped",
		"file":        status.Filename,
		"frame_count": status.FrameCount,
		"size_bytes":  status.BytesWritten,
		"stopped_at":  float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	state, exists := s.recordings[sess.ID]
	s.mu.Unlock()
	if !exists {
		writeJSON(w, recorder.RecordingStatus{SessionID: sess.ID})
		return
	}
	writeJSON(w, state.rec.GetStatus())
}

// stopRecording detaches the recorder from the session's frames and closes
// the file once the pump has drained.
func (s *Server) stopRecording(sessionID string) (recorder.RecordingStatus, error) {
	s.mu.Lock()
	state, exists := s.recordings[sessionID]
	delete(s.recordings, sessionID)
	s.mu.Unlock()
	if !exists {
		return recorder.RecordingStatus{SessionID: sessionID}, recorder.ErrNotRecording
	}

	if sess, err := s.sessions.Get(sessionID); err == nil {
		sess.Frames().Unsubscribe(state.subID)
	}
	<-state.done
	return state.rec.Stop()
}
