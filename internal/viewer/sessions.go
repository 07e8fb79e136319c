package viewer

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/penaltyvision/overlay-server/internal/playback"
)

// penaltyID accepts the id as a JSON string or number.
type penaltyID string

func (p *penaltyID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = penaltyID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("penalty_id must be a string or number")
	}
	*p = penaltyID(n.String())
	return nil
}

type openRequest struct {
	PenaltyID penaltyID `json:"penalty_id" validate:"required"`
}

type metadataRequest struct {
	Duration float64 `json:"duration" validate:"gt=0"`
	Width    int     `json:"width" validate:"gt=0,lte=8192"`
	Height   int     `json:"height" validate:"gt=0,lte=8192"`
}

type controlRequest struct {
	Action   string   `json:"action" validate:"required,oneof=play pause toggle seek skip rate mute"`
	Fraction *float64 `json:"fraction"`
	Seconds  *float64 `json:"seconds"`
	Delta    *float64 `json:"delta"`
	Rate     *float64 `json:"rate"`
	Muted    *bool    `json:"muted"`
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	writeJSON(w, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.sessions.Open(r.Context(), string(req.PenaltyID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONWithStatus(w, sess.Info(), http.StatusCreated)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, sess.Info())
}

func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.closeSession(sess.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "closed", "id": sess.ID})
}

// handleMetadata applies the loaded video's duration and native size.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req metadataRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess.SetMetadata(req.Duration, req.Width, req.Height)
	writeJSON(w, sess.Player().State())
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req controlRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := applyControl(sess.Player(), req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, sess.Player().State())
}

// applyControl maps a control request onto the player. Seek takes either a
// fraction of the duration or an absolute time; skip defaults to one second
// forward; rate either adjusts by delta or sets an absolute rate; mute sets
// muted when given and toggles otherwise.
func applyControl(p *playback.Player, req controlRequest) error {
	switch req.Action {
	case "play":
		p.Play()
	case "pause":
		p.Pause()
	case "toggle":
		p.Toggle()
	case "seek":
		switch {
		case req.Fraction != nil:
			if !finite(*req.Fraction) {
				return errors.New("fraction must be a finite number")
			}
			p.SeekFraction(*req.Fraction)
		case req.Seconds != nil:
			if !finite(*req.Seconds) {
				return errors.New("seconds must be a finite number")
			}
			p.Seek(*req.Seconds)
		default:
			return errors.New("seek requires fraction or seconds")
		}
	case "skip":
		delta := playback.SkipSeconds
		if req.Seconds != nil {
			delta = *req.Seconds
		}
		if !finite(delta) {
			return errors.New("seconds must be a finite number")
		}
		p.Skip(delta)
	case "rate":
		switch {
		case req.Delta != nil:
			if !finite(*req.Delta) {
				return errors.New("delta must be a finite number")
			}
			p.AdjustRate(*req.Delta)
		case req.Rate != nil:
			if !finite(*req.Rate) {
				return errors.New("rate must be a finite number")
			}
			p.SetRate(*req.Rate)
		default:
			return errors.New("rate requires delta or rate")
		}
	case "mute":
		if req.Muted != nil {
			p.SetMuted(*req.Muted)
		} else {
			p.ToggleMute()
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// handleOverlayPNG renders the transparent overlay for ?t=, or for the
// current playback time when t is absent.
func (s *Server) handleOverlayPNG(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	seconds := sess.Player().CurrentTime()
	if raw := r.URL.Query().Get("t"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil || !finite(t) || t < 0 {
			writeJSONWithStatus(w, map[string]any{"error": "t must be a non-negative number of seconds"}, http.StatusBadRequest)
			return
		}
		seconds = t
	}

	data, res, err := sess.RenderPNG(seconds)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Frame-Index", strconv.Itoa(res.FrameIndex))
	w.Header().Set("X-Frame-Matched", strconv.FormatBool(res.Matched))
	_, _ = w.Write(data)
}
