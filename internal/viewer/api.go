package viewer

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/penaltyvision/overlay-server/internal/backend"
	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/navigation"
	"github.com/penaltyvision/overlay-server/internal/recorder"
	"github.com/penaltyvision/overlay-server/internal/session"
)

func (s *Server) handlePenalties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := backend.Filter{
		LeagueID:       q.Get("league_id"),
		Season:         q.Get("season"),
		ShooterTeamID:  q.Get("shooter_team_id"),
		DefenderTeamID: q.Get("defender_team_id"),
	}
	penalties, err := s.catalog.ListPenalties(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"penalties": penalties, "count": len(penalties)})
}

func (s *Server) handlePenaltyFilters(w http.ResponseWriter, r *http.Request) {
	opts, err := s.catalog.PenaltyFilters(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, opts)
}

// handlePlayers lists player stats, narrowed by the optional search term.
func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	stats, err := s.catalog.PlayerStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	search := r.URL.Query().Get("search")
	players := make([]backend.PlayerStats, 0, len(stats))
	for _, p := range stats {
		if p.Matches(search) {
			players = append(players, p)
		}
	}
	writeJSON(w, map[string]any{"players": players, "count": len(players), "total": len(stats)})
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.catalog.Player(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"player": player, "display_name": player.DisplayName()})
}

func (s *Server) handlePlayerPenalties(w http.ResponseWriter, r *http.Request) {
	penalties, err := s.catalog.PlayerPenalties(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"penalties": penalties, "count": len(penalties)})
}

type navigationPush struct {
	View  string `json:"view" validate:"required"`
	Param string `json:"param"`
}

func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	s.navMu.Lock()
	defer s.navMu.Unlock()
	writeJSON(w, s.navigationPayloadLocked())
}

// handleNavigationPush pushes a view. Entering the video player opens a
// session for the penalty in param; the view is not pushed when loading fails.
func (s *Server) handleNavigationPush(w http.ResponseWriter, r *http.Request) {
	var req navigationPush
	if !s.decode(w, r, &req) {
		return
	}
	view := navigation.View(req.View)
	if !view.Valid() {
		writeJSONWithStatus(w, map[string]any{"error": "unknown view: " + req.View}, http.StatusBadRequest)
		return
	}
	param := strings.TrimSpace(req.Param)
	if view == navigation.VideoPlayer && param == "" {
		writeJSONWithStatus(w, map[string]any{"error": "video-player requires a penalty id"}, http.StatusBadRequest)
		return
	}

	// navMu is not held across the backend load.
	var sess *session.Session
	if view == navigation.VideoPlayer {
		var err error
		if sess, err = s.sessions.Open(r.Context(), param); err != nil {
			writeError(w, err)
			return
		}
	}

	s.navMu.Lock()
	if _, err := s.nav.Push(view, param); err != nil {
		s.navMu.Unlock()
		if sess != nil {
			_ = s.closeSession(sess.ID)
		}
		writeError(w, err)
		return
	}
	if sess != nil {
		s.navSessions[s.nav.Depth()] = sess.ID
	}
	payload := s.navigationPayloadLocked()
	s.navMu.Unlock()

	if sess != nil {
		payload["session"] = sess.Info()
	}
	writeJSON(w, payload)
}

func (s *Server) handleNavigationPop(w http.ResponseWriter, r *http.Request) {
	s.navMu.Lock()
	defer s.navMu.Unlock()

	depth := s.nav.Depth()
	popped, _, err := s.nav.Pop()
	if err != nil {
		writeError(w, err)
		return
	}
	payload := s.navigationPayloadLocked()
	payload["popped"] = popped
	if id, ok := s.navSessions[depth]; ok {
		delete(s.navSessions, depth)
		s.closeSession(id)
		payload["closed_session"] = id
	}
	writeJSON(w, payload)
}

func (s *Server) navigationPayloadLocked() map[string]any {
	payload := map[string]any{
		"current": s.nav.Current(),
		"stack":   s.nav.Entries(),
	}
	if id, ok := s.navSessions[s.nav.Depth()]; ok {
		payload["session_id"] = id
	}
	return payload
}

// closeSession stops everything attached to a session and closes it.
func (s *Server) closeSession(id string) error {
	if _, err := s.stopRecording(id); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
		logger.Warn("Server", "Stopping recording for %s: %v", id, err)
	}
	s.webrtc.RemoveSession(id)
	return s.sessions.Close(id)
}
