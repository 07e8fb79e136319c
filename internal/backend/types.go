package backend

import (
	"net/url"
	"strings"
)

// Penalty is one penalty kick as the backend describes it. The same shape is
// used for search results and for the detail view.
type Penalty struct {
	PenaltyID        int64  `json:"penalty_id"`
	FixtureID        int64  `json:"fixture_id,omitempty"`
	Event            string `json:"event,omitempty"`
	Condition        string `json:"condition,omitempty"`
	LeagueName       string `json:"league_name,omitempty"`
	Season           any    `json:"season,omitempty"`
	Minute           *int   `json:"minute,omitempty"`
	ExtraMinute      *int   `json:"extra_minute,omitempty"`
	PenaltyShootout  bool   `json:"penalty_shootout"`
	ShooterTeamName  string `json:"shooter_team_name,omitempty"`
	DefenderTeamName string `json:"defender_team_name,omitempty"`
	PlayerShortName  string `json:"player_short_name,omitempty"`
	PlayerName       string `json:"player_name,omitempty"`
	PlayerLastname   string `json:"player_lastname,omitempty"`
	PlayerFoot       string `json:"player_foot,omitempty"`
	Side             string `json:"side,omitempty"`
	Height           string `json:"height,omitempty"`
}

// ShooterName prefers the short name, falling back to "name lastname".
func (p Penalty) ShooterName() string {
	if p.PlayerShortName != "" {
		return p.PlayerShortName
	}
	return strings.TrimSpace(p.PlayerName + " " + p.PlayerLastname)
}

// Outcome returns the event, or the condition for search rows that carry it
// instead.
func (p Penalty) Outcome() string {
	if p.Event != "" {
		return p.Event
	}
	return p.Condition
}

// Filter narrows a penalty search.
type Filter struct {
	LeagueID       string `json:"league_id,omitempty"`
	Season         string `json:"season,omitempty"`
	ShooterTeamID  string `json:"shooter_team_id,omitempty"`
	DefenderTeamID string `json:"defender_team_id,omitempty"`
}

func (f Filter) values() url.Values {
	v := url.Values{}
	add := func(key, val string) {
		if val = strings.TrimSpace(val); val != "" {
			v.Set(key, val)
		}
	}
	add("league_id", f.LeagueID)
	add("season", f.Season)
	add("shooter_team_id", f.ShooterTeamID)
	add("defender_team_id", f.DefenderTeamID)
	return v
}

// FilterOptions lists the selectable search filters.
type FilterOptions struct {
	Leagues []League `json:"leagues"`
	Seasons []any    `json:"seasons"`
	Teams   []Team   `json:"teams"`
}

type League struct {
	LeagueID int64  `json:"league_id"`
	Name     string `json:"name"`
	Season   any    `json:"season,omitempty"`
}

type Team struct {
	TeamID int64  `json:"team_id"`
	Name   string `json:"name"`
}

// Player is one player as the backend describes it.
type Player struct {
	PlayerID  int64  `json:"player_id"`
	ShortName string `json:"short_name,omitempty"`
	Name      string `json:"name,omitempty"`
	Lastname  string `json:"lastname,omitempty"`
	Foot      string `json:"foot,omitempty"`
}

// DisplayName prefers "name lastname", falling back to the short name.
func (p Player) DisplayName() string {
	if full := strings.TrimSpace(p.Name + " " + p.Lastname); full != "" {
		return full
	}
	return p.ShortName
}

// PlayerStats is a player row of the players list.
type PlayerStats struct {
	Player
	TotalPenalties int     `json:"total_penalties"`
	Goals          int     `json:"goals"`
	Missed         int     `json:"missed"`
	Saved          int     `json:"saved"`
	Effectiveness  float64 `json:"effectiveness"`
}

// Failed counts missed and saved penalties.
func (s PlayerStats) Failed() int { return s.Missed + s.Saved }

// Matches reports whether term appears in any of the player's names,
// ignoring case. An empty term matches everyone.
func (p Player) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	for _, name := range []string{p.Name, p.Lastname, p.ShortName} {
		if strings.Contains(strings.ToLower(name), term) {
			return true
		}
	}
	return false
}
