// Package navigation keeps the LIFO stack of named views the client moves
// through. The video player view is entered and left through it.
package navigation

import (
	"errors"
	"fmt"
	"sync"
)

// View names a screen of the client application.
type View string

const (
	Home          View = "home"
	Players       View = "players"
	Videos        View = "videos"
	VideoPlayer   View = "video-player"
	Upload        View = "upload"
	UploadVideo   View = "upload-video"
	UploadConfirm View = "upload-confirm"
	Prediction    View = "prediction"
)

var knownViews = map[View]bool{
	Home: true, Players: true, Videos: true, VideoPlayer: true,
	Upload: true, UploadVideo: true, UploadConfirm: true, Prediction: true,
}

// ErrRootView is returned when popping would leave the stack empty.
var ErrRootView = errors.New("navigation: cannot pop the root view")

// Valid reports whether v is a known view.
func (v View) Valid() bool { return knownViews[v] }

// Entry is one stack element. Param carries the view argument, such as the
// penalty id for the video player.
type Entry struct {
	View  View   `json:"view"`
	Param string `json:"param,omitempty"`
}

// Stack is safe for concurrent use.
type Stack struct {
	mu      sync.Mutex
	entries []Entry
}

// NewStack returns a stack holding only the home view.
func NewStack() *Stack {
	return &Stack{entries: []Entry{{View: Home}}}
}

// Push appends view with its parameter.
func (s *Stack) Push(view View, param string) (Entry, error) {
	if !view.Valid() {
		return Entry{}, fmt.Errorf("navigation: unknown view %q", view)
	}
	e := Entry{View: view, Param: param}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return e, nil
}

// Pop removes the top entry and returns it together with the entry that
// becomes current.
func (s *Stack) Pop() (popped, current Entry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) <= 1 {
		return Entry{}, s.entries[0], ErrRootView
	}
	popped = s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return popped, s.entries[len(s.entries)-1], nil
}

// Current returns the top entry.
func (s *Stack) Current() Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[len(s.entries)-1]
}

// Depth returns the number of entries, the root included.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of the stack, bottom first.
func (s *Stack) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}
