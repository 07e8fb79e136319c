package posture

import (
	"encoding/json"
	"fmt"
	"io"
)

// Sequence is the immutable, ordered posture data of one recording. It is safe
// for concurrent readers.
type Sequence struct {
	frames []Frame
}

// NewSequence copies frames into a sequence, preserving order.
func NewSequence(frames []Frame) *Sequence {
	cp := make([]Frame, len(frames))
	copy(cp, frames)
	return &Sequence{frames: cp}
}

// Decode reads a JSON array of wire records.
func Decode(r io.Reader) (*Sequence, error) {
	var frames []Frame
	if err := json.NewDecoder(r).Decode(&frames); err != nil {
		return nil, fmt.Errorf("decode posture sequence: %w", err)
	}
	return NewSequence(frames), nil
}

// Len returns the number of frames. A nil sequence is empty.
func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	return len(s.frames)
}

// Frames returns a copy of the frames.
func (s *Sequence) Frames() []Frame {
	if s == nil {
		return nil
	}
	cp := make([]Frame, len(s.frames))
	copy(cp, s.frames)
	return cp
}

// Lookup returns the first frame whose index equals index.
func (s *Sequence) Lookup(index int) (Frame, bool) {
	if s == nil {
		return Frame{}, false
	}
	for _, f := range s.frames {
		if f.Index == index {
			return f, true
		}
	}
	return Frame{}, false
}

// At returns the frame displayed at the given playback position.
func (s *Sequence) At(seconds float64) (Frame, int, bool) {
	index := FrameIndexAt(seconds)
	f, ok := s.Lookup(index)
	return f, index, ok
}

// MarshalJSON writes the sequence as a wire array.
func (s *Sequence) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.frames)
}

// Stats summarises a sequence.
type Stats struct {
	Frames             int     `json:"frames"`
	FirstFrame         int     `json:"first_frame"`
	LastFrame          int     `json:"last_frame"`
	MeanValidKeypoints float64 `json:"mean_valid_keypoints"`
	CoveredSeconds     float64 `json:"covered_seconds"`
}

// Stats computes summary figures for the sequence.
func (s *Sequence) Stats() Stats {
	if s.Len() == 0 {
		return Stats{}
	}

	st := Stats{
		Frames:     len(s.frames),
		FirstFrame: s.frames[0].Index,
		LastFrame:  s.frames[0].Index,
	}
	valid := 0
	for _, f := range s.frames {
		if f.Index < st.FirstFrame {
			st.FirstFrame = f.Index
		}
		if f.Index > st.LastFrame {
			st.LastFrame = f.Index
		}
		valid += len(f.Valid())
	}
	st.MeanValidKeypoints = float64(valid) / float64(len(s.frames))
	st.CoveredSeconds = float64(st.LastFrame-st.FirstFrame+1) / FrameRate
	return st
}
