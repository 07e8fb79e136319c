// Package posture models per-frame pose estimates for a penalty recording and
// the flat wire shape the posture-extraction API returns them in.
package posture

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/penaltyvision/overlay-server/internal/skeleton"
)

const (
	// FrameRate maps playback time to frame indices. Stored posture data was
	// indexed with the same constant upstream.
	FrameRate = 30
	// ConfidenceThreshold is exclusive: a keypoint must score above it to be drawn.
	ConfidenceThreshold = 0.3
)

// Keypoint is one estimated joint position in native video pixels.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Usable reports whether the keypoint clears the confidence threshold.
func (k Keypoint) Usable() bool {
	return k.Confidence > ConfidenceThreshold
}

// Frame holds the keypoints estimated for one video frame. Keypoints is sparse.
type Frame struct {
	Index     int
	Keypoints map[skeleton.Joint]Keypoint
}

// FrameIndexAt converts a playback position to a frame index by flooring.
func FrameIndexAt(seconds float64) int {
	return int(math.Floor(seconds * FrameRate))
}

// Valid returns the keypoints that clear the confidence threshold.
func (f Frame) Valid() map[skeleton.Joint]Keypoint {
	valid := make(map[skeleton.Joint]Keypoint, len(f.Keypoints))
	for joint, kp := range f.Keypoints {
		if kp.Usable() {
			valid[joint] = kp
		}
	}
	return valid
}

// UnmarshalJSON decodes the flat wire record
// {"frame": n, "<joint>_x": .., "<joint>_y": .., "<joint>_confidence": ..}.
// A joint is kept only when all three of its fields are present and non-null.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode posture record: %w", err)
	}

	index, err := numberField(raw, "frame")
	if err != nil {
		return err
	}
	if index == nil {
		return fmt.Errorf("posture record missing frame")
	}
	if *index != math.Trunc(*index) {
		return fmt.Errorf("posture frame %v is not an integer", *index)
	}

	f.Index = int(*index)
	f.Keypoints = make(map[skeleton.Joint]Keypoint)
	for _, joint := range skeleton.Joints {
		name := string(joint)
		x, err := numberField(raw, name+"_x")
		if err != nil {
			return err
		}
		y, err := numberField(raw, name+"_y")
		if err != nil {
			return err
		}
		conf, err := numberField(raw, name+"_confidence")
		if err != nil {
			return err
		}
		if x == nil || y == nil || conf == nil {
			continue
		}
		f.Keypoints[joint] = Keypoint{X: *x, Y: *y, Confidence: *conf}
	}
	return nil
}

// numberField returns nil for a missing or null field. Other columns the
// backend attaches to a record are ignored.
func numberField(raw map[string]json.RawMessage, key string) (*float64, error) {
	msg, ok := raw[key]
	if !ok {
		return nil, nil
	}
	var v *float64
	if err := json.Unmarshal(msg, &v); err != nil {
		return nil, fmt.Errorf("posture field %s: %w", key, err)
	}
	return v, nil
}

// MarshalJSON writes the flat wire record. Absent joints are written as nulls.
func (f Frame) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 1+3*len(skeleton.Joints))
	out["frame"] = f.Index
	for _, joint := range skeleton.Joints {
		name := string(joint)
		kp, ok := f.Keypoints[joint]
		if !ok {
			out[name+"_x"] = nil
			out[name+"_y"] = nil
			out[name+"_confidence"] = nil
			continue
		}
		out[name+"_x"] = kp.X
		out[name+"_y"] = kp.Y
		out[name+"_confidence"] = kp.Confidence
	}
	return json.Marshal(out)
}
