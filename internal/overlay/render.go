package overlay

import (
	"image/color"
	"time"

	"github.com/penaltyvision/overlay-server/internal/posture"
	"github.com/penaltyvision/overlay-server/internal/skeleton"
)

const (
	BoneWidth    = 2
	OutlineWidth = 2
)

// DrawnJoint is a joint marker painted during a tick.
type DrawnJoint struct {
	Joint      skeleton.Joint `json:"joint"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Confidence float64        `json:"confidence"`
	Radius     float64        `json:"radius"`
	Color      color.RGBA     `json:"-"`
}

// TickResult describes what a single render pass did.
type TickResult struct {
	PlaybackTime float64         `json:"playback_time"`
	FrameIndex   int             `json:"frame_index"`
	Matched      bool            `json:"matched"`
	Joints       []DrawnJoint    `json:"joints"`
	Bones        []skeleton.Bone `json:"-"`
	Took         time.Duration   `json:"-"`
}

// Drawn reports whether anything was painted.
func (r TickResult) Drawn() bool {
	return len(r.Joints) > 0 || len(r.Bones) > 0
}

// RenderAt paints the skeleton for the frame displayed at seconds. When no
// frame matches, the canvas is only cleared. A nil canvas draws nothing.
func RenderAt(canvas Canvas, seq *posture.Sequence, seconds float64) TickResult {
	frame, index, ok := seq.At(seconds)
	result := TickResult{PlaybackTime: seconds, FrameIndex: index, Matched: ok}
	if canvas == nil {
		return result
	}

	canvas.Clear()
	if !ok {
		return result
	}

	valid := frame.Valid()

	for _, bone := range skeleton.Bones {
		from, okFrom := valid[bone.From]
		to, okTo := valid[bone.To]
		if !okFrom || !okTo {
			continue
		}
		canvas.Line(from.X, from.Y, to.X, to.Y, BoneWidth, bone.Color())
		result.Bones = append(result.Bones, bone)
	}

	for _, joint := range skeleton.Joints {
		kp, ok := valid[joint]
		if !ok {
			continue
		}
		radius := joint.Radius()
		canvas.FillCircle(kp.X, kp.Y, radius, joint.Color())
		canvas.StrokeCircle(kp.X, kp.Y, radius+1, OutlineWidth, skeleton.White)
		result.Joints = append(result.Joints, DrawnJoint{
			Joint:      joint,
			X:          kp.X,
			Y:          kp.Y,
			Confidence: kp.Confidence,
			Radius:     radius,
			Color:      joint.Color(),
		})
	}

	return result
}
