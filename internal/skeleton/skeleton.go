// Package skeleton holds the fixed joint vocabulary and bone topology of the
// 17-point pose model used for penalty posture extraction.
package skeleton

import "image/color"

// Joint names a keypoint produced by the pose model.
type Joint string

const (
	Nose          Joint = "nose"
	LeftEye       Joint = "left_eye"
	RightEye      Joint = "right_eye"
	LeftEar       Joint = "left_ear"
	RightEar      Joint = "right_ear"
	LeftShoulder  Joint = "left_shoulder"
	RightShoulder Joint = "right_shoulder"
	LeftElbow     Joint = "left_elbow"
	RightElbow    Joint = "right_elbow"
	LeftWrist     Joint = "left_wrist"
	RightWrist    Joint = "right_wrist"
	LeftHip       Joint = "left_hip"
	RightHip      Joint = "right_hip"
	LeftKnee      Joint = "left_knee"
	RightKnee     Joint = "right_knee"
	LeftAnkle     Joint = "left_ankle"
	RightAnkle    Joint = "right_ankle"
)

// Joints lists every joint in draw order.
var Joints = [17]Joint{
	Nose, LeftEye, RightEye, LeftEar, RightEar,
	LeftShoulder, RightShoulder, LeftElbow, RightElbow,
	LeftWrist, RightWrist, LeftHip, RightHip,
	LeftKnee, RightKnee, LeftAnkle, RightAnkle,
}

// Group is the colour class of a joint.
type Group int

const (
	Face Group = iota
	Torso
	Arm
	Leg
)

var groupNames = map[Group]string{
	Face:  "face",
	Torso: "torso",
	Arm:   "arm",
	Leg:   "leg",
}

func (g Group) String() string {
	if name, ok := groupNames[g]; ok {
		return name
	}
	return "unknown"
}

var (
	Yellow  = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	Green   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Red     = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	White   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

var groupColors = map[Group]color.RGBA{
	Face:  Yellow,
	Torso: Green,
	Arm:   Red,
	Leg:   Magenta,
}

var jointGroups = map[Joint]Group{
	Nose: Face, LeftEye: Face, RightEye: Face, LeftEar: Face, RightEar: Face,
	LeftShoulder: Torso, RightShoulder: Torso, LeftHip: Torso, RightHip: Torso,
	LeftElbow: Arm, RightElbow: Arm, LeftWrist: Arm, RightWrist: Arm,
	LeftKnee: Leg, RightKnee: Leg, LeftAnkle: Leg, RightAnkle: Leg,
}

const (
	MajorRadius = 6
	MinorRadius = 4
)

// Valid reports whether j belongs to the vocabulary.
func (j Joint) Valid() bool {
	_, ok := jointGroups[j]
	return ok
}

// Group returns the colour class of j. Unknown joints report Face.
func (j Joint) Group() Group {
	return jointGroups[j]
}

// Color returns the draw colour of j.
func (j Joint) Color() color.RGBA {
	if g, ok := jointGroups[j]; ok {
		return groupColors[g]
	}
	return White
}

// Radius returns the joint marker radius in pixels. The nose and shoulders are
// drawn larger than the rest.
func (j Joint) Radius() float64 {
	switch j {
	case Nose, LeftShoulder, RightShoulder:
		return MajorRadius
	default:
		return MinorRadius
	}
}

// Bone connects two joints. The line takes the colour of From.
type Bone struct {
	From Joint
	To   Joint
}

// Color returns the line colour of the bone.
func (b Bone) Color() color.RGBA {
	return b.From.Color()
}

// Bones is the skeleton topology of the pose model.
var Bones = [17]Bone{
	{LeftEye, RightEye},
	{LeftEye, Nose},
	{RightEye, Nose},
	{LeftEye, LeftEar},
	{RightEye, RightEar},
	{LeftShoulder, RightShoulder},
	{LeftShoulder, LeftHip},
	{RightShoulder, RightHip},
	{LeftHip, RightHip},
	{LeftShoulder, LeftElbow},
	{LeftElbow, LeftWrist},
	{RightShoulder, RightElbow},
	{RightElbow, RightWrist},
	{LeftHip, LeftKnee},
	{LeftKnee, LeftAnkle},
	{RightHip, RightKnee},
	{RightKnee, RightAnkle},
}
