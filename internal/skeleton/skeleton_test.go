package skeleton

import "testing"

func TestJointGroupsAndColors(t *testing.T) {
	cases := map[Joint]Group{
		Nose: Face, LeftEar: Face, RightEye: Face,
		LeftShoulder: Torso, RightHip: Torso,
		LeftElbow: Arm, RightWrist: Arm,
		LeftKnee: Leg, RightAnkle: Leg,
	}
	for joint, want := range cases {
		if got := joint.Group(); got != want {
			t.Fatalf("%s group = %s, want %s", joint, got, want)
		}
	}
	if Nose.Color() != Yellow || LeftHip.Color() != Green || RightElbow.Color() != Red || LeftAnkle.Color() != Magenta {
		t.Fatalf("unexpected group colours")
	}
}

func TestRadius(t *testing.T) {
	for _, j := range Joints {
		want := float64(MinorRadius)
		if j == Nose || j == LeftShoulder || j == RightShoulder {
			want = MajorRadius
		}
		if j.Radius() != want {
			t.Fatalf("%s radius = %v, want %v", j, j.Radius(), want)
		}
	}
}

func TestBonesReferenceKnownJoints(t *testing.T) {
	seen := make(map[[2]Joint]bool)
	for _, b := range Bones {
		if !b.From.Valid() || !b.To.Valid() {
			t.Fatalf("bone %v references unknown joint", b)
		}
		key := [2]Joint{b.From, b.To}
		if b.To < b.From {
			key = [2]Joint{b.To, b.From}
		}
		if seen[key] {
			t.Fatalf("duplicate bone %v", b)
		}
		seen[key] = true
	}
	if len(seen) != 17 {
		t.Fatalf("bones = %d, want 17", len(seen))
	}
}

func TestBoneColorUsesFirstJoint(t *testing.T) {
	b := Bone{From: LeftShoulder, To: LeftElbow}
	if b.Color() != Green {
		t.Fatalf("bone colour = %v, want torso green", b.Color())
	}
	if (Bone{From: LeftEye, To: Nose}).Color() != Yellow {
		t.Fatalf("face bone colour mismatch")
	}
}
