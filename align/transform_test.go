package align

import (
	"math"
	"testing"
)

const epsilon = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func vecsEqual(a, b Vec3) bool {
	return almostEqual(a.X, b.X) && almostEqual(a.Y, b.Y) && almostEqual(a.Z, b.Z)
}

func TestIdentityTransform(t *testing.T) {
	id := IdentityTransform()
	p := Vec3{1, -2, 3}
	if got := id.Apply(p); !vecsEqual(got, p) {
		t.Errorf("identity moved point: %+v", got)
	}
	if angle := id.RotationAngle(); !almostEqual(angle, 0) {
		t.Errorf("identity rotation angle = %v", angle)
	}
}

func TestPoseToTransform_PureTranslation(t *testing.T) {
	m := PoseToTransform([6]float64{0, 0, 0, 10, -5, 2})
	got := m.Apply(Vec3{1, 1, 1})
	if !vecsEqual(got, Vec3{11, -4, 3}) {
		t.Errorf("translation result = %+v", got)
	}
}

func TestPoseToTransform_YawRotation(t *testing.T) {
	// 90 degrees about Z maps +X to +Y.
	m := PoseToTransform([6]float64{0, 0, math.Pi / 2, 0, 0, 0})
	got := m.Apply(Vec3{1, 0, 0})
	if !vecsEqual(got, Vec3{0, 1, 0}) {
		t.Errorf("yaw rotation result = %+v", got)
	}
	if angle := m.RotationAngle(); !almostEqual(angle, math.Pi/2) {
		t.Errorf("rotation angle = %v, want pi/2", angle)
	}
}

func TestPoseToTransform_RollRotation(t *testing.T) {
	// 90 degrees about X maps +Y to +Z.
	m := PoseToTransform([6]float64{math.Pi / 2, 0, 0, 0, 0, 0})
	got := m.Apply(Vec3{0, 1, 0})
	if !vecsEqual(got, Vec3{0, 0, 1}) {
		t.Errorf("roll rotation result = %+v", got)
	}
}

func TestCompose_Order(t *testing.T) {
	rot := PoseToTransform([6]float64{0, 0, math.Pi / 2, 0, 0, 0})
	trans := PoseToTransform([6]float64{0, 0, 0, 10, 0, 0})

	// Compose(trans, rot): rotate first, then translate.
	m := Compose(trans, rot)
	got := m.Apply(Vec3{1, 0, 0})
	if !vecsEqual(got, Vec3{10, 1, 0}) {
		t.Errorf("rotate-then-translate = %+v, want (10, 1, 0)", got)
	}

	// Compose(rot, trans): translate first, then rotate.
	m = Compose(rot, trans)
	got = m.Apply(Vec3{1, 0, 0})
	if !vecsEqual(got, Vec3{0, 11, 0}) {
		t.Errorf("translate-then-rotate = %+v, want (0, 11, 0)", got)
	}
}

func TestInvert_RoundTrip(t *testing.T) {
	m := PoseToTransform([6]float64{0.3, -0.2, 1.1, 12, -7, 3})
	inv := m.Invert()

	points := []Vec3{{0, 0, 0}, {1, 2, 3}, {-50, 10, 0.5}}
	for _, p := range points {
		back := inv.Apply(m.Apply(p))
		if !vecsEqual(back, p) {
			t.Errorf("invert round trip moved %+v to %+v", p, back)
		}
	}

	id := Compose(m, inv)
	if !vecsEqual(id.Apply(Vec3{5, 5, 5}), Vec3{5, 5, 5}) {
		t.Error("m * m^-1 is not identity")
	}
}

func TestRotate_IgnoresTranslation(t *testing.T) {
	m := PoseToTransform([6]float64{0, 0, math.Pi, 100, 100, 100})
	got := m.Rotate(Vec3{1, 0, 0})
	if !vecsEqual(got, Vec3{-1, 0, 0}) {
		t.Errorf("Rotate = %+v, want (-1, 0, 0)", got)
	}
}

func TestCentroid3(t *testing.T) {
	pts := []Vec3{{0, 0, 0}, {2, 0, 0}, {0, 4, 0}, {2, 4, 8}}
	c := Centroid3(pts)
	if !vecsEqual(c, Vec3{1, 2, 2}) {
		t.Errorf("centroid = %+v", c)
	}

	if !vecsEqual(Centroid3(nil), Vec3{}) {
		t.Error("empty centroid should be zero")
	}
}

func TestDistance3(t *testing.T) {
	if d := Distance3(Vec3{0, 0, 0}, Vec3{3, 4, 0}); !almostEqual(d, 5) {
		t.Errorf("distance = %v, want 5", d)
	}
}

func TestNormalize(t *testing.T) {
	n := Vec3{0, 3, 4}.Normalize()
	if !vecsEqual(n, Vec3{0, 0.6, 0.8}) {
		t.Errorf("normalize = %+v", n)
	}
	if !vecsEqual(Vec3{}.Normalize(), Vec3{}) {
		t.Error("zero vector should normalize to zero")
	}
}

func TestCross(t *testing.T) {
	got := Vec3{1, 0, 0}.Cross(Vec3{0, 1, 0})
	if !vecsEqual(got, Vec3{0, 0, 1}) {
		t.Errorf("x cross y = %+v, want z", got)
	}
}
