package align

import "math"

// RigidTransform is a rigid-body transform: x' = R*x + T.
// R is row-major.
type RigidTransform struct {
	R [3][3]float64 `json:"r"`
	T Vec3          `json:"t"`
}

// IdentityTransform returns the identity rigid transform.
func IdentityTransform() RigidTransform {
	return RigidTransform{R: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// Apply transforms a point.
func (m RigidTransform) Apply(p Vec3) Vec3 {
	return Vec3{
		X: m.R[0][0]*p.X + m.R[0][1]*p.Y + m.R[0][2]*p.Z + m.T.X,
		Y: m.R[1][0]*p.X + m.R[1][1]*p.Y + m.R[1][2]*p.Z + m.T.Y,
		Z: m.R[2][0]*p.X + m.R[2][1]*p.Y + m.R[2][2]*p.Z + m.T.Z,
	}
}

// Rotate applies only the rotation component, for directions and normals.
func (m RigidTransform) Rotate(v Vec3) Vec3 {
	return Vec3{
		X: m.R[0][0]*v.X + m.R[0][1]*v.Y + m.R[0][2]*v.Z,
		Y: m.R[1][0]*v.X + m.R[1][1]*v.Y + m.R[1][2]*v.Z,
		Z: m.R[2][0]*v.X + m.R[2][1]*v.Y + m.R[2][2]*v.Z,
	}
}

// ApplyAll transforms a slice of points into a new slice.
func (m RigidTransform) ApplyAll(points []Vec3) []Vec3 {
	result := make([]Vec3, len(points))
	for i, p := range points {
		result[i] = m.Apply(p)
	}
	return result
}

// Compose returns m1 * m2: applying the result is equivalent to applying m2
// first, then m1.
func Compose(m1, m2 RigidTransform) RigidTransform {
	var out RigidTransform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.R[i][j] = m1.R[i][0]*m2.R[0][j] + m1.R[i][1]*m2.R[1][j] + m1.R[i][2]*m2.R[2][j]
		}
	}
	out.T = m1.Apply(m2.T)
	return out
}

// Invert returns the inverse transform. For a rigid transform the inverse
// rotation is the transpose and the inverse translation is -Rᵀ*T.
func (m RigidTransform) Invert() RigidTransform {
	var out RigidTransform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.R[i][j] = m.R[j][i]
		}
	}
	t := out.Rotate(m.T)
	out.T = Vec3{-t.X, -t.Y, -t.Z}
	return out
}

// PoseToTransform converts a 6-vector pose [rx ry rz tx ty tz] (rotations in
// radians) to a rigid transform with R = Rz(rz)*Ry(ry)*Rx(rx).
func PoseToTransform(pose [6]float64) RigidTransform {
	sx, cx := math.Sincos(pose[0])
	sy, cy := math.Sincos(pose[1])
	sz, cz := math.Sincos(pose[2])

	return RigidTransform{
		R: [3][3]float64{
			{cz * cy, cz*sy*sx - sz*cx, cz*sy*cx + sz*sx},
			{sz * cy, sz*sy*sx + cz*cx, sz*sy*cx - cz*sx},
			{-sy, cy * sx, cy * cx},
		},
		T: Vec3{pose[3], pose[4], pose[5]},
	}
}

// RotationAngle extracts the total rotation angle of the transform in
// radians, from the trace of R.
func (m RigidTransform) RotationAngle() float64 {
	trace := m.R[0][0] + m.R[1][1] + m.R[2][2]
	c := (trace - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// Distance3 returns the Euclidean distance between two points.
func Distance3(a, b Vec3) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	dz := b.Z - a.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Centroid3 returns the center of mass of a set of points.
func Centroid3(points []Vec3) Vec3 {
	if len(points) == 0 {
		return Vec3{}
	}
	var sum Vec3
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Scale(1 / float64(len(points)))
}

// Normalize returns v scaled to unit length, or the zero vector when v is
// degenerate.
func (v Vec3) Normalize() Vec3 {
	n := math.Sqrt(v.Dot(v))
	if n < 1e-12 {
		return Vec3{}
	}
	return v.Scale(1 / n)
}
