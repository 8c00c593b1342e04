package align

import (
	"math"
	"math/rand"
	"testing"
)

// createRoomCloud builds a cloud sampled from three orthogonal planes (floor
// plus two walls) with analytic normals. The three plane normals span R^3, so
// a point-to-plane fit is fully constrained in all six degrees of freedom.
func createRoomCloud(gridSteps int, extent float64) *PointCloud {
	cloud := &PointCloud{}
	step := extent / float64(gridSteps)

	for i := 0; i < gridSteps; i++ {
		for j := 0; j < gridSteps; j++ {
			u := float64(i)*step + step/2
			v := float64(j)*step + step/2

			// Floor z=0, wall x=0, wall y=0.
			cloud.Points = append(cloud.Points, Vec3{u, v, 0})
			cloud.Normals = append(cloud.Normals, Vec3{0, 0, 1})

			cloud.Points = append(cloud.Points, Vec3{0, u, v})
			cloud.Normals = append(cloud.Normals, Vec3{1, 0, 0})

			cloud.Points = append(cloud.Points, Vec3{u, 0, v})
			cloud.Normals = append(cloud.Normals, Vec3{0, 1, 0})
		}
	}
	return cloud
}

func TestICP_Identity(t *testing.T) {
	cloud := createRoomCloud(10, 1000)

	result, err := RunPointToPlaneICP(cloud, cloud, IdentityTransform(), DefaultICPConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Converged {
		t.Error("identity registration should converge")
	}
	if result.RMSE > 1e-6 {
		t.Errorf("identity RMSE = %v, want ~0", result.RMSE)
	}
}

func TestICP_RecoverTranslation(t *testing.T) {
	target := createRoomCloud(10, 1000)
	shift := Vec3{5, -3, 2}

	source := &PointCloud{Points: make([]Vec3, len(target.Points))}
	for i, p := range target.Points {
		source.Points[i] = p.Sub(shift)
	}

	result, err := RunPointToPlaneICP(source, target, IdentityTransform(), DefaultICPConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Converged {
		t.Error("translation registration should converge")
	}
	if !almostEqualEps(result.Transform.T.X, shift.X, 0.1) ||
		!almostEqualEps(result.Transform.T.Y, shift.Y, 0.1) ||
		!almostEqualEps(result.Transform.T.Z, shift.Z, 0.1) {
		t.Errorf("recovered translation %+v, want %+v", result.Transform.T, shift)
	}
}

func TestICP_RecoverRotation(t *testing.T) {
	target := createRoomCloud(10, 1000)
	angle := 0.02 // radians about Z
	misalign := PoseToTransform([6]float64{0, 0, -angle, 0, 0, 0})

	source := &PointCloud{Points: misalign.ApplyAll(target.Points)}

	result, err := RunPointToPlaneICP(source, target, IdentityTransform(), DefaultICPConfig())
	if err != nil {
		t.Fatal(err)
	}
	if got := result.Transform.RotationAngle(); !almostEqualEps(got, angle, 0.005) {
		t.Errorf("recovered rotation angle %v, want %v", got, angle)
	}
	if result.RMSE > 1.0 {
		t.Errorf("post-alignment RMSE = %v", result.RMSE)
	}
}

// With off-surface outliers in the source, a redescending kernel keeps the
// translation estimate accurate where plain L2 is pulled off.
func TestICP_TukeyRejectsOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	target := createRoomCloud(10, 1000)
	shift := Vec3{4, 0, 0}

	source := &PointCloud{Points: make([]Vec3, 0, len(target.Points)+30)}
	for _, p := range target.Points {
		source.Points = append(source.Points, p.Sub(shift))
	}
	// Floating clutter above the floor, within correspondence range.
	for i := 0; i < 30; i++ {
		source.Points = append(source.Points, Vec3{
			X: rng.Float64() * 1000,
			Y: rng.Float64() * 1000,
			Z: 100 + rng.Float64()*200,
		})
	}

	config := DefaultICPConfig()
	config.Kernel = RobustKernel{Method: Tukey, ScalingParameter: 20}

	result, err := RunPointToPlaneICP(source, target, IdentityTransform(), config)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqualEps(result.Transform.T.X, shift.X, 0.5) {
		t.Errorf("robust translation X = %v, want %v", result.Transform.T.X, shift.X)
	}
	if math.Abs(result.Transform.T.Z) > 1.0 {
		t.Errorf("outliers pulled the solution off the floor: Tz = %v", result.Transform.T.Z)
	}
}

func TestICP_ParallelMatchesSequential(t *testing.T) {
	target := createRoomCloud(19, 1000) // 1083 correspondences, above the parallel threshold
	shift := Vec3{3, 2, -1}
	source := &PointCloud{Points: make([]Vec3, len(target.Points))}
	for i, p := range target.Points {
		source.Points[i] = p.Sub(shift)
	}

	seqConfig := DefaultICPConfig()
	seqConfig.Kernel = RobustKernel{Method: Huber, ScalingParameter: 5}

	parConfig := seqConfig
	parConfig.Target = ExecParallel

	seq, err := RunPointToPlaneICP(source, target, IdentityTransform(), seqConfig)
	if err != nil {
		t.Fatal(err)
	}
	par, err := RunPointToPlaneICP(source, target, IdentityTransform(), parConfig)
	if err != nil {
		t.Fatal(err)
	}

	// Chunked accumulation reorders floating-point sums, so allow a small
	// numerical difference but nothing beyond it.
	if !almostEqualEps(par.Transform.T.X, seq.Transform.T.X, 1e-6) ||
		!almostEqualEps(par.Transform.T.Y, seq.Transform.T.Y, 1e-6) ||
		!almostEqualEps(par.Transform.T.Z, seq.Transform.T.Z, 1e-6) {
		t.Errorf("parallel transform %+v differs from sequential %+v", par.Transform.T, seq.Transform.T)
	}
	if !almostEqualEps(par.RMSE, seq.RMSE, 1e-9) {
		t.Errorf("parallel RMSE %v differs from sequential %v", par.RMSE, seq.RMSE)
	}
}

func TestICP_EmptyCloud(t *testing.T) {
	cloud := createRoomCloud(4, 100)
	if _, err := RunPointToPlaneICP(&PointCloud{}, cloud, IdentityTransform(), DefaultICPConfig()); err == nil {
		t.Error("empty source should error")
	}
	if _, err := RunPointToPlaneICP(cloud, &PointCloud{}, IdentityTransform(), DefaultICPConfig()); err == nil {
		t.Error("empty target should error")
	}
}

func TestICP_TargetWithoutNormals(t *testing.T) {
	source := createRoomCloud(4, 100)
	target := &PointCloud{Points: source.Points}

	if _, err := RunPointToPlaneICP(source, target, IdentityTransform(), DefaultICPConfig()); err == nil {
		t.Error("target without normals should error")
	}
}

// The kernel is resolved once, up front: a bad kernel must fail before any
// correspondence search happens.
func TestICP_UnresolvableKernel(t *testing.T) {
	cloud := createRoomCloud(4, 100)
	config := DefaultICPConfig()
	config.Kernel.Method = Method(99)

	_, err := RunPointToPlaneICP(cloud, cloud, IdentityTransform(), config)
	if err == nil {
		t.Fatal("unknown kernel method should abort the run")
	}
}

func TestICP_InitialGuessPreserved(t *testing.T) {
	target := createRoomCloud(10, 1000)
	shift := Vec3{40, 25, 0}
	source := &PointCloud{Points: make([]Vec3, len(target.Points))}
	for i, p := range target.Points {
		source.Points[i] = p.Sub(shift)
	}

	// Start close to the answer; the run should refine, not discard, it.
	initial := IdentityTransform()
	initial.T = Vec3{38, 24, 0}

	result, err := RunPointToPlaneICP(source, target, initial, DefaultICPConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqualEps(result.Transform.T.X, shift.X, 1.0) ||
		!almostEqualEps(result.Transform.T.Y, shift.Y, 1.0) {
		t.Errorf("recovered translation %+v, want %+v", result.Transform.T, shift)
	}
}
