package align

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTempConfig(t, `
mqtt:
  broker: tcp://localhost:1883
  publishPrefix: cloudalign
reference: lidar-north
sensors:
  - id: lidar-north
    topic: sensors/lidar-north/cloud
  - id: lidar-south
    cloudFile: south.xyz
    poseHint: [0, 0, 1.57, 1000, 0, 0]
icp:
  maxIterations: 50
  parallel: true
  kernel:
    method: tukey
    scalingParameter: 25
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(config.Sensors) != 2 {
		t.Fatalf("got %d sensors, want 2", len(config.Sensors))
	}
	if config.GetReference() != "lidar-north" {
		t.Errorf("reference = %q", config.GetReference())
	}

	south := config.GetSensorByID("lidar-south")
	if south == nil {
		t.Fatal("GetSensorByID(lidar-south) = nil")
	}
	if south.PoseHint == nil || south.PoseHint[3] != 1000 {
		t.Errorf("pose hint = %v", south.PoseHint)
	}
	if config.GetSensorByID("nope") != nil {
		t.Error("unknown sensor should return nil")
	}

	icp, err := config.ICP.ToICPConfig()
	if err != nil {
		t.Fatal(err)
	}
	if icp.MaxIterations != 50 {
		t.Errorf("maxIterations = %d", icp.MaxIterations)
	}
	if icp.Target != ExecParallel {
		t.Error("parallel: true should select the parallel target")
	}
	if icp.Kernel.Method != Tukey || icp.Kernel.ScalingParameter != 25 {
		t.Errorf("kernel = %+v", icp.Kernel)
	}
	// Unset options keep defaults.
	if icp.MaxCorrespondDist != DefaultICPConfig().MaxCorrespondDist {
		t.Errorf("maxCorrespondDist = %v", icp.MaxCorrespondDist)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should error")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"no sensors":        "mqtt:\n  broker: tcp://x:1883\nsensors: []\n",
		"sensor without id": "sensors:\n  - topic: a/b\n",
		"sensor without source": `
sensors:
  - id: s1
`,
		"bad kernel method": `
sensors:
  - id: s1
    topic: a/b
icp:
  kernel:
    method: bogus
`,
		"unknown reference": `
reference: ghost
sensors:
  - id: s1
    topic: a/b
`,
		"malformed yaml": "sensors: [\n",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeTempConfig(t, content)
			if _, err := LoadConfig(path); err == nil {
				t.Errorf("%s should fail validation", name)
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	config := &Config{
		Reference: "a",
		Sensors: []SensorConfig{
			{ID: "a", Topic: "sensors/a"},
			{ID: "b", CloudFile: "b.ply"},
		},
		ICP: ICPOptions{Kernel: KernelConfig{Method: "cauchy", ScalingParameter: 2}},
	}

	if err := SaveConfig(path, config); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Reference != "a" || len(loaded.Sensors) != 2 {
		t.Errorf("round trip lost data: %+v", loaded)
	}
	if loaded.ICP.Kernel.Method != "cauchy" {
		t.Errorf("kernel method = %q", loaded.ICP.Kernel.Method)
	}
}

func TestICPOptions_DefaultKernel(t *testing.T) {
	icp, err := ICPOptions{}.ToICPConfig()
	if err != nil {
		t.Fatal(err)
	}
	if icp.Kernel.Method != L2 || icp.Kernel.ScalingParameter != 1 {
		t.Errorf("default kernel = %+v, want L2 s=1", icp.Kernel)
	}
	if icp.Target != ExecSequential {
		t.Error("default target should be sequential")
	}
}
