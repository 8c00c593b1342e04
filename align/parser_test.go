package align

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempCloud(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCloud_XYZ(t *testing.T) {
	path := writeTempCloud(t, "scan.xyz", `
# test cloud
1.0 2.0 3.0
4.5 -5.5 6.5

7 8 9
`)
	cloud, err := LoadCloud(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cloud.Points) != 3 {
		t.Fatalf("got %d points, want 3", len(cloud.Points))
	}
	if !vecsEqual(cloud.Points[1], Vec3{4.5, -5.5, 6.5}) {
		t.Errorf("point 1 = %+v", cloud.Points[1])
	}
	if cloud.HasNormals() {
		t.Error("3-column file should not produce normals")
	}
}

func TestLoadCloud_XYZWithNormals(t *testing.T) {
	path := writeTempCloud(t, "scan.txt", "1 2 3 0 0 1\n4 5 6 0 1 0\n")
	cloud, err := LoadCloud(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cloud.HasNormals() {
		t.Fatal("6-column file should produce normals")
	}
	if !vecsEqual(cloud.Normals[1], Vec3{0, 1, 0}) {
		t.Errorf("normal 1 = %+v", cloud.Normals[1])
	}
}

func TestParseXYZ_InconsistentColumns(t *testing.T) {
	path := writeTempCloud(t, "bad.xyz", "1 2 3\n1 2 3 0 0 1\n")
	if _, err := LoadCloud(path); err == nil {
		t.Error("mixed column counts should error")
	}
}

func TestParseXYZ_BadNumber(t *testing.T) {
	path := writeTempCloud(t, "bad.xyz", "1 two 3\n")
	if _, err := LoadCloud(path); err == nil {
		t.Error("non-numeric field should error")
	}
}

func TestParseXYZ_Empty(t *testing.T) {
	path := writeTempCloud(t, "empty.xyz", "# nothing here\n")
	if _, err := LoadCloud(path); err == nil {
		t.Error("file without points should error")
	}
}

func TestLoadCloud_UnsupportedExtension(t *testing.T) {
	path := writeTempCloud(t, "scan.pcd", "1 2 3\n")
	if _, err := LoadCloud(path); err == nil {
		t.Error("unsupported extension should error")
	}
}

func TestLoadCloud_PLY(t *testing.T) {
	path := writeTempCloud(t, "scan.ply", `ply
format ascii 1.0
comment generated for test
element vertex 2
property float x
property float y
property float z
property float nx
property float ny
property float nz
end_header
1 2 3 0 0 1
4 5 6 1 0 0
`)
	cloud, err := LoadCloud(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cloud.Points) != 2 || !cloud.HasNormals() {
		t.Fatalf("got %d points, normals=%v", len(cloud.Points), cloud.HasNormals())
	}
	if !vecsEqual(cloud.Points[0], Vec3{1, 2, 3}) || !vecsEqual(cloud.Normals[1], Vec3{1, 0, 0}) {
		t.Errorf("parsed %+v / %+v", cloud.Points[0], cloud.Normals[1])
	}
}

func TestLoadCloud_PLYPropertyOrder(t *testing.T) {
	// z before x: values must land by property name, not position.
	path := writeTempCloud(t, "scan.ply", `ply
format ascii 1.0
element vertex 1
property float z
property float x
property float y
end_header
3 1 2
`)
	cloud, err := LoadCloud(path)
	if err != nil {
		t.Fatal(err)
	}
	if !vecsEqual(cloud.Points[0], Vec3{1, 2, 3}) {
		t.Errorf("point = %+v, want (1, 2, 3)", cloud.Points[0])
	}
}

func TestLoadCloud_PLYErrors(t *testing.T) {
	cases := map[string]string{
		"not ply":       "xyz\n1 2 3\n",
		"binary format": "ply\nformat binary_little_endian 1.0\nelement vertex 1\nproperty float x\nproperty float y\nproperty float z\nend_header\n",
		"no end_header": "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\n",
		"truncated":     "ply\nformat ascii 1.0\nelement vertex 3\nproperty float x\nproperty float y\nproperty float z\nend_header\n1 2 3\n",
		"missing xyz":   "ply\nformat ascii 1.0\nelement vertex 1\nproperty float a\nend_header\n1\n",
	}
	for name, content := range cases {
		t.Run(strings.ReplaceAll(name, " ", "_"), func(t *testing.T) {
			path := writeTempCloud(t, "bad.ply", content)
			if _, err := LoadCloud(path); err == nil {
				t.Errorf("%s should error", name)
			}
		})
	}
}

func TestDecodeCloudPayload(t *testing.T) {
	cloud, err := DecodeCloudPayload([]byte("10 20 30\n40 50 60\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cloud.Points) != 2 {
		t.Fatalf("got %d points, want 2", len(cloud.Points))
	}

	if _, err := DecodeCloudPayload([]byte("")); err == nil {
		t.Error("empty payload should error")
	}
}
