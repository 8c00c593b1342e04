package align

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func rendererFixture() (map[string]*PointCloud, map[string]RigidTransform) {
	clouds := map[string]*PointCloud{
		"ref": {Points: []Vec3{{0, 0, 0}, {1000, 0, 0}, {0, 1000, 0}}},
		"s2":  {Points: []Vec3{{500, 500, 0}, {600, 600, 0}}},
	}
	shift := IdentityTransform()
	shift.T = Vec3{100, 0, 0}
	transforms := map[string]RigidTransform{
		"ref": IdentityTransform(),
		"s2":  shift,
	}
	return clouds, transforms
}

func TestNewCompositeRenderer_ColorAssignment(t *testing.T) {
	clouds, transforms := rendererFixture()
	r := NewCompositeRenderer(clouds, transforms, "ref")

	if r.Colors["ref"] != DefaultColors()[0] {
		t.Error("reference should get the first color")
	}
	if r.Colors["s2"] == r.Colors["ref"] {
		t.Error("non-reference sensor should get a distinct color")
	}

	// Assignment is deterministic across constructions.
	r2 := NewCompositeRenderer(clouds, transforms, "ref")
	for id := range clouds {
		if r.Colors[id] != r2.Colors[id] {
			t.Errorf("color for %s differs between constructions", id)
		}
	}
}

func TestCompositeRenderer_HasDrawableContent(t *testing.T) {
	clouds, transforms := rendererFixture()
	r := NewCompositeRenderer(clouds, transforms, "ref")
	if !r.HasDrawableContent() {
		t.Error("fixture has points")
	}

	empty := NewCompositeRenderer(map[string]*PointCloud{"ref": {}}, nil, "ref")
	if empty.HasDrawableContent() {
		t.Error("empty clouds have nothing to draw")
	}
}

func TestCompositeRenderer_Render(t *testing.T) {
	clouds, transforms := rendererFixture()
	r := NewCompositeRenderer(clouds, transforms, "ref")

	img := r.Render()
	if img == nil {
		t.Fatal("Render returned nil")
	}
	bounds := img.Bounds()
	if bounds.Dx() < 64 || bounds.Dy() < 64 {
		t.Errorf("image too small: %v", bounds)
	}

	// Background is white; at least one pixel must differ from it.
	found := false
	for y := bounds.Min.Y; y < bounds.Max.Y && !found; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			if cr != 0xffff || cg != 0xffff || cb != 0xffff {
				found = true
				break
			}
		}
	}
	if !found {
		t.Error("rendered image is entirely white")
	}
}

func TestCompositeRenderer_RenderEmpty(t *testing.T) {
	r := NewCompositeRenderer(map[string]*PointCloud{"ref": {}}, map[string]RigidTransform{}, "ref")
	img := r.Render()
	if img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Errorf("empty render should be the 64x64 placeholder, got %v", img.Bounds())
	}
}

func TestCompositeRenderer_RenderToFile(t *testing.T) {
	clouds, transforms := rendererFixture()
	r := NewCompositeRenderer(clouds, transforms, "ref")

	path := filepath.Join(t.TempDir(), "composite.png")
	if err := r.RenderToFile(path); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("PNG file is empty")
	}
}

func TestSetPixelSafe_OutOfBounds(t *testing.T) {
	r := NewCompositeRenderer(map[string]*PointCloud{"ref": {}}, nil, "ref")
	img := r.Render()

	// Must not panic.
	setPixelSafe(img, -1, 0, color.NRGBA{})
	setPixelSafe(img, 0, -1, color.NRGBA{})
	setPixelSafe(img, 10000, 10000, color.NRGBA{})
	drawMarker(img, -5, -5, color.NRGBA{255, 0, 0, 255})
}
