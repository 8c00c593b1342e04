package align

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// SensorColor defines the colors for one sensor's rendered elements.
type SensorColor struct {
	Cloud  color.NRGBA
	Origin color.NRGBA
}

// DefaultColors returns distinct colors for up to 4 sensors.
func DefaultColors() []SensorColor {
	return []SensorColor{
		{ // Reference - Blue
			Cloud:  color.NRGBA{100, 149, 237, 200},
			Origin: color.NRGBA{0, 0, 255, 255},
		},
		{ // Sensor 2 - Red
			Cloud:  color.NRGBA{255, 99, 71, 200},
			Origin: color.NRGBA{255, 0, 0, 255},
		},
		{ // Sensor 3 - Green
			Cloud:  color.NRGBA{144, 238, 144, 200},
			Origin: color.NRGBA{0, 255, 0, 255},
		},
		{ // Sensor 4 - Yellow
			Cloud:  color.NRGBA{255, 255, 150, 200},
			Origin: color.NRGBA{255, 215, 0, 255},
		},
	}
}

// CompositeRenderer renders multiple aligned clouds into a single top-down
// image. Points are projected onto the XY plane through each sensor's
// registered transform.
type CompositeRenderer struct {
	Clouds     map[string]*PointCloud
	Transforms map[string]RigidTransform
	Colors     map[string]SensorColor
	Reference  string
	Scale      float64 // Pixels per mm (default 0.05 = 20mm per pixel)
	Padding    int     // Padding around the image in pixels
}

// NewCompositeRenderer creates a renderer with default settings.
func NewCompositeRenderer(clouds map[string]*PointCloud, transforms map[string]RigidTransform, reference string) *CompositeRenderer {
	colors := DefaultColors()
	colorMap := make(map[string]SensorColor)

	// Assign colors deterministically: reference first, rest by sorted ID.
	ids := make([]string, 0, len(clouds))
	for id := range clouds {
		if id != reference {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	colorMap[reference] = colors[0]
	for i, id := range ids {
		colorMap[id] = colors[(i%3)+1]
	}

	return &CompositeRenderer{
		Clouds:     clouds,
		Transforms: transforms,
		Colors:     colorMap,
		Reference:  reference,
		Scale:      0.05,
		Padding:    30,
	}
}

// HasDrawableContent returns true if any cloud contains points.
func (r *CompositeRenderer) HasDrawableContent() bool {
	for _, c := range r.Clouds {
		if len(c.Points) > 0 {
			return true
		}
	}
	return false
}

// worldBounds returns the XY bounding box of all transformed clouds.
func (r *CompositeRenderer) worldBounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.MaxFloat64, math.MaxFloat64
	maxX, maxY = -math.MaxFloat64, -math.MaxFloat64

	for id, c := range r.Clouds {
		transform := r.Transforms[id]
		for _, p := range c.Points {
			wp := transform.Apply(p)
			minX = math.Min(minX, wp.X)
			minY = math.Min(minY, wp.Y)
			maxX = math.Max(maxX, wp.X)
			maxY = math.Max(maxY, wp.Y)
		}
	}
	return
}

// Render produces the composite top-down image.
func (r *CompositeRenderer) Render() *image.RGBA {
	minX, minY, maxX, maxY := r.worldBounds()
	if minX > maxX {
		return image.NewRGBA(image.Rect(0, 0, 64, 64))
	}

	width := int((maxX-minX)*r.Scale) + 2*r.Padding
	height := int((maxY-minY)*r.Scale) + 2*r.Padding
	if width < 64 {
		width = 64
	}
	if height < 64 {
		height = 64
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	// White background
	for i := range img.Pix {
		img.Pix[i] = 255
	}

	// Draw the reference cloud last so it stays visible on top.
	ids := make([]string, 0, len(r.Clouds))
	for id := range r.Clouds {
		if id != r.Reference {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	ids = append(ids, r.Reference)

	for _, id := range ids {
		c, ok := r.Clouds[id]
		if !ok {
			continue
		}
		transform := r.Transforms[id]
		sc := r.Colors[id]

		for _, p := range c.Points {
			wp := transform.Apply(p)
			px := int((wp.X-minX)*r.Scale) + r.Padding
			// Flip Y so +Y is up in the image
			py := height - (int((wp.Y-minY)*r.Scale) + r.Padding)
			setPixelSafe(img, px, py, sc.Cloud)
		}

		// Sensor origin marker
		origin := transform.Apply(Vec3{})
		ox := int((origin.X-minX)*r.Scale) + r.Padding
		oy := height - (int((origin.Y-minY)*r.Scale) + r.Padding)
		drawMarker(img, ox, oy, sc.Origin)
		drawLabel(img, ox+6, oy-6, id, sc.Origin)
	}

	return img
}

// RenderToFile renders the composite and writes it as a PNG.
func (r *CompositeRenderer) RenderToFile(path string) error {
	img := r.Render()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}

func setPixelSafe(img *image.RGBA, x, y int, c color.NRGBA) {
	if x < 0 || y < 0 || x >= img.Rect.Dx() || y >= img.Rect.Dy() {
		return
	}
	img.Set(x, y, c)
}

// drawMarker draws a small filled cross at (x, y).
func drawMarker(img *image.RGBA, x, y int, c color.NRGBA) {
	for d := -3; d <= 3; d++ {
		setPixelSafe(img, x+d, y, c)
		setPixelSafe(img, x, y+d, c)
	}
}

// drawLabel draws text at (x, y) using the basic 7x13 bitmap font.
func drawLabel(img *image.RGBA, x, y int, text string, c color.NRGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
