package align

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha.
// The canvas library expects premultiplied RGBA.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// VectorRenderer renders aligned cloud footprints as vector graphics.
type VectorRenderer struct {
	Footprints  []*Footprint
	Colors      map[string]SensorColor
	Reference   string
	Padding     float64           // Padding in world units (mm)
	Resolution  canvas.Resolution // Resolution for PNG output
	GridSpacing float64           // Grid line spacing in mm; 0 disables the grid
}

// NewVectorRenderer creates a vector renderer with default settings.
func NewVectorRenderer(footprints []*Footprint, reference string) *VectorRenderer {
	colors := DefaultColors()
	colorMap := make(map[string]SensorColor)

	i := 0
	for _, fp := range footprints {
		if fp.SensorID == reference {
			colorMap[fp.SensorID] = colors[0]
		} else {
			colorMap[fp.SensorID] = colors[(i%3)+1]
			i++
		}
	}

	return &VectorRenderer{
		Footprints:  footprints,
		Colors:      colorMap,
		Reference:   reference,
		Padding:     500.0,
		Resolution:  canvas.DPMM(0.02), // 0.02 px/mm = 50mm per pixel
		GridSpacing: 1000.0,
	}
}

// canvasRenderer is the part of the svg and rasterizer renderers we use.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the footprints as an SVG to the provided writer.
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, maxX, maxY := r.bounds()
	width := (maxX - minX) + 2*r.Padding
	height := (maxY - minY) + 2*r.Padding

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the footprints as a rasterized PNG to the provided writer.
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, maxX, maxY := r.bounds()
	width := (maxX - minX) + 2*r.Padding
	height := (maxY - minY) + 2*r.Padding

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, width, height)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.MaxFloat64, math.MaxFloat64
	maxX, maxY = -math.MaxFloat64, -math.MaxFloat64
	for _, fp := range r.Footprints {
		for _, p := range fp.Ring {
			minX = math.Min(minX, p[0])
			minY = math.Min(minY, p[1])
			maxX = math.Max(maxX, p[0])
			maxY = math.Max(maxY, p[1])
		}
	}
	if minX > maxX {
		minX, minY, maxX, maxY = 0, 0, 1000, 1000
	}
	return
}

// renderToCanvas renders the footprints (shared logic for SVG and PNG).
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, width, height float64) {
	// White background
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(x, y float64) (float64, float64) {
		return (x - minX) + r.Padding, (y - minY) + r.Padding
	}

	// Grid lines
	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: color.RGBA{220, 220, 220, 255}}
		gridStyle.StrokeWidth = 5.0

		for x := math.Floor(minX/r.GridSpacing) * r.GridSpacing; x <= minX+width; x += r.GridSpacing {
			cx, _ := toCanvas(x, 0)
			p := &canvas.Path{}
			p.MoveTo(cx, 0)
			p.LineTo(cx, height)
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
		for y := math.Floor(minY/r.GridSpacing) * r.GridSpacing; y <= minY+height; y += r.GridSpacing {
			_, cy := toCanvas(0, y)
			p := &canvas.Path{}
			p.MoveTo(0, cy)
			p.LineTo(width, cy)
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
	}

	// Footprint polygons: translucent fill with a solid outline.
	for _, fp := range r.Footprints {
		sc := r.Colors[fp.SensorID]

		fillStyle := canvas.DefaultStyle
		fillStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(color.NRGBA{sc.Cloud.R, sc.Cloud.G, sc.Cloud.B, 90})}
		fillStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(sc.Origin)}
		fillStyle.StrokeWidth = 20.0

		p := &canvas.Path{}
		for i, pt := range fp.Ring {
			cx, cy := toCanvas(pt[0], pt[1])
			if i == 0 {
				p.MoveTo(cx, cy)
			} else {
				p.LineTo(cx, cy)
			}
		}
		p.Close()
		renderer.RenderPath(p, fillStyle, canvas.Identity)
	}
}
