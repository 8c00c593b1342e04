package align

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// DefaultFootprintSimplifyTolerance is the Douglas-Peucker tolerance (mm)
// applied to footprint rings before export.
const DefaultFootprintSimplifyTolerance = 50.0

// Footprint is the 2D outline of one aligned sensor cloud, projected onto
// the XY (floor) plane in world coordinates.
type Footprint struct {
	SensorID string   `json:"sensorId"`
	Ring     orb.Ring `json:"-"`
	Area     float64  `json:"area"`
}

// ComputeFootprint projects a cloud through its registered transform onto
// the XY plane and returns the simplified convex outline.
func ComputeFootprint(sensorID string, cloud *PointCloud, transform RigidTransform, simplifyTolerance float64) (*Footprint, error) {
	if len(cloud.Points) < 3 {
		return nil, fmt.Errorf("need at least 3 points for a footprint, have %d", len(cloud.Points))
	}

	projected := make([]orb.Point, len(cloud.Points))
	for i, p := range cloud.Points {
		wp := transform.Apply(p)
		projected[i] = orb.Point{wp.X, wp.Y}
	}

	ring := convexHull(projected)
	if len(ring) < 4 { // closed ring: first == last
		return nil, fmt.Errorf("degenerate footprint for %s (collinear points)", sensorID)
	}

	if simplifyTolerance > 0 {
		ring = simplify.DouglasPeucker(simplifyTolerance).Ring(ring)
	}

	return &Footprint{
		SensorID: sensorID,
		Ring:     ring,
		Area:     ringArea(ring),
	}, nil
}

// convexHull computes the convex hull of pts as a closed CCW ring using the
// Andrew monotone chain.
func convexHull(pts []orb.Point) orb.Ring {
	if len(pts) < 3 {
		return nil
	}

	sorted := make([]orb.Point, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	var lower []orb.Point
	for _, p := range sorted {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}

	var upper []orb.Point
	for i := len(sorted) - 1; i >= 0; i-- {
		p := sorted[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	hull := append(lower[:len(lower)-1], upper[:len(upper)-1]...)
	hull = append(hull, hull[0]) // close the ring
	return orb.Ring(hull)
}

// ringArea returns the absolute area enclosed by a closed ring (shoelace).
func ringArea(r orb.Ring) float64 {
	area := 0.0
	for i := 0; i < len(r)-1; i++ {
		area += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	if area < 0 {
		area = -area
	}
	return area / 2
}

// geoJSONGeometry is a minimal GeoJSON geometry for footprint export.
type geoJSONGeometry struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// geoJSONFeature is a minimal GeoJSON feature.
type geoJSONFeature struct {
	Type       string                 `json:"type"`
	Geometry   geoJSONGeometry        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// geoJSONFeatureCollection is a minimal GeoJSON feature collection.
type geoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

// FootprintsToGeoJSON exports footprints as a GeoJSON FeatureCollection of
// polygons, one per sensor, with area and provenance properties.
func FootprintsToGeoJSON(footprints []*Footprint, reference string) ([]byte, error) {
	fc := geoJSONFeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]geoJSONFeature, 0, len(footprints)),
	}

	for _, fp := range footprints {
		coords := make([][2]float64, len(fp.Ring))
		for i, p := range fp.Ring {
			coords[i] = [2]float64{p[0], p[1]}
		}
		fc.Features = append(fc.Features, geoJSONFeature{
			Type: "Feature",
			Geometry: geoJSONGeometry{
				Type:        "Polygon",
				Coordinates: [][][2]float64{coords},
			},
			Properties: map[string]interface{}{
				"sensorId":    fp.SensorID,
				"area":        fp.Area,
				"isReference": fp.SensorID == reference,
				"generatedAt": time.Now().Unix(),
			},
		})
	}

	return json.MarshalIndent(fc, "", "  ")
}
