package main

import (
	"encoding/json"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/kwv/cloudalign/align"
)

// newHTTPServer creates an HTTP server with all endpoints.
func newHTTPServer(stateTracker *align.StateTracker, cache *align.PoseCache, config *align.Config, refID string) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasClouds bool      `json:"hasClouds"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasClouds: stateTracker.HasClouds(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Aligned composite endpoint (color-coded raster)
	mux.HandleFunc("/composite.png", func(w http.ResponseWriter, r *http.Request) {
		clouds := stateTracker.GetClouds()
		if len(clouds) == 0 {
			http.Error(w, "No clouds available", http.StatusServiceUnavailable)
			return
		}

		transforms := buildTransforms(clouds, stateTracker, cache)
		effectiveRef := effectiveReference(refID, clouds)

		renderer := align.NewCompositeRenderer(clouds, transforms, effectiveRef)
		if !renderer.HasDrawableContent() {
			log.Printf("Warning: clouds present but no drawable content; endpoint=/composite.png")
			http.Error(w, "No drawable cloud content", http.StatusServiceUnavailable)
			return
		}

		img := renderer.Render()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, img); err != nil {
			log.Printf("Error encoding composite PNG: %v", err)
		}
	})

	// Aligned footprint outlines as SVG
	mux.HandleFunc("/composite.svg", func(w http.ResponseWriter, r *http.Request) {
		clouds := stateTracker.GetClouds()
		if len(clouds) == 0 {
			http.Error(w, "No clouds available", http.StatusServiceUnavailable)
			return
		}

		transforms := buildTransforms(clouds, stateTracker, cache)
		effectiveRef := effectiveReference(refID, clouds)

		footprints := computeFootprints(cloudsForFootprints(clouds), transforms, config.GetFootprintTolerance())
		if len(footprints) == 0 {
			http.Error(w, "No footprints available", http.StatusServiceUnavailable)
			return
		}

		vectorRenderer := align.NewVectorRenderer(footprints, effectiveRef)
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := vectorRenderer.RenderToSVG(w); err != nil {
			log.Printf("Error encoding composite SVG: %v", err)
		}
	})

	// Registered poses as JSON
	mux.HandleFunc("/poses.json", func(w http.ResponseWriter, r *http.Request) {
		states := stateTracker.GetStates()

		response := struct {
			Reference string                       `json:"reference"`
			Sensors   map[string]*align.LiveSensor `json:"sensors"`
			Timestamp int64                        `json:"timestamp"`
		}{
			Reference: refID,
			Sensors:   states,
			Timestamp: time.Now().Unix(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			log.Printf("Error encoding poses JSON: %v", err)
		}
	})

	// Aligned footprints as GeoJSON
	mux.HandleFunc("/footprints.geojson", func(w http.ResponseWriter, r *http.Request) {
		clouds := stateTracker.GetClouds()
		if len(clouds) == 0 {
			http.Error(w, "No clouds available", http.StatusServiceUnavailable)
			return
		}

		transforms := buildTransforms(clouds, stateTracker, cache)
		effectiveRef := effectiveReference(refID, clouds)

		footprints := computeFootprints(cloudsForFootprints(clouds), transforms, config.GetFootprintTolerance())
		if len(footprints) == 0 {
			http.Error(w, "No footprints available", http.StatusServiceUnavailable)
			return
		}

		data, err := align.FootprintsToGeoJSON(footprints, effectiveRef)
		if err != nil {
			log.Printf("Error encoding footprints GeoJSON: %v", err)
			http.Error(w, "Encoding error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(data); err != nil {
			log.Printf("Error writing footprints GeoJSON: %v", err)
		}
	})

	return mux
}

// buildTransforms resolves the transform for each cloud, preferring live
// registered poses over the on-disk cache.
func buildTransforms(clouds map[string]*align.PointCloud, stateTracker *align.StateTracker, cache *align.PoseCache) map[string]align.RigidTransform {
	states := stateTracker.GetStates()

	transforms := make(map[string]align.RigidTransform, len(clouds))
	for id := range clouds {
		if s, ok := states[id]; ok {
			transforms[id] = s.Pose.Transform
			continue
		}
		transforms[id] = cache.GetTransform(id)
	}
	return transforms
}

// effectiveReference falls back to the largest cloud when no reference is
// configured or cached.
func effectiveReference(refID string, clouds map[string]*align.PointCloud) string {
	if refID != "" {
		return refID
	}
	return align.SelectReferenceSensor(clouds)
}

// cloudsForFootprints filters out clouds too small to outline.
func cloudsForFootprints(clouds map[string]*align.PointCloud) map[string]*align.PointCloud {
	out := make(map[string]*align.PointCloud, len(clouds))
	for id, c := range clouds {
		if len(c.Points) >= 3 {
			out[id] = c
		}
	}
	return out
}
