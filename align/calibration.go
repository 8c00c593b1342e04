package align

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultPoseCachePath is the default path for the registered-pose cache.
const DefaultPoseCachePath = ".pose-cache.json"

// LoadPoseCache loads registered poses from a JSON cache file.
// A missing file is not an error; it returns (nil, nil).
func LoadPoseCache(path string) (*PoseCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pose cache: %w", err)
	}

	var cache PoseCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing pose cache: %w", err)
	}
	return &cache, nil
}

// SavePoseCache saves registered poses to a JSON cache file.
func SavePoseCache(path string, cache *PoseCache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating pose cache directory: %w", err)
	}

	cache.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pose cache: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing pose cache: %w", err)
	}
	return nil
}

// RegisterSensors aligns every non-reference cloud to the reference cloud
// and returns the resulting pose cache. The reference sensor gets the
// identity transform.
func RegisterSensors(clouds map[string]*PointCloud, referenceID string, icpConfig ICPConfig) (*PoseCache, error) {
	reference, ok := clouds[referenceID]
	if !ok {
		return nil, fmt.Errorf("reference sensor %q not found", referenceID)
	}

	cache := &PoseCache{
		ReferenceSensor: referenceID,
		Sensors:         make(map[string]SensorPose),
		LastUpdated:     time.Now().Unix(),
	}
	cache.Sensors[referenceID] = SensorPose{
		SensorID:  referenceID,
		Transform: IdentityTransform(),
		Fitness:   1.0,
		Timestamp: time.Now().Unix(),
	}

	for id, cloud := range clouds {
		if id == referenceID {
			continue
		}
		result, err := RunPointToPlaneICP(cloud, reference, IdentityTransform(), icpConfig)
		if err != nil {
			return nil, fmt.Errorf("registering %s: %w", id, err)
		}
		cache.Sensors[id] = SensorPose{
			SensorID:  id,
			Transform: result.Transform,
			RMSE:      result.RMSE,
			Fitness:   result.InlierFraction,
			Timestamp: time.Now().Unix(),
		}
	}
	return cache, nil
}

// SelectReferenceSensor auto-selects the reference by largest point count.
func SelectReferenceSensor(clouds map[string]*PointCloud) string {
	var bestID string
	maxPoints := 0
	for id, c := range clouds {
		if len(c.Points) > maxPoints {
			maxPoints = len(c.Points)
			bestID = id
		}
	}
	return bestID
}

// GetTransform retrieves the registered transform for a sensor.
// Returns identity if not found.
func (c *PoseCache) GetTransform(sensorID string) RigidTransform {
	if c == nil || c.Sensors == nil {
		return IdentityTransform()
	}
	if p, ok := c.Sensors[sensorID]; ok {
		return p.Transform
	}
	return IdentityTransform()
}

// NeedsRefresh checks if the cached poses are older than maxAge.
func (c *PoseCache) NeedsRefresh(maxAge time.Duration) bool {
	if c == nil || c.LastUpdated == 0 {
		return true
	}
	return time.Since(time.Unix(c.LastUpdated, 0)) > maxAge
}
