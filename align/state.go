package align

import (
	"sync"
	"time"
)

// LiveSensor is a sensor's current registered state in world coordinates.
type LiveSensor struct {
	SensorID  string     `json:"sensorId"`
	Pose      SensorPose `json:"pose"`
	Online    bool       `json:"online"`
	Timestamp time.Time  `json:"timestamp"`
	Color     string     `json:"color"`
}

// StateTracker tracks live sensor clouds and poses for the HTTP endpoints
// and the MQTT service loop.
type StateTracker struct {
	mu     sync.RWMutex
	states map[string]*LiveSensor
	clouds map[string]*PointCloud
	colors map[string]string
}

// NewStateTracker creates a new state tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{
		states: make(map[string]*LiveSensor),
		clouds: make(map[string]*PointCloud),
		colors: make(map[string]string),
	}
}

// SetColor sets the display color for a sensor.
func (st *StateTracker) SetColor(sensorID, hexColor string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.colors[sensorID] = hexColor
}

// UpdatePose records a sensor's registered pose and marks it online.
func (st *StateTracker) UpdatePose(pose SensorPose) {
	st.mu.Lock()
	defer st.mu.Unlock()

	color := st.colors[pose.SensorID]
	if color == "" {
		color = "#FF0000"
	}
	st.states[pose.SensorID] = &LiveSensor{
		SensorID:  pose.SensorID,
		Pose:      pose,
		Online:    true,
		Timestamp: time.Now(),
		Color:     color,
	}
}

// MarkOffline flags a sensor as offline without discarding its last pose.
func (st *StateTracker) MarkOffline(sensorID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.states[sensorID]; ok {
		s.Online = false
	}
}

// UpdateCloud stores the latest cloud for a sensor.
func (st *StateTracker) UpdateCloud(sensorID string, c *PointCloud) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.clouds[sensorID] = c
}

// GetStates returns a copy of all current sensor states.
func (st *StateTracker) GetStates() map[string]*LiveSensor {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make(map[string]*LiveSensor, len(st.states))
	for k, v := range st.states {
		copy := *v
		result[k] = &copy
	}
	return result
}

// GetClouds returns all current clouds. The clouds themselves are shared;
// they are treated as immutable after storage.
func (st *StateTracker) GetClouds() map[string]*PointCloud {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make(map[string]*PointCloud, len(st.clouds))
	for k, v := range st.clouds {
		result[k] = v
	}
	return result
}

// HasClouds returns true if at least one sensor cloud is stored.
func (st *StateTracker) HasClouds() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.clouds) > 0
}
