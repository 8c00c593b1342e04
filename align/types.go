package align

// Vec3 is a 3D point or direction in sensor or world coordinates.
// Coordinates are in millimeters throughout.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z} }

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z} }

// Scale returns v * f.
func (v Vec3) Scale(f float64) Vec3 { return Vec3{v.X * f, v.Y * f, v.Z * f} }

// Dot returns the dot product of v and w.
func (v Vec3) Dot(w Vec3) float64 { return v.X*w.X + v.Y*w.Y + v.Z*w.Z }

// Cross returns the cross product of v and w.
func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		X: v.Y*w.Z - v.Z*w.Y,
		Y: v.Z*w.X - v.X*w.Z,
		Z: v.X*w.Y - v.Y*w.X,
	}
}

// PointCloud holds the points of one sensor capture, plus per-point normals
// when they are known (required for point-to-plane registration; estimated
// via EstimateNormals when the input file lacks them).
type PointCloud struct {
	Points  []Vec3 `json:"points"`
	Normals []Vec3 `json:"normals,omitempty"`
}

// HasNormals reports whether every point carries a normal.
func (c *PointCloud) HasNormals() bool {
	return len(c.Normals) == len(c.Points) && len(c.Points) > 0
}

// SensorPose is a registered sensor pose in world coordinates.
type SensorPose struct {
	SensorID  string         `json:"sensorId"`
	Transform RigidTransform `json:"transform"`
	RMSE      float64        `json:"rmse"`
	Fitness   float64        `json:"fitness"`
	Timestamp int64          `json:"timestamp"`
}

// PoseCache stores registered poses for all sensors. This is the ICP result
// cache persisted as JSON between runs.
type PoseCache struct {
	ReferenceSensor string                `json:"referenceSensor"`
	Sensors         map[string]SensorPose `json:"sensors"`
	LastUpdated     int64                 `json:"lastUpdated"`
}

// SensorConfig defines one sensor from the config file.
type SensorConfig struct {
	ID        string      `yaml:"id" json:"id"`
	Topic     string      `yaml:"topic,omitempty" json:"topic,omitempty"`
	CloudFile string      `yaml:"cloudFile,omitempty" json:"cloudFile,omitempty"`
	Color     string      `yaml:"color,omitempty" json:"color,omitempty"`
	PoseHint  *[6]float64 `yaml:"poseHint,omitempty" json:"poseHint,omitempty"` // [rx ry rz tx ty tz]
}

// KernelConfig is the config-file form of a RobustKernel. The method is a
// string so that config errors surface with the offending name.
type KernelConfig struct {
	Method           string  `yaml:"method" json:"method"`
	ScalingParameter float64 `yaml:"scalingParameter,omitempty" json:"scalingParameter,omitempty"`
	ShapeParameter   float64 `yaml:"shapeParameter,omitempty" json:"shapeParameter,omitempty"`
}

// ToRobustKernel resolves the method name and applies defaults.
func (kc KernelConfig) ToRobustKernel() (RobustKernel, error) {
	m, err := ParseMethod(kc.Method)
	if err != nil {
		return RobustKernel{}, err
	}
	scaling := kc.ScalingParameter
	if scaling == 0 {
		scaling = 1.0
	}
	return RobustKernel{Method: m, ScalingParameter: scaling, ShapeParameter: kc.ShapeParameter}, nil
}

// ICPOptions is the config-file form of ICPConfig.
type ICPOptions struct {
	MaxIterations     int          `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
	ConvergenceThresh float64      `yaml:"convergenceThresh,omitempty" json:"convergenceThresh,omitempty"`
	MaxCorrespondDist float64      `yaml:"maxCorrespondDist,omitempty" json:"maxCorrespondDist,omitempty"`
	VoxelSize         float64      `yaml:"voxelSize,omitempty" json:"voxelSize,omitempty"`
	Parallel          bool         `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Kernel            KernelConfig `yaml:"kernel,omitempty" json:"kernel,omitempty"`
}

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Config represents the full configuration file.
type Config struct {
	MQTT      MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Reference string         `yaml:"reference,omitempty" json:"reference,omitempty"`
	Sensors   []SensorConfig `yaml:"sensors" json:"sensors"`
	ICP       ICPOptions     `yaml:"icp,omitempty" json:"icp,omitempty"`
	// FootprintTolerance is the simplification tolerance in mm applied to
	// footprint outlines (default DefaultFootprintSimplifyTolerance).
	FootprintTolerance float64 `yaml:"footprintTolerance,omitempty" json:"footprintTolerance,omitempty"`
}

// GetFootprintTolerance returns the configured outline simplification
// tolerance, falling back to the default.
func (c *Config) GetFootprintTolerance() float64 {
	if c == nil || c.FootprintTolerance == 0 {
		return DefaultFootprintSimplifyTolerance
	}
	return c.FootprintTolerance
}

// GetSensorByID returns the sensor config for the given ID.
func (c *Config) GetSensorByID(id string) *SensorConfig {
	for i := range c.Sensors {
		if c.Sensors[i].ID == id {
			return &c.Sensors[i]
		}
	}
	return nil
}

// GetReference returns the reference sensor ID from config or empty string.
func (c *Config) GetReference() string {
	return c.Reference
}
