package align

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the unified configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Validate required fields
	if len(config.Sensors) == 0 {
		return nil, fmt.Errorf("at least one sensor must be defined")
	}

	for i, sc := range config.Sensors {
		if sc.ID == "" {
			return nil, fmt.Errorf("sensor[%d].id is required", i)
		}
		if sc.Topic == "" && sc.CloudFile == "" {
			return nil, fmt.Errorf("sensor[%d] (%s) needs a topic or a cloudFile", i, sc.ID)
		}
	}

	// Surface a bad kernel method at load time so it never reaches a
	// registration batch.
	if _, err := config.ICP.Kernel.ToRobustKernel(); err != nil {
		return nil, fmt.Errorf("icp.kernel: %w", err)
	}

	if config.Reference != "" && config.GetSensorByID(config.Reference) == nil {
		return nil, fmt.Errorf("reference sensor %q is not in the sensor list", config.Reference)
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ToICPConfig converts the config-file ICP options into a runtime ICPConfig,
// applying defaults for unset values.
func (o ICPOptions) ToICPConfig() (ICPConfig, error) {
	cfg := DefaultICPConfig()
	if o.MaxIterations > 0 {
		cfg.MaxIterations = o.MaxIterations
	}
	if o.ConvergenceThresh > 0 {
		cfg.ConvergenceThresh = o.ConvergenceThresh
	}
	if o.MaxCorrespondDist > 0 {
		cfg.MaxCorrespondDist = o.MaxCorrespondDist
	}
	if o.Parallel {
		cfg.Target = ExecParallel
	}

	kernel, err := o.Kernel.ToRobustKernel()
	if err != nil {
		return cfg, err
	}
	cfg.Kernel = kernel
	return cfg, nil
}
