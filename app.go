package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/cloudalign/align"
)

// normalEstimationNeighbors is the neighborhood size used when an input file
// carries positions only.
const normalEstimationNeighbors = 12

// App encapsulates the application state and dependencies.
type App struct {
	Config       *align.Config
	PoseCache    *align.PoseCache
	StateTracker *align.StateTracker
	MQTTClient   *align.MQTTClient
	Publisher    *align.Publisher

	// CLI flags (effectively dependencies)
	ConfigFile      string
	DataDir         string
	PoseCachePath   string
	ReferenceSensor string
	OutputFile      string
	RenderFormat    string
	VectorFormat    string
	HttpPort        int
	MqttMode        bool
	HttpMode        bool
}

// NewApp creates a new App instance.
func NewApp() *App {
	return &App{
		StateTracker: align.NewStateTracker(),
	}
}

// ApplyOptions applies CLI options to the App instance.
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DataDir = opts.DataDir
	a.PoseCachePath = opts.PoseCachePath
	a.ReferenceSensor = opts.ReferenceSensor
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.VectorFormat = opts.VectorFormat
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig loads and stores the configuration file.
func (a *App) loadConfig() *align.Config {
	config, err := align.LoadConfig(a.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v (looked at %s)", err, a.ConfigFile)
	}
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)
	return config
}

// loadClouds loads every file-backed sensor cloud from the config,
// downsampling and estimating normals as needed.
func (a *App) loadClouds(config *align.Config) map[string]*align.PointCloud {
	icpOpts := config.ICP

	clouds := make(map[string]*align.PointCloud)
	for _, sensor := range config.Sensors {
		if sensor.CloudFile == "" {
			continue
		}
		path := sensor.CloudFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.DataDir, path)
		}

		cloud, err := align.LoadCloud(path)
		if err != nil {
			log.Printf("Warning: failed to load cloud for %s: %v", sensor.ID, err)
			continue
		}
		cloud = prepareCloud(cloud, icpOpts.VoxelSize)
		clouds[sensor.ID] = cloud
		fmt.Printf("Loaded %s: %d points (normals=%v)\n", sensor.ID, len(cloud.Points), cloud.HasNormals())
	}
	return clouds
}

// prepareCloud downsamples a raw capture and fills in normals when the input
// file carried positions only.
func prepareCloud(cloud *align.PointCloud, voxelSize float64) *align.PointCloud {
	cloud = align.VoxelDownsample(cloud, voxelSize)
	if !cloud.HasNormals() {
		if err := align.EstimateNormals(cloud, normalEstimationNeighbors, align.Vec3{}); err != nil {
			log.Printf("Warning: normal estimation failed: %v", err)
		}
	}
	return cloud
}

// chooseReference resolves the effective reference sensor:
// CLI flag > config > cached reference > largest cloud.
func (a *App) chooseReference(config *align.Config, cache *align.PoseCache, clouds map[string]*align.PointCloud) string {
	if a.ReferenceSensor != "" {
		return a.ReferenceSensor
	}
	if config != nil && config.Reference != "" {
		return config.Reference
	}
	if cache != nil && cache.ReferenceSensor != "" {
		if _, ok := clouds[cache.ReferenceSensor]; ok {
			return cache.ReferenceSensor
		}
	}
	return align.SelectReferenceSensor(clouds)
}

// RunAlign registers all file-backed sensor clouds against the reference and
// saves the resulting poses to the cache.
func (a *App) RunAlign() {
	config := a.loadConfig()
	clouds := a.loadClouds(config)
	if len(clouds) < 2 {
		log.Fatal("Need at least 2 sensor clouds for registration")
	}

	refID := a.chooseReference(config, nil, clouds)
	fmt.Printf("Reference sensor: %s\n", refID)

	reference, ok := clouds[refID]
	if !ok {
		log.Fatalf("Reference sensor %q has no loaded cloud", refID)
	}

	icpConfig, err := config.ICP.ToICPConfig()
	if err != nil {
		log.Fatalf("Invalid ICP options: %v", err)
	}

	cache := &align.PoseCache{
		ReferenceSensor: refID,
		Sensors:         make(map[string]align.SensorPose),
	}
	cache.Sensors[refID] = align.SensorPose{
		SensorID:  refID,
		Transform: align.IdentityTransform(),
		Fitness:   1.0,
		Timestamp: time.Now().Unix(),
	}

	fmt.Println("Running point-to-plane registration...")
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("%-20s: [REFERENCE - identity transform]\n", refID)

	for id, cloud := range clouds {
		if id == refID {
			continue
		}

		initial := align.IdentityTransform()
		if sc := config.GetSensorByID(id); sc != nil && sc.PoseHint != nil {
			initial = align.PoseToTransform(*sc.PoseHint)
			fmt.Printf("%-20s: starting from config pose hint\n", id)
		}

		result, err := align.RunPointToPlaneICP(cloud, reference, initial, icpConfig)
		if err != nil {
			log.Fatalf("Registering %s: %v", id, err)
		}

		fmt.Printf("%-20s: %d iterations, rmse=%.2fmm, inliers=%.1f%%, converged=%v\n",
			id, result.Iterations, result.RMSE, result.InlierFraction*100, result.Converged)
		fmt.Printf("%-20s  translation (%.1f, %.1f, %.1f), rotation %.2f rad\n",
			"", result.Transform.T.X, result.Transform.T.Y, result.Transform.T.Z,
			result.Transform.RotationAngle())

		cache.Sensors[id] = align.SensorPose{
			SensorID:  id,
			Transform: result.Transform,
			RMSE:      result.RMSE,
			Fitness:   result.InlierFraction,
			Timestamp: time.Now().Unix(),
		}
	}

	fmt.Printf("\nSaving pose cache to %s\n", a.PoseCachePath)
	if err := align.SavePoseCache(a.PoseCachePath, cache); err != nil {
		log.Fatalf("Failed to save pose cache: %v", err)
	}
	fmt.Println("Pose cache saved")
}

// RunRender renders the aligned composite from file-backed clouds and the
// pose cache.
func (a *App) RunRender() {
	config := a.loadConfig()
	clouds := a.loadClouds(config)
	if len(clouds) == 0 {
		log.Fatal("No sensor clouds loaded")
	}

	cache, err := align.LoadPoseCache(a.PoseCachePath)
	if err != nil {
		log.Printf("Warning: failed to load pose cache %s: %v", a.PoseCachePath, err)
	} else if cache == nil {
		log.Printf("Warning: no pose cache at %s; rendering with identity transforms. Run --align first.", a.PoseCachePath)
	}

	refID := a.chooseReference(config, cache, clouds)
	fmt.Printf("Reference sensor: %s\n", refID)

	transforms := make(map[string]align.RigidTransform, len(clouds))
	for id := range clouds {
		transforms[id] = cache.GetTransform(id)
	}

	format := a.RenderFormat
	if format != "raster" && format != "vector" && format != "both" {
		log.Fatalf("Invalid format: %s (must be raster, vector, or both)", format)
	}

	if format == "raster" || format == "both" {
		renderer := align.NewCompositeRenderer(clouds, transforms, refID)
		if !renderer.HasDrawableContent() {
			log.Fatal("Clouds present but nothing to draw")
		}

		outputPath := a.OutputFile
		if format == "both" && !strings.HasSuffix(outputPath, ".png") {
			outputPath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".png"
		}
		if err := renderer.RenderToFile(outputPath); err != nil {
			log.Fatalf("Error rendering raster: %v", err)
		}
		fmt.Printf("Created raster: %s\n", outputPath)
	}

	if format == "vector" || format == "both" {
		footprints := computeFootprints(clouds, transforms, config.GetFootprintTolerance())
		if len(footprints) == 0 {
			log.Fatal("No footprints could be computed from the loaded clouds")
		}
		vectorRenderer := align.NewVectorRenderer(footprints, refID)

		outputPath := a.OutputFile
		ext := "." + a.VectorFormat
		if format == "both" || !strings.HasSuffix(outputPath, ext) {
			outputPath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ext
		}

		outFile, err := os.Create(outputPath)
		if err != nil {
			log.Fatalf("Error creating output file %s: %v", outputPath, err)
		}
		defer func() {
			if err := outFile.Close(); err != nil {
				log.Printf("Warning: error closing output file %s: %v", outputPath, err)
			}
		}()

		switch a.VectorFormat {
		case "svg":
			if err := vectorRenderer.RenderToSVG(outFile); err != nil {
				log.Fatalf("Error rendering vector SVG: %v", err)
			}
		case "png":
			if err := vectorRenderer.RenderToPNG(outFile); err != nil {
				log.Fatalf("Error rendering vector PNG: %v", err)
			}
		default:
			log.Fatalf("Invalid vector format: %s (must be svg or png)", a.VectorFormat)
		}
		fmt.Printf("Created vector %s: %s\n", a.VectorFormat, outputPath)
	}

	fmt.Println("Done!")
}

// RunFootprints exports the aligned sensor footprints as GeoJSON.
func (a *App) RunFootprints() {
	config := a.loadConfig()
	clouds := a.loadClouds(config)
	if len(clouds) == 0 {
		log.Fatal("No sensor clouds loaded")
	}

	cache, err := align.LoadPoseCache(a.PoseCachePath)
	if err != nil {
		log.Printf("Warning: failed to load pose cache %s: %v", a.PoseCachePath, err)
	}
	refID := a.chooseReference(config, cache, clouds)

	transforms := make(map[string]align.RigidTransform, len(clouds))
	for id := range clouds {
		transforms[id] = cache.GetTransform(id)
	}

	footprints := computeFootprints(clouds, transforms, config.GetFootprintTolerance())
	if len(footprints) == 0 {
		log.Fatal("No footprints could be computed from the loaded clouds")
	}

	data, err := align.FootprintsToGeoJSON(footprints, refID)
	if err != nil {
		log.Fatalf("Error encoding GeoJSON: %v", err)
	}

	outputPath := a.OutputFile
	if !strings.HasSuffix(outputPath, ".geojson") {
		outputPath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".geojson"
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		log.Fatalf("Error writing %s: %v", outputPath, err)
	}
	fmt.Printf("Created footprints: %s\n", outputPath)
}

// computeFootprints projects each cloud through its registered transform and
// collects the simplified outlines, skipping degenerate clouds.
func computeFootprints(clouds map[string]*align.PointCloud, transforms map[string]align.RigidTransform, tolerance float64) []*align.Footprint {
	footprints := make([]*align.Footprint, 0, len(clouds))
	for id, cloud := range clouds {
		fp, err := align.ComputeFootprint(id, cloud, transforms[id], tolerance)
		if err != nil {
			log.Printf("Warning: footprint for %s: %v", id, err)
			continue
		}
		footprints = append(footprints, fp)
	}
	return footprints
}

// RunService starts the combined MQTT and/or HTTP service.
func (a *App) RunService() {
	fmt.Println("Starting cloudalign service...")

	config := a.loadConfig()

	cache, err := align.LoadPoseCache(a.PoseCachePath)
	if err != nil {
		log.Printf("Warning: failed to load pose cache %s: %v", a.PoseCachePath, err)
	} else if cache != nil {
		a.PoseCache = cache
		log.Printf("Loaded pose cache from %s", a.PoseCachePath)
	} else {
		log.Printf("Warning: no pose cache found at %s. Live clouds will be registered from identity.", a.PoseCachePath)
		log.Printf("Run './cloudalign --align' to seed it.")
	}

	// Seed state from file-backed clouds so the HTTP endpoints have content
	// before the first MQTT capture arrives.
	initialClouds := a.loadClouds(config)
	refID := a.chooseReference(config, cache, initialClouds)
	if refID != "" {
		log.Printf("Reference sensor: %s", refID)
	} else {
		log.Println("Reference sensor: (will auto-select on first cloud)")
	}

	for _, sc := range config.Sensors {
		if sc.Color != "" {
			a.StateTracker.SetColor(sc.ID, sc.Color)
		}
	}

	for id, cloud := range initialClouds {
		a.StateTracker.UpdateCloud(id, cloud)
		if cache != nil {
			if pose, ok := cache.Sensors[id]; ok {
				a.StateTracker.UpdatePose(pose)
			}
		}
	}
	if len(initialClouds) > 0 {
		fmt.Printf("Seeded %d sensor clouds from disk\n", len(initialClouds))
	}

	icpConfig, err := config.ICP.ToICPConfig()
	if err != nil {
		log.Fatalf("Invalid ICP options: %v", err)
	}

	if a.MqttMode {
		cloudHandler := func(sensorID string, rawPayload []byte, cloud *align.PointCloud, err error) {
			if err != nil {
				log.Printf("Error receiving cloud for %s: %v", sensorID, err)
				a.StateTracker.MarkOffline(sensorID)
				return
			}

			cloud = prepareCloud(cloud, config.ICP.VoxelSize)
			a.StateTracker.UpdateCloud(sensorID, cloud)

			pose, ok := a.registerLiveCloud(sensorID, cloud, refID, icpConfig, config)
			if !ok {
				return
			}
			a.StateTracker.UpdatePose(pose)

			if a.Publisher != nil {
				if err := a.Publisher.PublishPose(pose); err != nil {
					log.Printf("Error publishing pose for %s: %v", sensorID, err)
				}
			}
		}

		mqttClient, err := align.InitMQTT(config, cloudHandler)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		a.MQTTClient = mqttClient

		if mqttClient == nil {
			log.Fatal("MQTT broker not configured in config.yaml")
		}

		a.Publisher = align.NewPublisher(mqttClient.GetClient())
		fmt.Println("MQTT pose publisher initialized")
	}

	if a.HttpMode {
		httpServer := newHTTPServer(a.StateTracker, a.PoseCache, a.Config, refID)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Println("  Subscribed topics:")
		for _, sc := range config.Sensors {
			if sc.Topic != "" {
				fmt.Printf("    - %s (%s)\n", sc.Topic, sc.ID)
			}
		}
		publishPrefix := config.MQTT.PublishPrefix
		if publishPrefix == "" {
			publishPrefix = "cloudalign"
		}
		fmt.Printf("  Publishing to: %s/{sensorID}\n", publishPrefix)
		fmt.Printf("  Combined poses: %s/poses\n", publishPrefix)
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET /health              - Health check")
		fmt.Println("  GET /composite.png       - Color-coded aligned composite")
		fmt.Println("  GET /composite.svg       - Aligned footprint outlines")
		fmt.Println("  GET /poses.json          - Registered sensor poses")
		fmt.Println("  GET /footprints.geojson  - Aligned footprints as GeoJSON")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
}

// registerLiveCloud aligns one freshly received cloud to the reference cloud.
// The cached pose (or a config pose hint) seeds the run so steady-state
// updates converge in a few iterations.
func (a *App) registerLiveCloud(sensorID string, cloud *align.PointCloud, refID string, icpConfig align.ICPConfig, config *align.Config) (align.SensorPose, bool) {
	if sensorID == refID {
		return align.SensorPose{
			SensorID:  sensorID,
			Transform: align.IdentityTransform(),
			Fitness:   1.0,
			Timestamp: time.Now().Unix(),
		}, true
	}

	reference, ok := a.StateTracker.GetClouds()[refID]
	if !ok {
		log.Printf("%s: no reference cloud yet, skipping registration", sensorID)
		return align.SensorPose{}, false
	}

	initial := a.PoseCache.GetTransform(sensorID)
	if a.PoseCache == nil {
		if sc := config.GetSensorByID(sensorID); sc != nil && sc.PoseHint != nil {
			initial = align.PoseToTransform(*sc.PoseHint)
		}
	}

	result, err := align.RunPointToPlaneICP(cloud, reference, initial, icpConfig)
	if err != nil {
		log.Printf("Error registering %s: %v", sensorID, err)
		return align.SensorPose{}, false
	}

	log.Printf("%s: registered in %d iterations, rmse=%.2fmm, inliers=%.1f%%",
		sensorID, result.Iterations, result.RMSE, result.InlierFraction*100)

	return align.SensorPose{
		SensorID:  sensorID,
		Transform: result.Transform,
		RMSE:      result.RMSE,
		Fitness:   result.InlierFraction,
		Timestamp: time.Now().Unix(),
	}, true
}
