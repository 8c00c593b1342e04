package main

import (
	"flag"
	"fmt"
	"path/filepath"

	"github.com/kwv/cloudalign/align"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile      = flag.String("config", "config.yaml", "Path to configuration file")
	dataDir         = flag.String("data-dir", ".", "Directory containing sensor cloud files")
	poseCachePath   = flag.String("pose-cache", align.DefaultPoseCachePath, "Path to registered-pose cache file")
	alignOnly       = flag.Bool("align", false, "Register all sensor clouds and exit")
	renderOnly      = flag.Bool("render", false, "Render aligned composite and exit")
	footprintsOnly  = flag.Bool("footprints", false, "Export aligned footprints as GeoJSON and exit")
	referenceSensor = flag.String("reference", "", "Override reference sensor (default: from config or largest cloud)")
	outputFile      = flag.String("output", "composite.png", "Output file for --render / --footprints")
	renderFormat    = flag.String("format", "raster", "Render format: raster, vector, or both")
	vectorFormat    = flag.String("vector-format", "svg", "Vector output format: svg or png")
	mqttMode        = flag.Bool("mqtt", false, "Run MQTT service mode for live cloud registration")
	httpMode        = flag.Bool("http", false, "Enable HTTP server for serving composites and poses")
	httpPort        = flag.Int("http-port", 8080, "HTTP server port")
)

// AppOptions carries the parsed CLI flags into the App.
type AppOptions struct {
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

func optionsFromFlags() AppOptions {
	return AppOptions{
		ConfigFile:      *configFile,
		DataDir:         *dataDir,
		PoseCachePath:   *poseCachePath,
		ReferenceSensor: *referenceSensor,
		OutputFile:      *outputFile,
		RenderFormat:    *renderFormat,
		VectorFormat:    *vectorFormat,
		HttpPort:        *httpPort,
		MqttMode:        *mqttMode,
		HttpMode:        *httpMode,
	}
}

// resolvePaths makes default config/cache paths relative to data-dir when a
// data-dir is given but the paths were left at their defaults.
func (o *AppOptions) resolvePaths() {
	if o.DataDir == "." {
		return
	}
	if o.ConfigFile == "config.yaml" {
		o.ConfigFile = filepath.Join(o.DataDir, "config.yaml")
	}
	if o.PoseCachePath == align.DefaultPoseCachePath {
		o.PoseCachePath = filepath.Join(o.DataDir, align.DefaultPoseCachePath)
	}
}

func main() {
	flag.Parse()
	fmt.Printf("cloudalign version: %s\n", Version)

	opts := optionsFromFlags()
	opts.resolvePaths()

	app := NewApp()
	app.ApplyOptions(opts)

	if *alignOnly {
		app.RunAlign()
		return
	}

	if *renderOnly {
		app.RunRender()
		return
	}

	if *footprintsOnly {
		app.RunFootprints()
		return
	}

	if *mqttMode || *httpMode {
		app.RunService()
		return
	}

	fmt.Println("cloudalign: multi-sensor point cloud registration")
	fmt.Println("Use --align to register sensor clouds and cache the poses")
	fmt.Println("Use --render to output an aligned composite image")
	fmt.Println("Use --footprints to export aligned footprints as GeoJSON")
	fmt.Println("Use --mqtt to run the live registration service")
	fmt.Println("Use --http to serve composites and poses over HTTP")
	fmt.Println("Use --mqtt --http to run both together")
	fmt.Println("\nConfiguration:")
	fmt.Println("  config.yaml - sensors, MQTT settings, and ICP options")
	fmt.Printf("  %s - registered poses (cached between runs)\n", align.DefaultPoseCachePath)
}
