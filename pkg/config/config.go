// Package config provides configuration loading and management for procamgraycode.
// It handles loading configuration from YAML files and provides default values
// matching a 1280x800 projector placed to the right of a 3440 pixel wide monitor.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is the cause of every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Projector describes where the pattern window is placed and how pattern
	// cells map to physical display pixels
	Projector struct {
		// PositionX and PositionY place the fullscreen window on the projector output
		PositionX int `yaml:"positionX"`
		PositionY int `yaml:"positionY"`

		// Width and Height are the projector resolution in pixels
		Width  int `yaml:"width"`
		Height int `yaml:"height"`

		// StepX and StepY are the number of display pixels covered by one pattern cell
		StepX int `yaml:"stepX"`
		StepY int `yaml:"stepY"`
	} `yaml:"projector"`

	// Pattern sets the Gray-code resolution. Zero values are derived from the
	// projector resolution divided by the step factors.
	Pattern struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"pattern"`

	// Decode parameters
	Decode struct {
		// WhiteThreshold is the minimum positive/negative difference for a bit to be readable
		WhiteThreshold int `yaml:"whiteThreshold"`

		// BlackThreshold is the minimum white/black difference for a pixel to be foreground
		BlackThreshold int `yaml:"blackThreshold"`

		// NumCores specifies how many goroutines decode rows in parallel
		NumCores int `yaml:"numCores"`

		// MinCoverage is the fraction of camera pixels that must decode for a
		// session to be reported as successful
		MinCoverage float64 `yaml:"minCoverage"`
	} `yaml:"decode"`

	// Capture parameters
	Capture struct {
		// CameraDevice is the index passed to the video capture backend
		CameraDevice int `yaml:"cameraDevice"`

		// CameraWidth and CameraHeight request a capture resolution, zero keeps the driver default
		CameraWidth  int `yaml:"cameraWidth"`
		CameraHeight int `yaml:"cameraHeight"`

		// SettleDelayMs is the wait between showing a pattern and grabbing a frame
		SettleDelayMs int `yaml:"settleDelayMs"`

		// Preview enables the camera adjustment loop before capture
		Preview bool `yaml:"preview"`

		// SaveFrames persists every captured frame as cam_NN.png
		SaveFrames bool `yaml:"saveFrames"`

		// FrameDir is where captured frames are written
		FrameDir string `yaml:"frameDir"`
	} `yaml:"capture"`

	// Output parameters
	Output struct {
		// CorrespondenceFile receives the camera to projector table
		CorrespondenceFile string `yaml:"correspondenceFile"`

		// VisualizationFile receives the false-colour preview, empty disables it
		VisualizationFile string `yaml:"visualizationFile"`

		// MapDir receives the 16-bit X/Y coordinate maps, empty disables them
		MapDir string `yaml:"mapDir"`

		// MetricsFile receives a Prometheus textfile dump, empty disables it
		MetricsFile string `yaml:"metricsFile"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Projector.PositionX = 3440
	cfg.Projector.PositionY = 0
	cfg.Projector.Width = 1280
	cfg.Projector.Height = 800
	cfg.Projector.StepX = 5
	cfg.Projector.StepY = 5

	cfg.Decode.WhiteThreshold = 5
	cfg.Decode.BlackThreshold = 40
	cfg.Decode.NumCores = runtime.NumCPU()
	cfg.Decode.MinCoverage = 0

	cfg.Capture.CameraDevice = 0
	cfg.Capture.SettleDelayMs = 400
	cfg.Capture.Preview = true
	cfg.Capture.SaveFrames = true
	cfg.Capture.FrameDir = "captured"

	cfg.Output.CorrespondenceFile = "c2p.csv"
	cfg.Output.VisualizationFile = "c2p_viz.png"
	cfg.Output.Verbose = false

	return cfg
}

// PatternSize returns the Gray-code resolution, deriving missing values from
// the projector geometry
func (c *Config) PatternSize() (width, height int) {
	width, height = c.Pattern.Width, c.Pattern.Height
	if width == 0 && c.Projector.StepX > 0 {
		width = c.Projector.Width / c.Projector.StepX
	}
	if height == 0 && c.Projector.StepY > 0 {
		height = c.Projector.Height / c.Projector.StepY
	}
	return width, height
}

// Validate reports configuration errors before any hardware is touched
func (c *Config) Validate() error {
	if c.Projector.Width <= 0 || c.Projector.Height <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "projector resolution %dx%d must be positive",
			c.Projector.Width, c.Projector.Height)
	}
	if c.Projector.StepX <= 0 || c.Projector.StepY <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "projector steps %dx%d must be positive",
			c.Projector.StepX, c.Projector.StepY)
	}

	width, height := c.PatternSize()
	if width <= 0 || height <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "pattern resolution %dx%d must be positive", width, height)
	}
	if width*c.Projector.StepX > c.Projector.Width || height*c.Projector.StepY > c.Projector.Height {
		return errors.Wrapf(ErrInvalidConfig, "pattern %dx%d with step %dx%d exceeds projector %dx%d",
			width, height, c.Projector.StepX, c.Projector.StepY, c.Projector.Width, c.Projector.Height)
	}

	if c.Decode.WhiteThreshold <= 0 || c.Decode.BlackThreshold <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "thresholds (white %d, black %d) must be positive",
			c.Decode.WhiteThreshold, c.Decode.BlackThreshold)
	}
	if c.Decode.NumCores <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "numCores %d must be positive", c.Decode.NumCores)
	}
	if c.Decode.MinCoverage < 0 || c.Decode.MinCoverage > 1 {
		return errors.Wrapf(ErrInvalidConfig, "minCoverage %.3f must be within [0, 1]", c.Decode.MinCoverage)
	}

	if c.Capture.SettleDelayMs < 0 {
		return errors.Wrapf(ErrInvalidConfig, "settleDelayMs %d must not be negative", c.Capture.SettleDelayMs)
	}
	if c.Capture.SaveFrames && c.Capture.FrameDir == "" {
		return errors.Wrap(ErrInvalidConfig, "frameDir is required when saveFrames is set")
	}
	if c.Output.CorrespondenceFile == "" {
		return errors.Wrap(ErrInvalidConfig, "correspondenceFile is required")
	}

	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
