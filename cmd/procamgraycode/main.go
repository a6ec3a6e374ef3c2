package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"procamgraycode/pkg/config"
	"procamgraycode/pkg/correspondence"
	"procamgraycode/pkg/device"
	"procamgraycode/pkg/session"
	"procamgraycode/pkg/storage"
)

const (
	// Flags.
	flagConfig         = "config"
	flagVerbose        = "verbose"
	flagCamera         = "camera"
	flagCores          = "cores"
	flagOutput         = "output"
	flagWhiteThreshold = "white-threshold"
	flagBlackThreshold = "black-threshold"
	flagStep           = "step"
	flagNoPreview      = "no-preview"
	flagFrames         = "frames"
	flagDir            = "dir"
	flagMinCoverage    = "min-coverage"

	projectorWindow = "pattern"
	monitorWindow   = "camera"

	// exitCoverage is returned when decoding finished below the coverage floor
	exitCoverage = 2
)

func main() {
	app := &cli.App{
		Name:  "procamgraycode",
		Usage: "projector-camera correspondence by Gray-code structured light",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   "procamgraycode.yaml",
				Usage:   "configuration file, defaults are used when it does not exist",
			},
			&cli.BoolFlag{
				Name:    flagVerbose,
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
			&cli.IntFlag{
				Name:  flagCores,
				Usage: "number of goroutines used for decoding",
			},
			&cli.StringFlag{
				Name:  flagOutput,
				Usage: "correspondence CSV file",
			},
			&cli.IntFlag{
				Name:  flagWhiteThreshold,
				Usage: "minimum positive/negative difference for a readable bit",
			},
			&cli.IntFlag{
				Name:  flagBlackThreshold,
				Usage: "minimum white/black difference for a foreground pixel",
			},
			&cli.IntFlag{
				Name:  flagStep,
				Usage: "display pixels per pattern cell in both directions",
			},
			&cli.Float64Flag{
				Name:  flagMinCoverage,
				Usage: "fraction of camera pixels that must decode",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "project the patterns, capture them and decode the correspondences",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagCamera,
						Usage: "camera device index",
					},
					&cli.BoolFlag{
						Name:  flagNoPreview,
						Usage: "skip the camera adjustment preview",
					},
				},
				Action: runAction,
			},
			{
				Name:  "decode",
				Usage: "decode a previously captured frame directory",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagFrames,
						Usage:    "directory holding cam_NN.png frames",
						Required: true,
					},
				},
				Action: decodeAction,
			},
			{
				Name:  "patterns",
				Usage: "write the pattern sequence as PNG files",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagDir,
						Value: "patterns",
						Usage: "output directory",
					},
				},
				Action: patternsAction,
			},
			{
				Name:  "config",
				Usage: "manage the configuration file",
				Subcommands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "write the default configuration",
						Action: configInitAction,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies command line overrides
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String(flagConfig))
	if err != nil {
		return nil, err
	}

	if c.IsSet(flagVerbose) {
		cfg.Output.Verbose = c.Bool(flagVerbose)
	}
	if c.IsSet(flagCores) {
		cfg.Decode.NumCores = c.Int(flagCores)
	}
	if c.IsSet(flagOutput) {
		cfg.Output.CorrespondenceFile = c.String(flagOutput)
	}
	if c.IsSet(flagWhiteThreshold) {
		cfg.Decode.WhiteThreshold = c.Int(flagWhiteThreshold)
	}
	if c.IsSet(flagBlackThreshold) {
		cfg.Decode.BlackThreshold = c.Int(flagBlackThreshold)
	}
	if c.IsSet(flagStep) {
		cfg.Projector.StepX = c.Int(flagStep)
		cfg.Projector.StepY = c.Int(flagStep)
	}
	if c.IsSet(flagMinCoverage) {
		cfg.Decode.MinCoverage = c.Float64(flagMinCoverage)
	}
	if c.IsSet(flagCamera) {
		cfg.Capture.CameraDevice = c.Int(flagCamera)
	}
	if c.Bool(flagNoPreview) {
		cfg.Capture.Preview = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error
	if cfg.Output.Verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}
	return logger.Sugar(), nil
}

// setup loads the configuration and builds a session from it
func setup(c *cli.Context) (*config.Config, *session.Session, *zap.SugaredLogger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	s, err := session.NewSession(session.ParamsFromConfig(cfg), logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, s, logger, nil
}

// openHardware returns an opener for the OpenCV camera and windows
func openHardware(cfg *config.Config) session.Opener {
	return func() (session.Hardware, error) {
		camera, err := device.OpenCamera(cfg.Capture.CameraDevice, cfg.Capture.CameraWidth, cfg.Capture.CameraHeight)
		if err != nil {
			return session.Hardware{}, err
		}

		hw := session.Hardware{
			Camera: camera,
			Projector: device.OpenDisplay(projectorWindow, device.Geometry{
				X:          cfg.Projector.PositionX,
				Y:          cfg.Projector.PositionY,
				Width:      cfg.Projector.Width,
				Height:     cfg.Projector.Height,
				Fullscreen: true,
				StepX:      cfg.Projector.StepX,
				StepY:      cfg.Projector.StepY,
			}),
		}
		if cfg.Capture.Preview {
			hw.Monitor = device.OpenDisplay(monitorWindow, device.Geometry{})
		}
		return hw, nil
	}
}

func runAction(c *cli.Context) error {
	cfg, s, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("================================")
	fmt.Println("PROJECTOR-CAMERA GRAY-CODE CORRESPONDENCE")
	fmt.Println("================================")
	fmt.Printf("Projector: %dx%d at (%d, %d), step %dx%d\n",
		cfg.Projector.Width, cfg.Projector.Height,
		cfg.Projector.PositionX, cfg.Projector.PositionY,
		cfg.Projector.StepX, cfg.Projector.StepY)

	startTime := time.Now()
	report, err := s.Process(ctx, openHardware(cfg))
	return finish(report, err, cfg, time.Since(startTime))
}

func decodeAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	report, err := session.DecodeOffline(ctx, session.ParamsFromConfig(cfg), c.String(flagFrames), logger)
	return finish(report, err, cfg, time.Since(startTime))
}

// finish prints the report and maps a coverage failure to its own exit code
func finish(report *correspondence.Report, err error, cfg *config.Config, elapsed time.Duration) error {
	if report != nil {
		fmt.Printf("\nDecoding finished in %.2f seconds\n", elapsed.Seconds())
		fmt.Printf("Correspondences: %s\n", report)
		fmt.Printf("Shadow contrast: mean %.1f, std dev %.1f\n", report.ContrastMean, report.ContrastStdDev)
		fmt.Printf("Table saved to: %s\n", cfg.Output.CorrespondenceFile)
	}
	if errors.Is(err, correspondence.ErrInsufficientCoverage) {
		return cli.Exit(err.Error(), exitCoverage)
	}
	return err
}

func patternsAction(c *cli.Context) error {
	_, s, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	dir := c.String(flagDir)
	patterns := s.Patterns()
	if err := storage.SavePatterns(dir, patterns); err != nil {
		return err
	}
	logger.Infow("Saved patterns", "dir", dir, "count", len(patterns))
	return nil
}

func configInitAction(c *cli.Context) error {
	path := c.String(flagConfig)
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("%s already exists", path)
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to %s\n", path)
	return nil
}
