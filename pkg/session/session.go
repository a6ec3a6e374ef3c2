package session

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"procamgraycode/pkg/capture"
	"procamgraycode/pkg/config"
	"procamgraycode/pkg/correspondence"
	"procamgraycode/pkg/decode"
	"procamgraycode/pkg/graycode"
	"procamgraycode/pkg/metrics"
	"procamgraycode/pkg/storage"
	"procamgraycode/pkg/visualization"
)

// Params holds the session parameters.
// These parameters control pattern generation, capture, decoding and output.
type Params struct {
	// PatternWidth and PatternHeight are the Gray-code resolution in cells
	PatternWidth  int
	PatternHeight int

	// StepX and StepY are the display pixels covered by one pattern cell
	StepX int
	StepY int

	// WhiteThreshold is the minimum positive/negative difference per bit
	WhiteThreshold int

	// BlackThreshold is the minimum white/black difference for foreground
	BlackThreshold int

	// NumCores specifies how many goroutines decode in parallel
	NumCores int

	// SettleDelay is the wait between projecting a pattern and capturing it
	SettleDelay time.Duration

	// Preview runs the camera adjustment loop before capture
	Preview bool

	// FrameDir receives cam_NN.png frames. Empty disables persistence.
	FrameDir string

	// CorrespondenceFile receives the camera to projector table
	CorrespondenceFile string

	// VisualizationFile, MapDir and MetricsFile are optional outputs
	VisualizationFile string
	MapDir            string
	MetricsFile       string

	// MinCoverage is the fraction of camera pixels that must decode
	MinCoverage float64
}

// ParamsFromConfig flattens a validated configuration
func ParamsFromConfig(cfg *config.Config) Params {
	width, height := cfg.PatternSize()
	p := Params{
		PatternWidth:       width,
		PatternHeight:      height,
		StepX:              cfg.Projector.StepX,
		StepY:              cfg.Projector.StepY,
		WhiteThreshold:     cfg.Decode.WhiteThreshold,
		BlackThreshold:     cfg.Decode.BlackThreshold,
		NumCores:           cfg.Decode.NumCores,
		SettleDelay:        time.Duration(cfg.Capture.SettleDelayMs) * time.Millisecond,
		Preview:            cfg.Capture.Preview,
		CorrespondenceFile: cfg.Output.CorrespondenceFile,
		VisualizationFile:  cfg.Output.VisualizationFile,
		MapDir:             cfg.Output.MapDir,
		MetricsFile:        cfg.Output.MetricsFile,
		MinCoverage:        cfg.Decode.MinCoverage,
	}
	if cfg.Capture.SaveFrames {
		p.FrameDir = cfg.Capture.FrameDir
	}
	return p
}

// Hardware bundles the devices a capture needs. Monitor may be nil.
type Hardware struct {
	Camera    capture.Camera
	Projector capture.Display
	Monitor   capture.Display
}

// Close releases every device that was opened
func (h Hardware) Close() error {
	var err error
	if h.Camera != nil {
		err = multierr.Append(err, h.Camera.Close())
	}
	if h.Projector != nil {
		err = multierr.Append(err, h.Projector.Close())
	}
	if h.Monitor != nil {
		err = multierr.Append(err, h.Monitor.Close())
	}
	return err
}

// Opener acquires the hardware. It is called only after the configuration has
// been validated, so configuration errors never touch a device.
type Opener func() (Hardware, error)

// Session runs one structured light calibration: pattern generation,
// capture, decoding and export.
//
// The session consists of several steps:
// 1. Generating the Gray-code patterns and shadow-mask pair
// 2. Optional camera adjustment preview
// 3. Projecting every pattern and capturing the camera response
// 4. Decoding every camera pixel in parallel
// 5. Writing the correspondence table, visualization and metrics
type Session struct {
	params    Params
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
	generator *graycode.Generator
	decoder   *decode.Decoder

	// report stores the outcome of the last decode
	report correspondence.Report
}

// NewSession validates params and returns a session ready to run
func NewSession(params Params, logger *zap.SugaredLogger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	generator, err := graycode.NewGenerator(graycode.Params{
		Width:          params.PatternWidth,
		Height:         params.PatternHeight,
		WhiteThreshold: params.WhiteThreshold,
		BlackThreshold: params.BlackThreshold,
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid pattern configuration")
	}

	decoder, err := decode.NewDecoder(decode.Params{
		PatternWidth:   params.PatternWidth,
		PatternHeight:  params.PatternHeight,
		WhiteThreshold: params.WhiteThreshold,
		BlackThreshold: params.BlackThreshold,
		StepX:          params.StepX,
		StepY:          params.StepY,
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid decoder configuration")
	}

	if params.CorrespondenceFile == "" {
		return nil, errors.New("correspondence file is required")
	}

	return &Session{
		params:    params,
		logger:    logger,
		metrics:   metrics.New(),
		generator: generator,
		decoder:   decoder,
	}, nil
}

// Patterns returns the pattern sequence this session projects
func (s *Session) Patterns() graycode.PatternSet {
	return s.generator.Generate()
}

// Metrics returns the session collectors
func (s *Session) Metrics() *metrics.Metrics {
	return s.metrics
}

// GetReport returns the report of the last decode
func (s *Session) GetReport() correspondence.Report {
	return s.report
}

// Process runs the complete calibration pipeline. The hardware returned by
// open is released before decoding starts and on every error path.
//
// The report is returned whenever decoding ran, including when the coverage
// check fails with correspondence.ErrInsufficientCoverage.
func (s *Session) Process(ctx context.Context, open Opener) (*correspondence.Report, error) {
	s.logger.Info("Step 1: Generating Gray-code patterns...")
	start := time.Now()
	patterns := s.generator.Generate()
	s.metrics.ObserveStage("generate", start)
	s.logger.Infow("Generated patterns",
		"count", len(patterns),
		"columnBits", s.generator.ColumnBits(),
		"rowBits", s.generator.RowBits(),
		"width", s.params.PatternWidth,
		"height", s.params.PatternHeight)

	frames, err := s.captureAll(ctx, open, patterns)
	if err != nil {
		return nil, err
	}

	return s.DecodeFrames(ctx, frames)
}

// captureAll owns the hardware for the duration of the capture
func (s *Session) captureAll(ctx context.Context, open Opener, patterns graycode.PatternSet) (frames decode.FrameSequence, err error) {
	hw, err := open()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open hardware")
	}
	defer func() {
		if cerr := hw.Close(); cerr != nil {
			s.logger.Warnw("Failed to release hardware", "error", cerr)
			if err == nil {
				err = errors.Wrap(cerr, "failed to release hardware")
				frames = nil
			}
		}
	}()

	opts := capture.Options{
		Camera:      hw.Camera,
		Projector:   hw.Projector,
		Monitor:     hw.Monitor,
		SettleDelay: s.params.SettleDelay,
		Logger:      s.logger,
	}
	if s.params.FrameDir != "" {
		store, err := storage.NewFrameStore(s.params.FrameDir)
		if err != nil {
			return nil, err
		}
		opts.Sink = store
	}

	seq, err := capture.NewSequencer(opts)
	if err != nil {
		return nil, err
	}

	if s.params.Preview {
		s.logger.Info("Step 2: Waiting for camera adjustment...")
		if _, err := seq.Preview(ctx, previewPattern(patterns)); err != nil {
			return nil, errors.Wrap(err, "preview failed")
		}
	}

	s.logger.Infow("Step 3: Capturing patterns...", "settleDelay", s.params.SettleDelay)
	start := time.Now()
	frames, err = seq.Run(ctx, patterns)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveStage("capture", start)
	s.metrics.ObserveCapture(len(frames))

	return frames, nil
}

// previewPattern returns the last bit-plane, whose fine stripes make focus
// problems easy to see. A 1x1 pattern has no bit-planes and previews white.
func previewPattern(patterns graycode.PatternSet) *image.Gray {
	if len(patterns) > 2 {
		return patterns[len(patterns)-3]
	}
	return patterns[len(patterns)-1]
}

// DecodeImages decodes a stored sequence, reducing colour frames to intensity
func (s *Session) DecodeImages(ctx context.Context, images []image.Image) (*correspondence.Report, error) {
	frames := make(decode.FrameSequence, len(images))
	for i, img := range images {
		frames[i] = capture.ToGray(img)
	}
	return s.DecodeFrames(ctx, frames)
}

// DecodeFrames decodes a complete frame sequence and writes every configured output
func (s *Session) DecodeFrames(ctx context.Context, frames decode.FrameSequence) (*correspondence.Report, error) {
	s.logger.Info("Step 4: Decoding Gray code...")
	if err := s.decoder.Validate(frames); err != nil {
		return nil, err
	}

	start := time.Now()
	mask := s.decoder.ShadowMask(frames)
	result, err := correspondence.NewBuilder(s.decoder, s.params.NumCores).Build(ctx, frames, mask)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode frames")
	}
	s.metrics.ObserveStage("decode", start)

	s.report = correspondence.Summarize(result, mask)
	s.metrics.ObserveResult(result.Stats, s.report)
	width, height := frames.Size()
	s.logger.Infow("Decoded correspondences",
		"valid", s.report.Valid,
		"total", s.report.TotalPixels,
		"coverage", s.report.Coverage,
		"foreground", s.report.Foreground,
		"ambiguous", s.report.Ambiguous,
		"outOfRange", s.report.OutOfRange,
		"camera", image.Pt(width, height))

	s.logger.Info("Step 5: Writing results...")
	if err := s.export(result); err != nil {
		return &s.report, err
	}

	report := s.report
	if err := report.Check(s.params.MinCoverage); err != nil {
		return &report, err
	}
	return &report, nil
}

func (s *Session) export(result *correspondence.Result) error {
	if err := correspondence.SaveCSV(s.params.CorrespondenceFile, result.Table); err != nil {
		return err
	}
	s.logger.Infow("Saved correspondence table", "path", s.params.CorrespondenceFile, "entries", len(result.Table))

	if s.params.VisualizationFile != "" || s.params.MapDir != "" {
		viewer := visualization.NewViewer(result.Map)
		if s.params.VisualizationFile != "" {
			if err := viewer.SavePNG(s.params.VisualizationFile); err != nil {
				s.logger.Warnw("Failed to save visualization", "path", s.params.VisualizationFile, "error", err)
			}
		}
		if s.params.MapDir != "" {
			if err := viewer.SaveMapsTIFF(s.params.MapDir); err != nil {
				s.logger.Warnw("Failed to save coordinate maps", "dir", s.params.MapDir, "error", err)
			}
		}
	}

	if s.params.MetricsFile != "" {
		if err := s.metrics.WriteTextfile(s.params.MetricsFile); err != nil {
			s.logger.Warnw("Failed to save metrics", "path", s.params.MetricsFile, "error", err)
		}
	}
	return nil
}

// DecodeOffline decodes a cam_NN.png sequence stored in frameDir without any
// hardware. Stored frames are never rewritten.
func DecodeOffline(ctx context.Context, params Params, frameDir string, logger *zap.SugaredLogger) (*correspondence.Report, error) {
	params.FrameDir = ""
	s, err := NewSession(params, logger)
	if err != nil {
		return nil, err
	}

	images, err := storage.LoadFrames(frameDir)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("Loaded frames", "dir", frameDir, "count", len(images))

	return s.DecodeImages(ctx, images)
}
