// Package capture projects a pattern sequence and grabs one camera frame per
// pattern.
package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"procamgraycode/pkg/decode"
	"procamgraycode/pkg/graycode"
)

var (
	// ErrCaptureFailed wraps any camera failure during a capture run
	ErrCaptureFailed = errors.New("capture failed")

	// ErrMissingDevice is returned when a required collaborator is nil
	ErrMissingDevice = errors.New("missing capture device")
)

// CaptureError is a camera failure during a capture run. It matches
// ErrCaptureFailed with errors.Is and unwraps to the camera error.
type CaptureError struct {
	// Index is the pattern being captured, -1 during the preview
	Index int
	Total int

	Err error
}

func (e *CaptureError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%v: preview: %v", ErrCaptureFailed, e.Err)
	}
	return fmt.Sprintf("%v: pattern %d/%d: %v", ErrCaptureFailed, e.Index+1, e.Total, e.Err)
}

// Unwrap returns the camera error
func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrCaptureFailed
func (e *CaptureError) Is(target error) bool {
	return target == ErrCaptureFailed
}

// Camera delivers frames on demand
type Camera interface {
	Capture(ctx context.Context) (image.Image, error)
	Close() error
}

// Display shows images fullscreen and reports key presses
type Display interface {
	Show(img image.Image) error

	// PollKey returns immediately with the pressed key, if any
	PollKey() (int, bool)

	// WaitKey blocks up to d and returns the key pressed meanwhile, if any
	WaitKey(d time.Duration) (int, bool)

	Close() error
}

// FrameSink persists captured frames for offline reprocessing
type FrameSink interface {
	Save(index int, img image.Image) error
}

// Options configures a Sequencer
type Options struct {
	Camera    Camera
	Projector Display

	// Monitor shows the live camera image during Preview, may be nil
	Monitor Display

	// Sink receives every captured frame, may be nil
	Sink FrameSink

	// SettleDelay is the wait between showing a pattern and grabbing a frame
	SettleDelay time.Duration

	Logger *zap.SugaredLogger
}

// Sequencer drives the projector and camera. It does not own the devices;
// whoever opened them closes them.
type Sequencer struct {
	opts   Options
	logger *zap.SugaredLogger
}

// NewSequencer validates options and returns a Sequencer
func NewSequencer(opts Options) (*Sequencer, error) {
	if opts.Camera == nil {
		return nil, errors.Wrap(ErrMissingDevice, "camera")
	}
	if opts.Projector == nil {
		return nil, errors.Wrap(ErrMissingDevice, "projector")
	}
	if opts.SettleDelay < 0 {
		return nil, errors.Errorf("settle delay %v must not be negative", opts.SettleDelay)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sequencer{opts: opts, logger: logger}, nil
}

// Preview shows pattern on the projector and streams camera frames to the
// monitor until a key is pressed, so the camera can be aimed and focused.
// It returns the pressed key. Only the preview loop ends on a key press.
func (s *Sequencer) Preview(ctx context.Context, pattern image.Image) (int, error) {
	if err := s.opts.Projector.Show(pattern); err != nil {
		return -1, errors.Wrap(err, "failed to show preview pattern")
	}

	s.logger.Info("Camera adjustment preview started, press any key to continue")
	frames := 0
	for {
		if err := ctx.Err(); err != nil {
			return -1, err
		}

		frame, err := s.opts.Camera.Capture(ctx)
		if err != nil {
			return -1, &CaptureError{Index: -1, Err: err}
		}
		frames++

		if s.opts.Monitor != nil {
			if err := s.opts.Monitor.Show(frame); err != nil {
				s.logger.Warnw("Failed to show preview frame", "error", err)
			}
		}

		if key, ok := s.pollKey(); ok {
			s.logger.Infow("Preview finished", "key", key, "frames", frames)
			return key, nil
		}
	}
}

func (s *Sequencer) pollKey() (int, bool) {
	if s.opts.Monitor != nil {
		if key, ok := s.opts.Monitor.PollKey(); ok {
			return key, true
		}
	}
	return s.opts.Projector.PollKey()
}

// Run projects every pattern in order and captures exactly one frame for
// each. Any camera failure aborts the run since a partial sequence cannot be
// decoded.
func (s *Sequencer) Run(ctx context.Context, patterns graycode.PatternSet) (decode.FrameSequence, error) {
	frames := make(decode.FrameSequence, 0, len(patterns))

	for i, pattern := range patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := s.opts.Projector.Show(pattern); err != nil {
			return nil, errors.Wrapf(err, "failed to show pattern %d", i)
		}
		s.opts.Projector.WaitKey(s.opts.SettleDelay)

		img, err := s.opts.Camera.Capture(ctx)
		if err != nil {
			return nil, &CaptureError{Index: i, Total: len(patterns), Err: err}
		}

		if s.opts.Sink != nil {
			if err := s.opts.Sink.Save(i, img); err != nil {
				s.logger.Warnw("Failed to persist frame", "index", i, "error", err)
			}
		}

		frames = append(frames, ToGray(img))
		s.logger.Debugw("Captured frame", "index", i, "of", len(patterns), "size", img.Bounds().Size())
	}

	return frames, nil
}

// ToGray reduces a frame to 8-bit intensity with the standard luminance model.
// The result always starts at the origin.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
