package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"

	"procamgraycode/internal/testscene"
	"procamgraycode/pkg/graycode"
)

// memorySink keeps saved frames in memory
type memorySink struct {
	mu      sync.Mutex
	indices []int
	fail    bool
}

func (m *memorySink) Save(index int, img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.indices = append(m.indices, index)
	return nil
}

func newPatterns(t *testing.T, w, h int) graycode.PatternSet {
	t.Helper()
	gen, err := graycode.NewGenerator(graycode.Params{Width: w, Height: h})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return gen.Generate()
}

// TestRunCapturesEveryPattern checks count, order and settle delays
func TestRunCapturesEveryPattern(t *testing.T) {
	scene := testscene.Grid(24, 16, 3, 2, 8, 8)
	projector := &testscene.Projector{}
	camera := testscene.NewCamera(scene, projector)
	sink := &memorySink{}

	seq, err := NewSequencer(Options{
		Camera:      camera,
		Projector:   projector,
		Sink:        sink,
		SettleDelay: 400 * time.Millisecond,
		Logger:      zaptest.NewLogger(t).Sugar(),
	})
	if err != nil {
		t.Fatalf("NewSequencer: %v", err)
	}

	patterns := newPatterns(t, 8, 8)
	frames, err := seq.Run(context.Background(), patterns)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(frames) != len(patterns) {
		t.Fatalf("Expected %d frames, got %d", len(patterns), len(frames))
	}
	for i, f := range frames {
		want := scene.Render(patterns[i])
		if !bytes.Equal(f.Pix, want.Pix) {
			t.Errorf("Frame %d does not match pattern %d", i, i)
		}
	}

	if camera.Captures() != len(patterns) || projector.Shown() != len(patterns) {
		t.Errorf("Expected %d captures and shows, got %d and %d", len(patterns), camera.Captures(), projector.Shown())
	}
	for i, d := range projector.Waits() {
		if d != 400*time.Millisecond {
			t.Errorf("Wait %d was %v", i, d)
		}
	}
	if len(sink.indices) != len(patterns) || sink.indices[len(patterns)-1] != len(patterns)-1 {
		t.Errorf("Sink received %v", sink.indices)
	}
}

// TestRunReducesColorFrames checks RGBA frames are reduced to intensity
func TestRunReducesColorFrames(t *testing.T) {
	scene := testscene.Grid(8, 8, 2, 2, 4, 4)
	projector := &testscene.Projector{}
	camera := testscene.NewCamera(scene, projector)
	camera.Color = true

	seq, _ := NewSequencer(Options{Camera: camera, Projector: projector})
	patterns := newPatterns(t, 4, 4)
	frames, err := seq.Run(context.Background(), patterns)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	white := frames[len(frames)-1]
	if white.GrayAt(0, 0).Y != 220 {
		t.Errorf("Expected lit intensity 220, got %d", white.GrayAt(0, 0).Y)
	}
}

// TestRunAbortsOnCameraFailure ensures no partial sequence is returned
func TestRunAbortsOnCameraFailure(t *testing.T) {
	projector := &testscene.Projector{}
	camera := testscene.NewCamera(testscene.Grid(8, 8, 2, 2, 4, 4), projector)
	camera.FailAt = 3

	seq, _ := NewSequencer(Options{Camera: camera, Projector: projector})
	frames, err := seq.Run(context.Background(), newPatterns(t, 4, 4))
	if !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("Expected ErrCaptureFailed, got %v", err)
	}
	if frames != nil {
		t.Errorf("Expected no frames on failure, got %d", len(frames))
	}
	if camera.Captures() != 4 {
		t.Errorf("Expected capture to stop after the failing frame, got %d captures", camera.Captures())
	}

	var captureErr *CaptureError
	if !errors.As(err, &captureErr) {
		t.Fatalf("Expected *CaptureError, got %T", err)
	}
	if captureErr.Index != 3 || captureErr.Total != 10 {
		t.Errorf("Expected failure at pattern 3 of 10, got %d of %d", captureErr.Index, captureErr.Total)
	}
	if captureErr.Err == nil || captureErr.Err.Error() != "camera disconnected" {
		t.Errorf("Expected the camera error to be kept, got %v", captureErr.Err)
	}
	if got := err.Error(); got != "capture failed: pattern 4/10: camera disconnected" {
		t.Errorf("Unexpected message %q", got)
	}
}

// TestRunSinkFailureIsNotFatal keeps capturing when persistence fails
func TestRunSinkFailureIsNotFatal(t *testing.T) {
	projector := &testscene.Projector{}
	camera := testscene.NewCamera(testscene.Grid(8, 8, 2, 2, 4, 4), projector)

	seq, _ := NewSequencer(Options{
		Camera:    camera,
		Projector: projector,
		Sink:      &memorySink{fail: true},
		Logger:    zaptest.NewLogger(t).Sugar(),
	})
	patterns := newPatterns(t, 4, 4)
	frames, err := seq.Run(context.Background(), patterns)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(frames) != len(patterns) {
		t.Errorf("Expected %d frames, got %d", len(patterns), len(frames))
	}
}

func TestRunCancelled(t *testing.T) {
	projector := &testscene.Projector{}
	camera := testscene.NewCamera(testscene.Grid(8, 8, 2, 2, 4, 4), projector)
	seq, _ := NewSequencer(Options{Camera: camera, Projector: projector})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := seq.Run(ctx, newPatterns(t, 4, 4)); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if camera.Captures() != 0 {
		t.Errorf("No frame should be captured after cancellation")
	}
}

// TestPreviewStopsOnKey streams frames until the queued key arrives
func TestPreviewStopsOnKey(t *testing.T) {
	projector := &testscene.Projector{}
	monitor := &testscene.Projector{}
	camera := testscene.NewCamera(testscene.Grid(8, 8, 2, 2, 4, 4), projector)
	monitor.QueueKeys(-1, -1, 'q')

	seq, _ := NewSequencer(Options{
		Camera:    camera,
		Projector: projector,
		Monitor:   monitor,
		Logger:    zaptest.NewLogger(t).Sugar(),
	})

	patterns := newPatterns(t, 4, 4)
	key, err := seq.Preview(context.Background(), patterns[len(patterns)-3])
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if key != 'q' {
		t.Errorf("Expected key q, got %d", key)
	}
	if camera.Captures() != 3 || monitor.Shown() != 3 {
		t.Errorf("Expected 3 preview frames, got %d captures and %d shows", camera.Captures(), monitor.Shown())
	}
	if projector.Shown() != 1 {
		t.Errorf("Projector should show the preview pattern once, got %d", projector.Shown())
	}
}

func TestPreviewCameraFailure(t *testing.T) {
	projector := &testscene.Projector{}
	camera := testscene.NewCamera(testscene.Grid(8, 8, 2, 2, 4, 4), projector)
	camera.FailAt = 0

	seq, _ := NewSequencer(Options{Camera: camera, Projector: projector})
	_, err := seq.Preview(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	if !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("Expected ErrCaptureFailed, got %v", err)
	}
	var captureErr *CaptureError
	if !errors.As(err, &captureErr) || captureErr.Index != -1 {
		t.Errorf("Expected preview CaptureError, got %#v", err)
	}
	if got := err.Error(); got != "capture failed: preview: camera disconnected" {
		t.Errorf("Unexpected message %q", got)
	}
}

func TestNewSequencerRequiresDevices(t *testing.T) {
	projector := &testscene.Projector{}
	camera := testscene.NewCamera(testscene.Grid(1, 1, 1, 1, 1, 1), projector)

	if _, err := NewSequencer(Options{Projector: projector}); errors.Cause(err) != ErrMissingDevice {
		t.Errorf("Expected ErrMissingDevice without camera, got %v", err)
	}
	if _, err := NewSequencer(Options{Camera: camera}); errors.Cause(err) != ErrMissingDevice {
		t.Errorf("Expected ErrMissingDevice without projector, got %v", err)
	}
	if _, err := NewSequencer(Options{Camera: camera, Projector: projector, SettleDelay: -time.Second}); err == nil {
		t.Error("Expected error for negative settle delay")
	}
}

func TestToGray(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(5, 5, 7, 6))
	rgba.SetRGBA(5, 5, color.RGBA{R: 255, A: 255})
	rgba.SetRGBA(6, 5, color.RGBA{R: 90, G: 90, B: 90, A: 255})

	g := ToGray(rgba)
	if g.Rect != image.Rect(0, 0, 2, 1) {
		t.Fatalf("Expected origin-based bounds, got %v", g.Rect)
	}
	if g.GrayAt(0, 0).Y != 76 {
		t.Errorf("Expected luminance 76 for pure red, got %d", g.GrayAt(0, 0).Y)
	}
	if g.GrayAt(1, 0).Y != 90 {
		t.Errorf("Expected 90 for neutral gray, got %d", g.GrayAt(1, 0).Y)
	}

	src := image.NewGray(image.Rect(0, 0, 3, 3))
	if ToGray(src) != src {
		t.Error("Origin-based gray images should be returned unchanged")
	}
}
