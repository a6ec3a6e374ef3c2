// Package testscene simulates a projector lighting a surface watched by a
// camera. It renders what the camera would capture for a given pattern and is
// used by the tests of the capture, decode and correspondence packages.
package testscene

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Scene maps camera pixels to the pattern cells that illuminate them
type Scene struct {
	// Width and Height are the camera resolution
	Width  int
	Height int

	// Lookup returns the pattern cell lighting camera pixel (x, y). ok=false
	// means the projector does not reach the pixel.
	Lookup func(x, y int) (px, py int, ok bool)

	// Ambient is the intensity of an unlit pixel, Gain is added where the
	// projected pattern is bright
	Ambient uint8
	Gain    uint8
}

// Grid returns a scene where every camera pixel sees cell (x/cellW, y/cellH),
// clipped to a pattern of patternW x patternH cells
func Grid(width, height, cellW, cellH, patternW, patternH int) Scene {
	return Scene{
		Width:  width,
		Height: height,
		Lookup: func(x, y int) (int, int, bool) {
			px, py := x/cellW, y/cellH
			return px, py, px < patternW && py < patternH
		},
		Ambient: 20,
		Gain:    200,
	}
}

// Render returns the camera view of a single projected pattern
func (s Scene) Render(pattern *image.Gray) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			v := s.Ambient
			if px, py, ok := s.Lookup(x, y); ok && pattern.GrayAt(px, py).Y > 127 {
				v += s.Gain
			}
			out.Pix[y*out.Stride+x] = v
		}
	}
	return out
}

// CaptureAll renders every pattern in order
func (s Scene) CaptureAll(patterns []*image.Gray) []*image.Gray {
	frames := make([]*image.Gray, len(patterns))
	for i, p := range patterns {
		frames[i] = s.Render(p)
	}
	return frames
}

// Uniform returns n frames of identical constant intensity
func Uniform(n, width, height int, v uint8) []*image.Gray {
	frames := make([]*image.Gray, n)
	for i := range frames {
		img := image.NewGray(image.Rect(0, 0, width, height))
		for j := range img.Pix {
			img.Pix[j] = v
		}
		frames[i] = img
	}
	return frames
}

// Projector is an in-memory display that remembers the last shown image
type Projector struct {
	mu      sync.Mutex
	current *image.Gray
	shown   int
	waits   []time.Duration
	keys    []int
	closed  bool
}

// Show records img as the projected image
func (p *Projector) Show(img image.Image) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("projector closed")
	}
	p.current = toGray(img)
	p.shown++
	return nil
}

// QueueKeys makes the next PollKey calls return the given key codes, one per
// call, after which no key is pressed
func (p *Projector) QueueKeys(keys ...int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, keys...)
}

// PollKey returns the next queued key, if any
func (p *Projector) PollKey() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return -1, false
	}
	k := p.keys[0]
	p.keys = p.keys[1:]
	return k, k >= 0
}

// WaitKey records the requested delay without sleeping
func (p *Projector) WaitKey(d time.Duration) (int, bool) {
	p.mu.Lock()
	p.waits = append(p.waits, d)
	p.mu.Unlock()
	return p.PollKey()
}

// Close marks the projector closed
func (p *Projector) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Current returns the last shown image
func (p *Projector) Current() *image.Gray {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Shown returns how many images were displayed
func (p *Projector) Shown() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown
}

// Waits returns every delay passed to WaitKey
func (p *Projector) Waits() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.waits...)
}

// Closed reports whether Close was called
func (p *Projector) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Camera renders the scene under whatever the projector currently shows
type Camera struct {
	Scene     Scene
	Projector *Projector

	// Color makes Capture return RGBA frames instead of grayscale
	Color bool

	// FailAt makes the n-th capture (0 based) fail, negative disables it
	FailAt int

	mu       sync.Mutex
	captures int
	closed   bool
}

// NewCamera returns a camera watching scene lit by projector
func NewCamera(scene Scene, projector *Projector) *Camera {
	return &Camera{Scene: scene, Projector: projector, FailAt: -1}
}

// Capture renders one frame
func (c *Camera) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	n := c.captures
	c.captures++
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil, errors.New("camera closed")
	}
	if n == c.FailAt {
		return nil, errors.New("camera disconnected")
	}

	pattern := c.Projector.Current()
	if pattern == nil {
		pattern = image.NewGray(image.Rect(0, 0, 1, 1))
	}
	frame := c.Scene.Render(pattern)
	if !c.Color {
		return frame, nil
	}

	rgba := image.NewRGBA(frame.Rect)
	for y := 0; y < frame.Rect.Dy(); y++ {
		for x := 0; x < frame.Rect.Dx(); x++ {
			v := frame.GrayAt(x, y).Y
			rgba.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return rgba, nil
}

// Close marks the camera closed
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Captures returns the number of Capture calls
func (c *Camera) Captures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures
}

// Closed reports whether Close was called
func (c *Camera) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return g
}
