// Package device adapts OpenCV video capture and HighGUI windows to the
// camera and display collaborators used by package capture.
package device

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
	"golang.org/x/image/draw"

	"procamgraycode/pkg/graycode"
)

// Camera reads frames from an OpenCV video capture device
type Camera struct {
	vc  *gocv.VideoCapture
	buf gocv.Mat
}

// OpenCamera opens device and optionally requests a capture resolution.
// Zero width or height keeps the driver default.
func OpenCamera(device, width, height int) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open camera %d", device)
	}
	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	return &Camera{vc: vc, buf: gocv.NewMat()}, nil
}

// Capture grabs one frame
func (c *Camera) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok := c.vc.Read(&c.buf); !ok {
		return nil, errors.New("cannot read from camera")
	}
	if c.buf.Empty() {
		return nil, errors.New("camera returned an empty frame")
	}
	img, err := c.buf.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert frame")
	}
	return img, nil
}

// Close releases the capture device
func (c *Camera) Close() error {
	return multierr.Combine(c.buf.Close(), c.vc.Close())
}

// Geometry places a display window on the desktop
type Geometry struct {
	X, Y          int
	Width, Height int
	Fullscreen    bool

	// StepX and StepY, when set, draw grayscale patterns at exactly this many
	// display pixels per cell instead of stretching them to Width x Height
	StepX, StepY int
}

// Display is a HighGUI window
type Display struct {
	window   *gocv.Window
	geometry Geometry
}

// OpenDisplay creates the named window and moves it into place
func OpenDisplay(name string, geometry Geometry) *Display {
	window := gocv.NewWindow(name)
	if geometry.Width > 0 && geometry.Height > 0 {
		window.ResizeWindow(geometry.Width, geometry.Height)
	}
	window.MoveWindow(geometry.X, geometry.Y)
	if geometry.Fullscreen {
		window.SetWindowProperty(gocv.WindowPropertyFullscreen, gocv.WindowFullscreen)
	}
	return &Display{window: window, geometry: geometry}
}

// Show draws img. Patterns are laid out cell by cell when the geometry carries
// a step; otherwise fullscreen images are scaled to the display geometry with
// nearest neighbour sampling so stripes keep hard edges.
func (d *Display) Show(img image.Image) error {
	if gray, ok := img.(*image.Gray); ok && d.geometry.StepX > 0 && d.geometry.StepY > 0 &&
		d.geometry.Width > 0 && d.geometry.Height > 0 {
		img = graycode.Upscale(gray, d.geometry.StepX, d.geometry.StepY, d.geometry.Width, d.geometry.Height)
	} else if d.geometry.Fullscreen && d.geometry.Width > 0 && d.geometry.Height > 0 &&
		img.Bounds().Size() != image.Pt(d.geometry.Width, d.geometry.Height) {
		img = scale(img, d.geometry.Width, d.geometry.Height)
	}

	var mat gocv.Mat
	var err error
	if gray, ok := img.(*image.Gray); ok {
		mat, err = gocv.ImageGrayToMatGray(gray)
	} else {
		mat, err = gocv.ImageToMatRGB(img)
	}
	if err != nil {
		return errors.Wrap(err, "failed to convert image")
	}
	defer mat.Close()

	d.window.IMShow(mat)
	return nil
}

// PollKey checks for a key press without blocking
func (d *Display) PollKey() (int, bool) {
	return d.WaitKey(time.Millisecond)
}

// WaitKey processes window events for up to timeout and returns the key pressed
func (d *Display) WaitKey(timeout time.Duration) (int, bool) {
	ms := int(timeout / time.Millisecond)
	// a zero delay blocks forever in HighGUI
	if ms < 1 {
		ms = 1
	}
	key := d.window.WaitKey(ms)
	return key, key >= 0
}

// Close destroys the window
func (d *Display) Close() error {
	return d.window.Close()
}

func scale(img image.Image, width, height int) image.Image {
	var dst draw.Image
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(image.Rect(0, 0, width, height))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
