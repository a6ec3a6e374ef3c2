// Package decode turns a captured Gray-code frame sequence into projector
// coordinates, one camera pixel at a time.
//
// The frame sequence must follow the layout produced by package graycode:
// column planes, row planes (each as positive/negative pairs, most
// significant bit first), then the black and white shadow frames.
package decode

import (
	"image"

	"github.com/pkg/errors"

	"procamgraycode/internal/models"
	"procamgraycode/pkg/graycode"
)

var (
	// ErrInvalidParams is returned by NewDecoder for unusable parameters
	ErrInvalidParams = errors.New("invalid decoder parameters")

	// ErrMisalignedSequence means the frame count does not match the pattern count
	ErrMisalignedSequence = errors.New("frame sequence does not match pattern set")

	// ErrFrameSize means frames of different sizes were mixed in one sequence
	ErrFrameSize = errors.New("inconsistent frame size")
)

// FrameSequence holds the captured intensity frames, aligned 1:1 with the
// projected PatternSet
type FrameSequence []*image.Gray

// Size returns the camera resolution of the sequence
func (f FrameSequence) Size() (width, height int) {
	if len(f) == 0 {
		return 0, 0
	}
	return f[0].Rect.Dx(), f[0].Rect.Dy()
}

// Params configures a Decoder
type Params struct {
	// PatternWidth and PatternHeight are the Gray-code resolution
	PatternWidth  int
	PatternHeight int

	// WhiteThreshold is the minimum |positive - negative| for a readable bit
	WhiteThreshold int

	// BlackThreshold is the minimum white - black difference for foreground
	BlackThreshold int

	// StepX and StepY scale pattern cells to display pixels
	StepX int
	StepY int
}

// Decoder decodes individual camera pixels. It holds no per-pixel state and
// is safe for concurrent use.
type Decoder struct {
	params  Params
	colBits int
	rowBits int
	count   int
}

// NewDecoder validates params and returns a Decoder
func NewDecoder(params Params) (*Decoder, error) {
	if params.PatternWidth <= 0 || params.PatternHeight <= 0 {
		return nil, errors.Wrapf(ErrInvalidParams, "pattern size %dx%d", params.PatternWidth, params.PatternHeight)
	}
	if params.WhiteThreshold <= 0 || params.BlackThreshold <= 0 {
		return nil, errors.Wrapf(ErrInvalidParams, "thresholds white=%d black=%d",
			params.WhiteThreshold, params.BlackThreshold)
	}
	if params.StepX <= 0 || params.StepY <= 0 {
		return nil, errors.Wrapf(ErrInvalidParams, "steps %dx%d", params.StepX, params.StepY)
	}

	return &Decoder{
		params:  params,
		colBits: graycode.NumBits(params.PatternWidth),
		rowBits: graycode.NumBits(params.PatternHeight),
		count:   graycode.PatternCount(params.PatternWidth, params.PatternHeight),
	}, nil
}

// Params returns the decoder configuration
func (d *Decoder) Params() Params {
	return d.params
}

// FrameCount is the number of frames a complete capture must contain
func (d *Decoder) FrameCount() int {
	return d.count
}

// Validate rejects sequences that cannot be decoded: wrong length, empty
// frames or frames of different sizes.
func (d *Decoder) Validate(frames FrameSequence) error {
	if len(frames) != d.count {
		return errors.Wrapf(ErrMisalignedSequence, "got %d frames, expected %d", len(frames), d.count)
	}

	for i, f := range frames {
		if f == nil {
			return errors.Wrapf(ErrFrameSize, "frame %d is missing", i)
		}
	}

	bounds := frames[0].Rect
	if bounds.Empty() {
		return errors.Wrap(ErrFrameSize, "empty frame")
	}
	for i, f := range frames {
		if f.Rect.Size() != bounds.Size() {
			return errors.Wrapf(ErrFrameSize, "frame %d is %v, frame 0 is %v", i, f.Rect.Size(), bounds.Size())
		}
	}
	return nil
}

// ShadowMask computes the mask from the last two frames of a validated sequence
func (d *Decoder) ShadowMask(frames FrameSequence) *ShadowMask {
	n := len(frames)
	return ComputeShadowMask(frames[n-1], frames[n-2], d.params.BlackThreshold)
}

// DecodePixel decodes the projector pixel seen by camera pixel (x, y).
//
// The pixel is rejected as Shadowed when it fails the mask, as Ambiguous when
// any bit-plane pair differs by less than WhiteThreshold, and as OutOfRange
// when the decoded cell falls outside the pattern. A single unreadable bit
// discards the whole pixel.
func (d *Decoder) DecodePixel(frames FrameSequence, mask *ShadowMask, x, y int) (models.ProjectorPixel, models.DecodeStatus) {
	if !mask.Foreground(x, y) {
		return models.ProjectorPixel{}, models.Shadowed
	}

	col, ok := d.readAxis(frames, 0, d.colBits, x, y)
	if !ok {
		return models.ProjectorPixel{}, models.Ambiguous
	}
	row, ok := d.readAxis(frames, 2*d.colBits, d.rowBits, x, y)
	if !ok {
		return models.ProjectorPixel{}, models.Ambiguous
	}

	px := int(graycode.GrayToBinary(col))
	py := int(graycode.GrayToBinary(row))
	if px >= d.params.PatternWidth || py >= d.params.PatternHeight {
		return models.ProjectorPixel{}, models.OutOfRange
	}

	return models.ProjectorPixel{X: px * d.params.StepX, Y: py * d.params.StepY}, models.Decoded
}

// readAxis accumulates nbits Gray-code bits starting at frame offset, MSB first
func (d *Decoder) readAxis(frames FrameSequence, offset, nbits, x, y int) (uint, bool) {
	var gray uint
	for i := 0; i < nbits; i++ {
		pos := intensity(frames[offset+2*i], x, y)
		neg := intensity(frames[offset+2*i+1], x, y)

		diff := pos - neg
		if diff < 0 {
			diff = -diff
		}
		if diff < d.params.WhiteThreshold {
			return 0, false
		}

		gray <<= 1
		if pos > neg {
			gray |= 1
		}
	}
	return gray, true
}

// intensity reads a pixel relative to the frame origin
func intensity(img *image.Gray, x, y int) int {
	return int(img.Pix[y*img.Stride+x])
}
