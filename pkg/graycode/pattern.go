// Package graycode generates the binary Gray-code stripe patterns projected
// during a structured light capture.
//
// A PatternSet is laid out as follows, and the decoder relies on this order:
//
//	column bit-planes, most significant bit first, positive then negative
//	row bit-planes, most significant bit first, positive then negative
//	all-black image
//	all-white image
package graycode

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
)

const (
	// On is the intensity of a lit stripe
	On = 255
	// Off is the intensity of a dark stripe
	Off = 0
)

// ErrInvalidSize is returned for non-positive pattern resolutions
var ErrInvalidSize = errors.New("invalid pattern size")

// Params holds the Gray-code generation parameters.
type Params struct {
	// Width is the number of pattern columns to encode
	Width int

	// Height is the number of pattern rows to encode
	Height int

	// WhiteThreshold and BlackThreshold are carried along for the decoder and
	// do not influence generation
	WhiteThreshold int
	BlackThreshold int
}

// PatternSet is the ordered sequence of images to project
type PatternSet []*image.Gray

// Names returns a stable file name for every pattern in the set
func (p PatternSet) Names() []string {
	names := make([]string, len(p))
	for i := range p {
		names[i] = fmt.Sprintf("pattern_%02d.png", i)
	}
	return names
}

// Generator produces Gray-code patterns for a fixed resolution
type Generator struct {
	params  Params
	colBits int
	rowBits int
}

// NewGenerator validates the parameters and returns a generator
func NewGenerator(params Params) (*Generator, error) {
	if params.Width <= 0 || params.Height <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "%dx%d", params.Width, params.Height)
	}
	return &Generator{
		params:  params,
		colBits: NumBits(params.Width),
		rowBits: NumBits(params.Height),
	}, nil
}

// Params returns the parameters the generator was built with
func (g *Generator) Params() Params {
	return g.params
}

// ColumnBits is the number of bit-planes encoding the column index
func (g *Generator) ColumnBits() int {
	return g.colBits
}

// RowBits is the number of bit-planes encoding the row index
func (g *Generator) RowBits() int {
	return g.rowBits
}

// Count returns the number of images in a generated PatternSet
func (g *Generator) Count() int {
	return PatternCount(g.params.Width, g.params.Height)
}

// PatternCount is 2*ceil(log2(width)) + 2*ceil(log2(height)) + 2
func PatternCount(width, height int) int {
	return 2*NumBits(width) + 2*NumBits(height) + 2
}

// Generate builds the full pattern sequence including the shadow-mask pair
func (g *Generator) Generate() PatternSet {
	w, h := g.params.Width, g.params.Height
	set := make(PatternSet, 0, g.Count())

	// Column planes: stripes are vertical, every row is identical
	for bit := g.colBits - 1; bit >= 0; bit-- {
		pos, neg := newPair(w, h)
		for x := 0; x < w; x++ {
			if (BinaryToGray(uint(x))>>uint(bit))&1 == 1 {
				fillColumn(pos, x, On)
			} else {
				fillColumn(neg, x, On)
			}
		}
		set = append(set, pos, neg)
	}

	// Row planes: stripes are horizontal
	for bit := g.rowBits - 1; bit >= 0; bit-- {
		pos, neg := newPair(w, h)
		for y := 0; y < h; y++ {
			if (BinaryToGray(uint(y))>>uint(bit))&1 == 1 {
				fillRow(pos, y, On)
			} else {
				fillRow(neg, y, On)
			}
		}
		set = append(set, pos, neg)
	}

	black, white := g.ShadowImages()
	return append(set, black, white)
}

// ShadowImages returns the all-black and all-white reference images
func (g *Generator) ShadowImages() (black, white *image.Gray) {
	black = image.NewGray(image.Rect(0, 0, g.params.Width, g.params.Height))
	white = image.NewGray(image.Rect(0, 0, g.params.Width, g.params.Height))
	for i := range white.Pix {
		white.Pix[i] = On
	}
	return black, white
}

func newPair(w, h int) (*image.Gray, *image.Gray) {
	r := image.Rect(0, 0, w, h)
	return image.NewGray(r), image.NewGray(r)
}

func fillColumn(img *image.Gray, x int, v uint8) {
	for y := 0; y < img.Rect.Dy(); y++ {
		img.Pix[y*img.Stride+x] = v
	}
}

func fillRow(img *image.Gray, y int, v uint8) {
	row := img.Pix[y*img.Stride : y*img.Stride+img.Rect.Dx()]
	for i := range row {
		row[i] = v
	}
}
