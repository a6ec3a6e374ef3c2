package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"

	"procamgraycode/pkg/correspondence"
)

// Viewer renders a projector coordinate map for inspection and export
type Viewer struct {
	// cmap holds the projector coordinate of every camera pixel
	cmap *correspondence.CoordinateMap

	// maxX and maxY are the largest coordinates present, used to normalise
	maxX int
	maxY int
}

// NewViewer creates a viewer over a coordinate map
func NewViewer(cmap *correspondence.CoordinateMap) *Viewer {
	v := &Viewer{cmap: cmap}
	for i := range cmap.X {
		if cmap.X[i] > v.maxX {
			v.maxX = cmap.X[i]
		}
		if cmap.Y[i] > v.maxY {
			v.maxY = cmap.Y[i]
		}
	}
	return v
}

// Render returns a false-colour image: blue encodes the projector X
// coordinate and green the projector Y coordinate, each scaled to 0-255.
// Pixels without a correspondence stay black.
func (v *Viewer) Render() *image.RGBA {
	w, h := v.cmap.Width, v.cmap.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px, py := v.cmap.At(x, y)
			img.SetRGBA(x, y, color.RGBA{
				B: scale8(px, v.maxX),
				G: scale8(py, v.maxY),
				A: 255,
			})
		}
	}
	return img
}

// MapImage returns the X or Y coordinate map as a 16-bit grayscale image
// holding raw display pixel coordinates
func (v *Viewer) MapImage(axis string) (*image.Gray16, error) {
	var values []int
	switch axis {
	case "x", "X":
		values = v.cmap.X
	case "y", "Y":
		values = v.cmap.Y
	default:
		return nil, errors.Errorf("invalid axis: %s (must be x or y)", axis)
	}

	w, h := v.cmap.Width, v.cmap.Height
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			value := values[y*w+x]
			if value > math.MaxUint16 {
				return nil, errors.Errorf("coordinate %d at (%d,%d) does not fit in 16 bits", value, x, y)
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(value)})
		}
	}
	return img, nil
}

// SavePNG writes the false-colour rendering
func (v *Viewer) SavePNG(filename string) (err error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return errors.Wrap(err, "failed to create visualization directory")
	}
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", filename)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "failed to close %s", filename)
		}
	}()

	if err := png.Encode(file, v.Render()); err != nil {
		return errors.Wrapf(err, "failed to encode %s", filename)
	}
	return nil
}

// SaveMapsTIFF writes c2p_x.tiff and c2p_y.tiff into outputDir
func (v *Viewer) SaveMapsTIFF(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create map directory")
	}

	for _, axis := range []string{"x", "y"} {
		img, err := v.MapImage(axis)
		if err != nil {
			return errors.Wrapf(err, "failed to build %s map", axis)
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("c2p_%s.tiff", axis))
		if err := saveTIFF(img, filename); err != nil {
			return err
		}
	}
	return nil
}

func saveTIFF(img image.Image, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", filename)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "failed to close %s", filename)
		}
	}()

	if err := tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return errors.Wrapf(err, "failed to encode %s", filename)
	}
	return nil
}

func scale8(value, max int) uint8 {
	if max <= 0 || value <= 0 {
		return 0
	}
	return uint8(value * 255 / max)
}
