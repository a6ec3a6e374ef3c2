package correspondence

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"procamgraycode/internal/models"
	"procamgraycode/pkg/decode"
)

// ErrInsufficientCoverage is returned by Report.Check when too few camera
// pixels produced a correspondence
var ErrInsufficientCoverage = errors.New("insufficient correspondence coverage")

// Report summarises a decoded session for the user
type Report struct {
	// TotalPixels is the camera resolution Wc*Hc
	TotalPixels int

	// Foreground is the number of pixels that passed the shadow mask
	Foreground int

	// Valid is the number of correspondences in the table
	Valid int

	// Ambiguous and OutOfRange count foreground pixels dropped while decoding
	Ambiguous  int
	OutOfRange int

	// Coverage is Valid / TotalPixels
	Coverage float64

	// ContrastMean and ContrastStdDev describe white - black over the foreground
	ContrastMean   float64
	ContrastStdDev float64
}

// Summarize builds a Report from a build result and the mask used to produce it
func Summarize(result *Result, mask *decode.ShadowMask) Report {
	r := Report{
		TotalPixels: mask.Width * mask.Height,
		Foreground:  mask.Count(),
		Valid:       len(result.Table),
		Ambiguous:   result.Stats[models.Ambiguous],
		OutOfRange:  result.Stats[models.OutOfRange],
	}
	if r.TotalPixels > 0 {
		r.Coverage = float64(r.Valid) / float64(r.TotalPixels)
	}

	if r.Foreground > 0 {
		contrast := make([]float64, 0, r.Foreground)
		for y := 0; y < mask.Height; y++ {
			for x := 0; x < mask.Width; x++ {
				if mask.Foreground(x, y) {
					contrast = append(contrast, float64(mask.Contrast[y*mask.Width+x]))
				}
			}
		}
		if len(contrast) == 1 {
			r.ContrastMean = contrast[0]
		} else {
			r.ContrastMean, r.ContrastStdDev = stat.MeanStdDev(contrast, nil)
		}
	}

	return r
}

// Check returns ErrInsufficientCoverage when Coverage is below minCoverage or
// when no correspondence was found at all
func (r Report) Check(minCoverage float64) error {
	if r.Valid == 0 {
		return errors.Wrapf(ErrInsufficientCoverage, "no valid correspondences out of %d camera pixels", r.TotalPixels)
	}
	if r.Coverage < minCoverage {
		return errors.Wrapf(ErrInsufficientCoverage, "%d of %d camera pixels (%.2f%%) below required %.2f%%",
			r.Valid, r.TotalPixels, 100*r.Coverage, 100*minCoverage)
	}
	return nil
}

// String renders the report on one line
func (r Report) String() string {
	return fmt.Sprintf("%d/%d valid (%.2f%%), foreground %d, ambiguous %d, out of range %d",
		r.Valid, r.TotalPixels, 100*r.Coverage, r.Foreground, r.Ambiguous, r.OutOfRange)
}
