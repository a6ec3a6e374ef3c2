package decode

import "image"

// ShadowMask marks camera pixels that receive enough projector light to be
// decoded reliably
type ShadowMask struct {
	Width  int
	Height int

	// Contrast holds white - black per pixel in row-major order
	Contrast []int

	fg []bool
}

// ComputeShadowMask classifies a pixel as foreground iff white - black > threshold
func ComputeShadowMask(white, black *image.Gray, threshold int) *ShadowMask {
	w, h := white.Rect.Dx(), white.Rect.Dy()
	m := &ShadowMask{
		Width:    w,
		Height:   h,
		Contrast: make([]int, w*h),
		fg:       make([]bool, w*h),
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := intensity(white, x, y) - intensity(black, x, y)
			m.Contrast[y*w+x] = c
			m.fg[y*w+x] = c > threshold
		}
	}
	return m
}

// Foreground reports whether (x, y) passed the mask. Pixels outside the mask
// bounds are background.
func (m *ShadowMask) Foreground(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.fg[y*m.Width+x]
}

// Count returns the number of foreground pixels
func (m *ShadowMask) Count() int {
	n := 0
	for _, v := range m.fg {
		if v {
			n++
		}
	}
	return n
}
