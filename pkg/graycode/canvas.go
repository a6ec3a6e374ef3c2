package graycode

import (
	"image"

	"golang.org/x/image/draw"
)

// Upscale renders a cell-resolution pattern onto a black width x height
// display canvas. Every cell becomes a stepX x stepY block anchored at the top
// left, so cell (c, r) covers display pixels [c*stepX, (c+1)*stepX) x
// [r*stepY, (r+1)*stepY), which is the coordinate the decoder reports.
// Blocks beyond the canvas are clipped.
func Upscale(pattern *image.Gray, stepX, stepY, width, height int) *image.Gray {
	canvas := image.NewGray(image.Rect(0, 0, width, height))
	src := pattern.Bounds()
	dr := image.Rect(0, 0, src.Dx()*stepX, src.Dy()*stepY)
	draw.NearestNeighbor.Scale(canvas, dr, pattern, src, draw.Src, nil)
	return canvas
}
