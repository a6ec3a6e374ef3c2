// Package correspondence assembles decoded camera pixels into the camera to
// projector table and the dense projector coordinate maps.
package correspondence

import (
	"context"

	"golang.org/x/sync/errgroup"

	"procamgraycode/internal/models"
	"procamgraycode/pkg/decode"
)

// Table is the list of valid correspondences in row-major camera order
type Table []models.Correspondence

// CoordinateMap holds the projector X and Y coordinate for every camera
// pixel, zero where no correspondence was found
type CoordinateMap struct {
	Width  int
	Height int

	// X and Y are row-major, Width*Height long
	X []int
	Y []int
}

// NewCoordinateMap allocates a zeroed map
func NewCoordinateMap(width, height int) *CoordinateMap {
	return &CoordinateMap{
		Width:  width,
		Height: height,
		X:      make([]int, width*height),
		Y:      make([]int, width*height),
	}
}

// At returns the projector coordinate stored for camera pixel (x, y)
func (m *CoordinateMap) At(x, y int) (int, int) {
	i := y*m.Width + x
	return m.X[i], m.Y[i]
}

// Stats counts camera pixels by decode outcome
type Stats map[models.DecodeStatus]int

// Total is the number of pixels visited
func (s Stats) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

// Result is the output of Build
type Result struct {
	Table Table
	Map   *CoordinateMap
	Stats Stats
}

// Builder scans the camera grid with a decoder
type Builder struct {
	decoder *decode.Decoder
	workers int
}

// NewBuilder returns a builder that decodes with at most workers goroutines
func NewBuilder(decoder *decode.Decoder, workers int) *Builder {
	if workers < 1 {
		workers = 1
	}
	return &Builder{decoder: decoder, workers: workers}
}

// Build decodes every camera pixel of frames.
//
// Rows are handed out to workers in contiguous bands. Each worker writes only
// the map slots and row buckets of its own band, so no locking is needed; the
// table is assembled in row-major order once every band is finished.
func (b *Builder) Build(ctx context.Context, frames decode.FrameSequence, mask *decode.ShadowMask) (*Result, error) {
	if err := b.decoder.Validate(frames); err != nil {
		return nil, err
	}

	width, height := frames.Size()
	cmap := NewCoordinateMap(width, height)
	rows := make([]Table, height)

	bands := b.workers
	if bands > height {
		bands = height
	}
	bandStats := make([]Stats, bands)
	rowsPerBand := (height + bands - 1) / bands

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for band := 0; band < bands; band++ {
		start := band * rowsPerBand
		end := start + rowsPerBand
		if end > height {
			end = height
		}
		stats := make(Stats, len(models.Statuses))
		bandStats[band] = stats

		g.Go(func() error {
			for y := start; y < end; y++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				var row Table
				for x := 0; x < width; x++ {
					p, status := b.decoder.DecodePixel(frames, mask, x, y)
					stats[status]++
					if status != models.Decoded {
						continue
					}
					i := y*width + x
					cmap.X[i] = p.X
					cmap.Y[i] = p.Y
					row = append(row, models.Correspondence{
						CameraX:    x,
						CameraY:    y,
						ProjectorX: p.X,
						ProjectorY: p.Y,
					})
				}
				rows[y] = row
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{Map: cmap, Stats: make(Stats, len(models.Statuses))}
	for _, s := range models.Statuses {
		result.Stats[s] = 0
	}
	for _, stats := range bandStats {
		for k, v := range stats {
			result.Stats[k] += v
		}
	}

	n := result.Stats[models.Decoded]
	result.Table = make(Table, 0, n)
	for _, row := range rows {
		result.Table = append(result.Table, row...)
	}

	return result, nil
}
