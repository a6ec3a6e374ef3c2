package models

// ProjectorPixel is a coordinate on the physical projector display, already
// scaled from pattern cells to display pixels.
type ProjectorPixel struct {
	X int
	Y int
}

// Correspondence maps one camera pixel to the projector pixel that lit it
type Correspondence struct {
	// CameraX and CameraY locate the pixel in the captured frames
	CameraX int
	CameraY int

	// ProjectorX and ProjectorY are display pixel coordinates
	ProjectorX int
	ProjectorY int
}

// DecodeStatus is the outcome of decoding a single camera pixel
type DecodeStatus int

const (
	// Decoded means every bit was readable and the result is in range
	Decoded DecodeStatus = iota
	// Shadowed means the pixel failed the white/black shadow-mask test
	Shadowed
	// Ambiguous means at least one bit-plane pair had too little contrast
	Ambiguous
	// OutOfRange means the decoded cell lies outside the pattern resolution
	OutOfRange
)

// String returns the lowercase name used in logs and metric labels
func (s DecodeStatus) String() string {
	switch s {
	case Decoded:
		return "decoded"
	case Shadowed:
		return "shadowed"
	case Ambiguous:
		return "ambiguous"
	case OutOfRange:
		return "out_of_range"
	default:
		return "unknown"
	}
}

// Statuses lists every decode status in declaration order
var Statuses = []DecodeStatus{Decoded, Shadowed, Ambiguous, OutOfRange}
