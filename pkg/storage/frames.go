// Package storage persists captured frames and generated patterns as PNG
// files so that a capture session can be decoded again offline.
package storage

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"procamgraycode/pkg/graycode"
)

// ErrIncompleteSequence means the stored frame indices are not contiguous from 0
var ErrIncompleteSequence = errors.New("incomplete frame sequence")

var frameName = regexp.MustCompile(`^cam_(\d+)\.png$`)

// FrameName returns the file name of the frame captured at index
func FrameName(index int) string {
	return fmt.Sprintf("cam_%02d.png", index)
}

// FrameStore writes captured frames into a directory
type FrameStore struct {
	dir string
}

// NewFrameStore creates dir if needed and returns a store writing into it
func NewFrameStore(dir string) (*FrameStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create frame directory")
	}
	return &FrameStore{dir: dir}, nil
}

// Dir returns the directory frames are written to
func (s *FrameStore) Dir() string {
	return s.dir
}

// Save writes img as cam_NN.png
func (s *FrameStore) Save(index int, img image.Image) error {
	return writePNG(filepath.Join(s.dir, FrameName(index)), img)
}

// LoadFrames reads every cam_NN.png in dir ordered by index. The indices must
// run from 0 without gaps.
func LoadFrames(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read frame directory")
	}

	type indexed struct {
		index int
		name  string
	}
	var files []indexed
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := frameName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		files = append(files, indexed{index: n, name: e.Name()})
	}

	if len(files) == 0 {
		return nil, errors.Wrapf(ErrIncompleteSequence, "no cam_NN.png frames in %s", dir)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].index < files[j].index
	})

	frames := make([]image.Image, len(files))
	for i, f := range files {
		if f.index != i {
			return nil, errors.Wrapf(ErrIncompleteSequence, "expected frame %d, found %s", i, f.name)
		}
		img, err := readPNG(filepath.Join(dir, f.name))
		if err != nil {
			return nil, err
		}
		frames[i] = img
	}
	return frames, nil
}

// SavePatterns writes every pattern of set into dir using PatternSet.Names
func SavePatterns(dir string, set graycode.PatternSet) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create pattern directory")
	}
	names := set.Names()
	for i, img := range set {
		if err := writePNG(filepath.Join(dir, names[i]), img); err != nil {
			return err
		}
	}
	return nil
}

func writePNG(path string, img image.Image) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "failed to close %s", path)
		}
	}()

	if err := png.Encode(file, img); err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	return nil
}

func readPNG(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return img, nil
}
