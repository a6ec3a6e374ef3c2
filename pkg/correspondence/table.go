package correspondence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"procamgraycode/internal/models"
)

// WriteCSV writes one "cx, cy, px, py" line per entry, without a header
func WriteCSV(w io.Writer, table Table) error {
	bw := bufio.NewWriter(w)
	for _, c := range table {
		if _, err := fmt.Fprintf(bw, "%d, %d, %d, %d\n", c.CameraX, c.CameraY, c.ProjectorX, c.ProjectorY); err != nil {
			return errors.Wrap(err, "failed to write correspondence")
		}
	}
	return errors.Wrap(bw.Flush(), "failed to flush correspondences")
}

// SaveCSV writes the table to path, creating parent directories
func SaveCSV(path string, table Table) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create correspondence file")
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	return WriteCSV(file, table)
}

// ReadCSV parses a table written by WriteCSV. Blank lines are skipped.
func ReadCSV(r io.Reader) (Table, error) {
	var table Table
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		fields := strings.Split(text, ",")
		if len(fields) != 4 {
			return nil, errors.Errorf("line %d: expected 4 fields, got %d", line, len(fields))
		}

		var v [4]int
		for i, f := range fields {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return nil, errors.Wrapf(err, "line %d field %d", line, i+1)
			}
			v[i] = n
		}
		table = append(table, models.Correspondence{CameraX: v[0], CameraY: v[1], ProjectorX: v[2], ProjectorY: v[3]})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read correspondences")
	}
	return table, nil
}
