// Package report derives display metadata from a downloaded report file and
// builds output filenames.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Summary describes a saved report CSV. Rows excludes the header row.
type Summary struct {
	Path    string
	Rows    int
	Columns int
	Headers []string
}

// Summarize reads the CSV at path and counts its rows and columns.
func Summarize(path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	// Vendor exports occasionally have ragged rows; counting must not choke.
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if err == io.EOF {
		return &Summary{Path: path}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header row: %w", err)
	}

	rows := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", rows+2, err)
		}
		rows++
	}

	return &Summary{
		Path:    path,
		Rows:    rows,
		Columns: len(headers),
		Headers: headers,
	}, nil
}

// Filename builds a descriptive output filename for one fetch.
func Filename(reportType, startDate, endDate, advertiserID string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s_%s.csv",
		reportType, startDate, endDate, advertiserID, now.Format("20060102_150405"))
}

// DefaultDir returns the reports directory under the given home, creating it
// if needed.
func DefaultDir(home string) (string, error) {
	dir := filepath.Join(home, "wmsnap-reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
