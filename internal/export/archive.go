package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sort"
	"time"
)

// archiveEpoch is the fixed timestamp stamped on every archive entry so the
// same file set always produces byte-identical archive bytes.
var archiveEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// BuildArchive bundles files into a deterministic compressed zip: entries
// are sorted by name and carry a fixed modification time, so re-rendering
// the same content yields the same hash.
func BuildArchive(files []File) ([]byte, error) {
	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for _, file := range sorted {
		header := &zip.FileHeader{
			Name:     file.Name,
			Method:   zip.Deflate,
			Modified: archiveEpoch,
		}
		entry, err := writer.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive entry %s: %w", file.Name, err)
		}
		if _, err := entry.Write(file.Data); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %s: %w", file.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
