// Package archive bundles a batch's converted outputs into a single
// downloadable ZIP.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// CompressionLevel is the fixed deflate level used for every entry.
// Converted image bytes are already compressed, so a fast level is
// the right tradeoff.
const CompressionLevel = flate.BestSpeed

// Entry is one archive member: an output name and its bytes.
type Entry struct {
	Name string
	Data []byte
}

// Progress receives best-effort packaging feedback. fraction is in
// [0,1]; name is the entry just written. Purely cosmetic.
type Progress func(fraction float64, name string)

// Build writes all entries into one in-memory ZIP. Entries with a
// missing name or missing bytes are skipped rather than failing the
// archive. On error nothing is returned: the caller never sees a
// partially written archive.
func Build(entries []Entry, progress Progress) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, CompressionLevel)
	})

	total := 0
	for _, e := range entries {
		if e.Name != "" && e.Data != nil {
			total++
		}
	}

	written := 0
	for _, e := range entries {
		if e.Name == "" || e.Data == nil {
			continue
		}

		f, err := w.Create(e.Name)
		if err != nil {
			return nil, fmt.Errorf("create archive entry %s: %w", e.Name, err)
		}
		if _, err := f.Write(e.Data); err != nil {
			return nil, fmt.Errorf("write archive entry %s: %w", e.Name, err)
		}

		written++
		if progress != nil {
			progress(float64(written)/float64(total), e.Name)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
