package chunk

import (
	"fmt"
	"io"

	"github.com/bitrise-io/go-scanupload/internal"
)

// RangeReader is a seekable read view over [start, start+length) of a file.
// Read returns io.EOF once length bytes were delivered, regardless of what follows in the file.
type RangeReader struct {
	*io.SectionReader
	closer io.Closer
}

// NewRangeReader wraps an already open file. Closing the RangeReader closes f.
func NewRangeReader(f internal.File, start, length int64) *RangeReader {
	return &RangeReader{
		SectionReader: io.NewSectionReader(f, start, length),
		closer:        f,
	}
}

// OpenRange opens path and bounds it to the chunk's byte range.
func OpenRange(osProxy internal.OsProxy, c Chunk) (*RangeReader, error) {
	f, err := osProxy.Open(c.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open chunk %d of %s: %w", c.Index, c.FilePath, err)
	}
	return NewRangeReader(f, c.StartOffset, c.Length), nil
}

// Close ...
func (r *RangeReader) Close() error {
	return r.closer.Close()
}
