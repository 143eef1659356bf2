package chunk

import (
	"crypto/md5" //nolint:gosec
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/bitrise-io/go-scanupload/internal"
)

// MaxDigestBufferSize bounds the memory used while hashing a single chunk.
const MaxDigestBufferSize int64 = 256 * units.MiB

// ErrFileNotFound is returned when the file to split does not exist.
var ErrFileNotFound = errors.New("file not found")

// Splitter produces chunk plans.
type Splitter struct {
	os     internal.OsProxy
	logger log.Logger
}

// NewSplitter ...
func NewSplitter(logger log.Logger) *Splitter {
	return NewSplitterWithOS(internal.RealOS{}, logger)
}

// NewSplitterWithOS creates a Splitter reading files through the given proxy.
func NewSplitterWithOS(osProxy internal.OsProxy, logger log.Logger) *Splitter {
	return &Splitter{os: osProxy, logger: logger}
}

// Split reads the file at pth and returns its chunk plan.
func (s *Splitter) Split(pth string, chunkSize int64) (*Plan, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size: %d", chunkSize)
	}

	info, err := s.os.Stat(pth)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, pth)
		}
		return nil, fmt.Errorf("stat %s: %w", pth, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", pth)
	}

	f, err := s.os.Open(pth)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", pth, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warnf("Failed to close %s: %s", pth, err)
		}
	}()

	fileSize := info.Size()
	buf := make([]byte, digestBufferSize(chunkSize))

	checksum, err := digest(io.NewSectionReader(f, 0, fileSize), buf)
	if err != nil {
		return nil, fmt.Errorf("calculate checksum of %s: %w", pth, err)
	}

	numChunks := CountChunks(fileSize, chunkSize)
	chunks := make([]Chunk, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := int64(i) * chunkSize
		length := chunkSize
		if start+length > fileSize {
			length = fileSize - start
		}

		sum, err := digest(io.NewSectionReader(f, start, length), buf)
		if err != nil {
			return nil, fmt.Errorf("calculate checksum of chunk %d: %w", i, err)
		}

		chunks = append(chunks, Chunk{
			TagID:       uuid.NewString(),
			Checksum:    sum,
			Index:       i,
			StartOffset: start,
			Length:      length,
			FilePath:    pth,
		})
	}

	plan := &Plan{
		FileName:  filepath.Base(pth),
		FilePath:  pth,
		FileSize:  fileSize,
		ChunkSize: chunkSize,
		Checksum:  checksum,
		UploadID:  uuid.NewString(),
		Chunks:    chunks,
	}

	s.logger.Debugf("[%s] Split %s (%s) into %d chunk(s) of %s", plan.UploadID, plan.FileName,
		units.HumanSizeWithPrecision(float64(fileSize), 3), numChunks, units.HumanSizeWithPrecision(float64(chunkSize), 3))

	return plan, nil
}

func digest(r io.Reader, buf []byte) (string, error) {
	h := md5.New() //nolint:gosec
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// digestBufferSize splits chunks above MaxDigestBufferSize into equal reads
// so that no more than MaxDigestBufferSize bytes are held at once.
func digestBufferSize(chunkSize int64) int64 {
	if chunkSize <= MaxDigestBufferSize {
		return chunkSize
	}
	parts := (chunkSize + MaxDigestBufferSize - 1) / MaxDigestBufferSize
	return chunkSize / parts
}
