// Package validation gates an upload before any request is sent.
package validation

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"

	"github.com/bitrise-io/go-scanupload/internal"
)

const (
	// MinChunkSize is the smallest accepted part size.
	MinChunkSize int64 = 5 * units.MiB
	// MaxChunkSize is the largest part size the server accepts.
	MaxChunkSize int64 = 1024 * 1024 * 1023 * 2
	// DefaultChunkSize ...
	DefaultChunkSize int64 = 25 * units.MiB
	// DefaultMultipartThreshold is both the default and the highest supported multipart threshold.
	DefaultMultipartThreshold int64 = 5 * units.GiB
	// MaxFileSize is the largest file that can be uploaded.
	MaxFileSize int64 = 100 * units.GiB
)

// Validator checks the file and the chunk size of an upload.
type Validator struct {
	threshold   int64
	os          internal.OsProxy
	pathChecker pathutil.PathChecker
	logger      log.Logger
}

// New creates a Validator deciding multipart uploads with threshold.
// A threshold above DefaultMultipartThreshold or not above zero is replaced by it with a warning.
func New(threshold int64, logger log.Logger) *Validator {
	return NewWithOS(threshold, internal.RealOS{}, logger)
}

// NewWithOS creates a Validator reading the file system through osProxy.
func NewWithOS(threshold int64, osProxy internal.OsProxy, logger log.Logger) *Validator {
	if threshold > DefaultMultipartThreshold {
		logger.Warnf("The configured multipart upload threshold cannot be higher than the supported upload threshold. Defaulting to: %s",
			units.BytesSize(float64(DefaultMultipartThreshold)))
		threshold = DefaultMultipartThreshold
	}
	if threshold <= 0 {
		logger.Warnf("The configured multipart upload threshold (%d) is not positive. Defaulting to: %s",
			threshold, units.BytesSize(float64(DefaultMultipartThreshold)))
		threshold = DefaultMultipartThreshold
	}
	return &Validator{
		threshold:   threshold,
		os:          osProxy,
		pathChecker: pathutil.NewPathChecker(),
		logger:      logger,
	}
}

// Threshold returns the effective multipart threshold.
func (v *Validator) Threshold() int64 {
	return v.threshold
}

// ValidateUploadFile fails immediately when pth does not exist, otherwise it reports
// every failed file and read permission check together.
func (v *Validator) ValidateUploadFile(pth string) error {
	exists, err := v.pathChecker.IsPathExists(pth)
	if err != nil || !exists {
		return &ValidationError{Errors: []UploadError{{
			Code:    SourceFileMissingError,
			Message: fmt.Sprintf("The target file does not exist: %s", pth),
		}}}
	}

	return newFileChecker(v.os, pth).
		isFile().
		readable().
		check().
		OrNil()
}

// ValidateUploaderConfiguration reports both a too large file and a chunk size outside of the accepted range.
func (v *Validator) ValidateUploaderConfiguration(pth string, chunkSize int64) error {
	errs := newFileChecker(v.os, pth).
		maxSize(MaxFileSize, func(p string) string {
			return fmt.Sprintf("Target file %s cannot be scanned. Only files up to 100 GB are supported.", p)
		}).
		check()

	switch {
	case chunkSize < MinChunkSize:
		errs.Append(&UploadError{
			Code:    ChunkSizeError,
			Message: "File partition chunk size is set below the minimum 5 MB threshold.",
		})
	case chunkSize > MaxChunkSize:
		errs.Append(&UploadError{
			Code:    ChunkSizeError,
			Message: fmt.Sprintf("File partition chunk size is set above the maximum %s threshold.", units.BytesSize(float64(MaxChunkSize))),
		})
	}

	return errs.OrNil()
}

// IsFileForPartitioning reports whether the file at pth is large enough for a multipart upload.
func (v *Validator) IsFileForPartitioning(pth string) bool {
	info, err := v.os.Stat(pth)
	if err != nil {
		v.logger.Debugf("Failed to get the size of %s: %s", pth, err)
		return false
	}
	return info.Size() >= v.threshold
}
