package validation

import (
	"fmt"

	"github.com/bitrise-io/go-scanupload/internal"
)

// fileChecker chains accumulating checks on a file path.
type fileChecker struct {
	path   string
	os     internal.OsProxy
	checks []func(string) *UploadError
}

func newFileChecker(osProxy internal.OsProxy, path string) *fileChecker {
	return &fileChecker{path: path, os: osProxy}
}

// check runs every check and collects the failures.
func (fc *fileChecker) check() *ValidationError {
	errs := &ValidationError{}
	for _, check := range fc.checks {
		errs.Append(check(fc.path))
	}
	return errs
}

// isFile adds a check that the path is a regular file.
func (fc *fileChecker) isFile() *fileChecker {
	fc.checks = append(fc.checks, func(path string) *UploadError {
		info, err := fc.os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return &UploadError{Code: SourceFileNotAFileError, Message: fmt.Sprintf("The target is not a file: %s", path)}
		}
		return nil
	})
	return fc
}

// readable adds a check that the file can be opened for reading.
func (fc *fileChecker) readable() *fileChecker {
	fc.checks = append(fc.checks, func(path string) *UploadError {
		f, err := fc.os.Open(path)
		if err != nil {
			return &UploadError{Code: SourceFileReadPermissionError, Message: fmt.Sprintf("The target scan file does not have read permission: %s", path)}
		}
		_ = f.Close()
		return nil
	})
	return fc
}

// maxSize adds a check that the file is not larger than limit.
func (fc *fileChecker) maxSize(limit int64, message func(string) string) *fileChecker {
	fc.checks = append(fc.checks, func(path string) *UploadError {
		info, err := fc.os.Stat(path)
		if err != nil {
			// Reported by the existence and file checks.
			return nil
		}
		if info.Size() > limit {
			return &UploadError{Code: FileSizeError, Message: message(path)}
		}
		return nil
	})
	return fc
}
