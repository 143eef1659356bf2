package validation

import (
	"fmt"
	"strings"
)

// ErrorCode identifies the reason an upload was rejected before it started.
type ErrorCode string

// Error codes reported by the Validator and the config package.
const (
	SourceFileMissingError        ErrorCode = "SOURCE_FILE_MISSING_ERROR"
	SourceFileNotAFileError       ErrorCode = "SOURCE_FILE_NOT_A_FILE_ERROR"
	SourceFileReadPermissionError ErrorCode = "SOURCE_FILE_READ_PERMISSION_ERROR"
	FileSizeError                 ErrorCode = "FILE_SIZE_ERROR"
	ChunkSizeError                ErrorCode = "CHUNK_SIZE_ERROR"
	MissingRequiredPropertyError  ErrorCode = "MISSING_REQUIRED_PROPERTY_ERROR"
)

// UploadError is one failed check.
type UploadError struct {
	Code    ErrorCode
	Message string
}

func (e UploadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationError aggregates the failed checks of one validation run.
type ValidationError struct {
	Errors []UploadError
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return ""
	}
	messages := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		messages = append(messages, e.Error())
	}
	return strings.Join(messages, "\n")
}

// Has reports whether a check with code failed.
func (v *ValidationError) Has(code ErrorCode) bool {
	for _, e := range v.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Codes lists the codes of the failed checks in the order they were recorded.
func (v *ValidationError) Codes() []ErrorCode {
	codes := make([]ErrorCode, 0, len(v.Errors))
	for _, e := range v.Errors {
		codes = append(codes, e.Code)
	}
	return codes
}

// Append records err when it is not nil.
func (v *ValidationError) Append(err *UploadError) {
	if err == nil {
		return
	}
	v.Errors = append(v.Errors, *err)
}

// OrNil returns v as an error when it holds at least one failed check.
func (v *ValidationError) OrNil() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}
