// Package uploader uploads a file to a flavor, choosing between one request and a multipart upload.
package uploader

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/bitrise-io/go-scanupload/chunk"
	"github.com/bitrise-io/go-scanupload/flavor"
	"github.com/bitrise-io/go-scanupload/internal"
	"github.com/bitrise-io/go-scanupload/multipart"
	"github.com/bitrise-io/go-scanupload/status"
	"github.com/bitrise-io/go-scanupload/transport"
	"github.com/bitrise-io/go-scanupload/validation"
)

// Validator gates the upload and decides between one request and a multipart upload.
type Validator interface {
	ValidateUploadFile(pth string) error
	ValidateUploaderConfiguration(pth string, chunkSize int64) error
	IsFileForPartitioning(pth string) bool
}

// SingleShotter is implemented by targets accepting a whole file in one request.
type SingleShotter interface {
	SingleShot(pth string, size int64) (flavor.SingleShot, error)
}

// Uploader uploads files to one target.
type Uploader struct {
	doer      transport.Doer
	target    multipart.Endpoints
	validator Validator
	splitter  *chunk.Splitter
	engine    *multipart.Engine
	chunkSize int64
	logger    log.Logger
	os        internal.OsProxy
}

// New creates an Uploader. Targets that do not implement SingleShotter are always uploaded in parts.
func New(doer transport.Doer, target multipart.Endpoints, validator Validator, chunkSize int64, engineConfig multipart.Config, logger log.Logger) *Uploader {
	return &Uploader{
		doer:      doer,
		target:    target,
		validator: validator,
		splitter:  chunk.NewSplitter(logger),
		engine:    multipart.New(doer, engineConfig, logger),
		chunkSize: chunkSize,
		logger:    logger,
		os:        internal.RealOS{},
	}
}

// Upload sends the file at pth. The returned error is a *validation.ValidationError raised
// before any request is sent, every later failure is reported through the status.
func (u *Uploader) Upload(pth string) (status.Status, error) {
	if err := u.validator.ValidateUploadFile(pth); err != nil {
		return status.Status{}, err
	}

	single, canSingle := u.target.(SingleShotter)
	if canSingle && !u.validator.IsFileForPartitioning(pth) {
		return u.uploadSingle(single, pth), nil
	}

	if err := u.validator.ValidateUploaderConfiguration(pth, u.chunkSize); err != nil {
		return status.Status{}, err
	}
	return u.uploadParts(pth), nil
}

func (u *Uploader) uploadParts(pth string) status.Status {
	u.logger.Infof("Start of calculate for file offsets.")
	plan, err := u.splitter.Split(pth, u.chunkSize)
	if err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, fmt.Errorf("split %s: %w", pth, err))
	}
	u.logger.Infof("Finish of calculate for file offsets.")

	return u.engine.Upload(plan, u.target)
}

func (u *Uploader) uploadSingle(target SingleShotter, pth string) status.Status {
	info, err := u.os.Stat(pth)
	if err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, err)
	}

	shot, err := target.SingleShot(pth, info.Size())
	if err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, err)
	}

	req, err := shot.Request.BuildReaderFunc(context.Background(), shot.Open, shot.Size)
	if err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, fmt.Errorf("build upload request: %w", err))
	}
	transport.DumpRequest(u.logger, "Upload", req)

	u.logger.Infof("Uploading %s (%s) in one request", filepath.Base(pth), units.HumanSizeWithPrecision(float64(info.Size()), 3))

	resp, err := u.doer.Do(req)
	if err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, &status.TransportError{Op: "upload file", Err: err})
	}
	defer transport.CloseBody(resp, u.logger)
	transport.DumpResponse(u.logger, "Upload", resp)

	message := transport.StatusMessage(resp)
	if !transport.IsSuccess(resp.StatusCode) {
		return status.Failed(resp.StatusCode, message, transport.UnwrapError(resp))
	}

	payload, err := u.target.ParseSuccess(resp)
	if err != nil {
		return status.Failed(resp.StatusCode, message, err)
	}

	u.logger.Donef("Uploaded %s", filepath.Base(pth))
	return status.New(resp.StatusCode, message, payload)
}

var _ Validator = (*validation.Validator)(nil)
