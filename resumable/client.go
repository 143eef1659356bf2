// Package resumable uploads files to signed cloud storage URLs, either in one
// request or through a resumable session continued with 308 responses.
package resumable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/bitrise-io/go-scanupload/internal"
	"github.com/bitrise-io/go-scanupload/retry"
	"github.com/bitrise-io/go-scanupload/status"
	"github.com/bitrise-io/go-scanupload/transport"
)

const (
	headerResumable    = "x-goog-resumable"
	headerLocation     = "Location"
	headerRange        = "Range"
	headerContentRange = "Content-Range"

	// StatusResumeIncomplete is returned while the session expects more bytes.
	StatusResumeIncomplete = 308
)

var (
	// ErrUnsupportedMethod is returned for methods other than POST and PUT.
	ErrUnsupportedMethod = errors.New("http method must be either POST or PUT")
	// ErrMissingRangeHeader is returned when a 308 response does not report the committed bytes.
	ErrMissingRangeHeader = errors.New("response Range was not provided")
	// ErrNotFinalized is returned when the session still expects bytes after the whole file was committed.
	ErrNotFinalized = errors.New("server did not finalize the upload after all bytes were committed")
)

// FileValidator checks the file before any request is sent.
type FileValidator interface {
	ValidateUploadFile(pth string) error
	ValidateUploaderConfiguration(pth string, chunkSize int64) error
}

// Client uploads files to signed URLs.
type Client struct {
	doer      transport.Doer
	validator FileValidator
	chunkSize int64
	policy    retry.Policy
	logger    log.Logger
	os        internal.OsProxy
}

// New creates a Client sending resumable uploads in chunkSize pieces.
func New(doer transport.Doer, validator FileValidator, chunkSize int64, policy retry.Policy, logger log.Logger) *Client {
	return &Client{
		doer:      doer,
		validator: validator,
		chunkSize: chunkSize,
		policy:    policy,
		logger:    logger,
		os:        internal.RealOS{},
	}
}

// Upload sends the file at pth to signedURL. POST starts a resumable session, PUT uploads
// the whole file in one request. Failures are reported through the returned status.
func (c *Client) Upload(method, signedURL string, headers map[string]string, pth string) status.Status {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return c.resumableUpload(signedURL, headers, pth)
	case http.MethodPut:
		return c.singleUpload(signedURL, headers, pth)
	default:
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage,
			fmt.Errorf("http method %s is not supported: %w", method, ErrUnsupportedMethod))
	}
}

func (c *Client) validate(pth string) error {
	if err := c.validator.ValidateUploadFile(pth); err != nil {
		return err
	}
	return c.validator.ValidateUploaderConfiguration(pth, c.chunkSize)
}

func (c *Client) singleUpload(signedURL string, headers map[string]string, pth string) status.Status {
	if err := c.validate(pth); err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, err)
	}

	info, err := c.os.Stat(pth)
	if err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, err)
	}
	f, err := c.os.Open(pth)
	if err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, err)
	}
	defer c.closeFile(f, pth)

	reqDesc := transport.URLData{URL: signedURL, Headers: headers}.Request(http.MethodPut)
	req, err := reqDesc.BuildStream(context.Background(), io.NewSectionReader(f, 0, info.Size()), info.Size())
	if err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, fmt.Errorf("build upload request: %w", err))
	}

	c.logger.Infof("Uploading %s (%s)", filepath.Base(pth), units.HumanSizeWithPrecision(float64(info.Size()), 3))

	resp, err := c.doer.Do(req)
	if err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, &status.TransportError{Op: "upload file", Err: err})
	}
	defer transport.CloseBody(resp, c.logger)
	transport.DumpResponse(c.logger, "Upload", resp)

	message := transport.StatusMessage(resp)
	if !transport.IsSuccess(resp.StatusCode) {
		return rejected(resp.StatusCode, message, transport.UnwrapError(resp))
	}

	c.logger.Donef("Uploaded %s", filepath.Base(pth))
	return status.New(resp.StatusCode, message, nil)
}

func (c *Client) resumableUpload(signedURL string, headers map[string]string, pth string) status.Status {
	if err := c.validate(pth); err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, err)
	}

	ctx := context.Background()
	sessionURL, st := c.initiate(ctx, signedURL, headers)
	if st != nil {
		return *st
	}

	info, err := c.os.Stat(pth)
	if err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, err)
	}
	f, err := c.os.Open(pth)
	if err != nil {
		return status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, err)
	}
	defer c.closeFile(f, pth)

	size := info.Size()
	var offset int64
	for {
		n := c.chunkSize
		if remaining := size - offset; remaining < n {
			n = remaining
		}

		next, done, st := c.uploadChunkWithRetry(ctx, sessionURL, f, offset, n, size)
		if st != nil {
			return *st
		}
		if done {
			break
		}
		offset = next
	}

	abs, err := filepath.Abs(pth)
	if err != nil {
		abs = pth
	}
	c.logger.Donef("Resumable upload of %s finished", filepath.Base(pth))
	return status.New(http.StatusOK, fmt.Sprintf("Resumable upload was successful for the file: %s", abs), nil)
}

// initiate opens the resumable session and returns its URL, or the failure status.
func (c *Client) initiate(ctx context.Context, signedURL string, headers map[string]string) (string, *status.Status) {
	reqDesc := transport.URLData{URL: signedURL, Headers: headers}.Request(http.MethodPost)
	reqDesc.Header.Set(headerResumable, "start")
	reqDesc.Header.Set("Content-Length", "0")

	req, err := reqDesc.Build(ctx)
	if err != nil {
		st := status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, fmt.Errorf("build resumable upload request: %w", err))
		return "", &st
	}
	req.ContentLength = 0
	transport.DumpRequest(c.logger, "Initiate", req)

	resp, err := c.doer.Do(req)
	if err != nil {
		st := status.Failed(status.UnknownStatusCode, status.UnknownStatusMessage, &status.TransportError{Op: "initiate resumable upload", Err: err})
		return "", &st
	}
	defer transport.CloseBody(resp, c.logger)
	transport.DumpResponse(c.logger, "Initiate", resp)

	message := transport.StatusMessage(resp)
	if resp.StatusCode != http.StatusCreated {
		err := fmt.Errorf("failed to initiate resumable upload, returned status is %d, returned status message is %s: %w",
			resp.StatusCode, message, transport.UnwrapError(resp))
		st := rejected(resp.StatusCode, message, err)
		return "", &st
	}

	location, ok := transport.HeaderValue(resp.Header, headerLocation)
	if !ok || location == "" {
		st := status.Failed(resp.StatusCode, message, status.ErrMissingLocationHeader)
		return "", &st
	}
	return location, nil
}

// uploadChunkWithRetry sends length bytes from offset. It returns the offset to continue from,
// whether the upload is complete, or the failure status.
func (c *Client) uploadChunkWithRetry(ctx context.Context, sessionURL string, f io.ReaderAt, offset, length, size int64) (int64, bool, *status.Status) {
	contentRange := chunkContentRange(offset, length, size)
	totalAttempts := c.policy.MaxAttempts + 1

	for attempt := 1; ; attempt++ {
		c.logger.Debugf("Uploading chunk %s (attempt %d/%d)", contentRange, attempt, totalAttempts)

		code, message, next, err := c.uploadChunk(ctx, sessionURL, f, contentRange, offset, length, size)
		switch {
		case err == nil && (code == http.StatusOK || code == http.StatusCreated):
			return 0, true, nil
		case code == StatusResumeIncomplete && length == 0:
			c.logger.Errorf("Server answered %d to the final request %s", code, contentRange)
			st := status.Failed(code, message, fmt.Errorf("upload chunk %s: %w", contentRange, ErrNotFinalized))
			return 0, false, &st
		case err == nil && code == StatusResumeIncomplete:
			if next != offset+length {
				c.logger.Warnf("Server committed up to byte %d after chunk %s, continuing from there", next, contentRange)
			}
			return next, false, nil
		}

		outcome := retry.FatalFailure
		if code != status.UnknownStatusCode {
			outcome = retry.Classify(code, nil)
		}

		decision := c.policy.Decide(attempt, outcome)
		if !decision.Retry {
			c.logger.Errorf("Failed to upload chunk %s after %d attempt(s): %s", contentRange, attempt, err)
			st := rejected(code, message, fmt.Errorf("upload chunk %s: %w", contentRange, err))
			return 0, false, &st
		}

		c.logger.Warnf("Received %d while uploading chunk %s, retrying after %v", code, contentRange, decision.Delay)
		if decision.Delay > 0 {
			time.Sleep(decision.Delay)
		}
	}
}

// uploadChunk returns status.UnknownStatusCode when no response arrived.
// On 308 it returns the offset following the last byte the server committed.
func (c *Client) uploadChunk(ctx context.Context, sessionURL string, f io.ReaderAt, contentRange string, offset, length, size int64) (int, string, int64, error) {
	reqDesc := transport.Request{Method: http.MethodPut, URL: sessionURL, Header: http.Header{}}
	reqDesc.Header.Set(headerContentRange, contentRange)

	req, err := reqDesc.BuildStream(ctx, io.NewSectionReader(f, offset, length), length)
	if err != nil {
		return status.UnknownStatusCode, status.UnknownStatusMessage, 0, fmt.Errorf("build chunk request: %w", err)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return status.UnknownStatusCode, status.UnknownStatusMessage, 0, &status.TransportError{Op: "upload chunk", Err: err}
	}
	defer transport.CloseBody(resp, c.logger)

	message := transport.StatusMessage(resp)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return resp.StatusCode, message, 0, nil
	case StatusResumeIncomplete:
		rangeValue, ok := transport.HeaderValue(resp.Header, headerRange)
		if !ok {
			return resp.StatusCode, message, 0, fmt.Errorf("chunk %s: %w", contentRange, ErrMissingRangeHeader)
		}
		next, err := nextOffset(rangeValue, size)
		if err != nil {
			return resp.StatusCode, message, 0, err
		}
		return resp.StatusCode, message, next, nil
	default:
		return resp.StatusCode, message, 0, transport.UnwrapError(resp)
	}
}

// chunkContentRange uses the "bytes */size" form for an empty body, which asks the server
// to finalize once every byte is committed.
func chunkContentRange(offset, length, size int64) string {
	if length == 0 {
		return fmt.Sprintf("bytes */%d", size)
	}
	return fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, size)
}

// nextOffset parses a "bytes=0-99" Range value into the offset following the last committed byte.
// The result equals size once the server holds the whole file.
func nextOffset(rangeValue string, size int64) (int64, error) {
	parts := strings.Split(rangeValue, "-")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid Range header: %q", rangeValue)
	}
	last, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Range header %q: %w", rangeValue, err)
	}
	if last < 0 || last >= size {
		return 0, fmt.Errorf("range header %q is outside of the file (%d bytes)", rangeValue, size)
	}
	return last + 1, nil
}

// rejected builds the failure status, carrying the response body when the server sent one.
func rejected(code int, message string, err error) status.Status {
	st := status.Failed(code, message, err)
	var rejectedErr *status.ServerRejectedError
	if errors.As(err, &rejectedErr) && rejectedErr.Body != "" {
		st.Payload = status.BodyContent{Body: rejectedErr.Body}
	}
	return st
}

func (c *Client) closeFile(f io.Closer, pth string) {
	if err := f.Close(); err != nil {
		c.logger.Warnf("Failed to close %s: %s", pth, err)
	}
}
