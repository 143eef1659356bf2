// Package multipart runs the start, upload parts, verify and finish sequence of a multipart upload.
package multipart

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/bitrise-io/go-scanupload/chunk"
	"github.com/bitrise-io/go-scanupload/internal"
	"github.com/bitrise-io/go-scanupload/retry"
	"github.com/bitrise-io/go-scanupload/status"
	"github.com/bitrise-io/go-scanupload/transport"
)

const headerLocation = "Location"

// Engine uploads chunk plans through a flavor's Endpoints.
type Engine struct {
	doer   transport.Doer
	config Config
	logger log.Logger
	os     internal.OsProxy
}

// New creates a new Engine with the given configuration.
func New(doer transport.Doer, config Config, logger log.Logger) *Engine {
	return &Engine{
		doer:   doer,
		config: config,
		logger: logger,
		os:     internal.RealOS{},
	}
}

// Upload runs one multipart upload of plan. Failures are reported through the returned status.
func (e *Engine) Upload(plan *chunk.Plan, endpoints Endpoints) status.Status {
	ctx := context.Background()
	s := newSession(plan.NumChunks())

	e.logger.Infof("[%s] Starting multipart upload of %s (%s, %d parts)", plan.UploadID, plan.FileName,
		units.HumanSizeWithPrecision(float64(plan.FileSize), 3), plan.NumChunks())

	sessionURL, err := e.start(ctx, s, plan, endpoints)
	if err != nil {
		e.logger.Errorf("[%s] Failed to start multipart upload: %s", plan.UploadID, err)
		return s.failed(err)
	}
	s.url = sessionURL

	if err := e.uploadParts(ctx, s, plan, endpoints); err != nil {
		e.logger.Errorf("[%s] %s", plan.UploadID, err)
		return s.failed(err)
	}

	if err := verify(s, plan); err != nil {
		e.logger.Errorf("[%s] %s", plan.UploadID, err)
		return s.failed(err)
	}

	return e.finish(ctx, s, plan, endpoints)
}

func (e *Engine) start(ctx context.Context, s *session, plan *chunk.Plan, endpoints Endpoints) (string, error) {
	reqDesc, err := endpoints.StartRequest(plan)
	if err != nil {
		return "", fmt.Errorf("build start request: %w", err)
	}
	req, err := reqDesc.Build(ctx)
	if err != nil {
		return "", fmt.Errorf("build start request: %w", err)
	}
	transport.DumpRequest(e.logger, "Start", req)

	resp, err := e.doer.Do(req)
	if err != nil {
		return "", &status.TransportError{Op: "start multipart upload", Err: err}
	}
	defer transport.CloseBody(resp, e.logger)
	transport.DumpResponse(e.logger, "Start", resp)

	s.setStatus(resp.StatusCode, transport.StatusMessage(resp))
	if !transport.IsSuccess(resp.StatusCode) {
		return "", transport.UnwrapError(resp)
	}

	location, ok := transport.HeaderValue(resp.Header, headerLocation)
	if !ok || location == "" {
		return "", status.ErrMissingLocationHeader
	}

	return resolveLocation(reqDesc.URL, location), nil
}

// resolveLocation makes a relative Location absolute against the start URL.
func resolveLocation(base, location string) string {
	loc, err := url.Parse(location)
	if err != nil || loc.IsAbs() {
		return location
	}
	b, err := url.Parse(base)
	if err != nil {
		return location
	}
	return b.ResolveReference(loc).String()
}

func (e *Engine) uploadParts(ctx context.Context, s *session, plan *chunk.Plan, endpoints Endpoints) error {
	numChunks := plan.NumChunks()
	workers := e.config.workers()

	e.logger.Debugf("[%s] Submitting %d part uploads to %d worker(s)", plan.UploadID, numChunks, workers)

	jobs := make(chan chunk.Chunk, numChunks)
	for _, c := range plan.Chunks {
		jobs <- c
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				if uploaded := e.uploadPartWithRetry(ctx, s, plan, c, endpoints); !uploaded {
					e.cancel(s, endpoints)
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.config.Timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		e.logger.Errorf("[%s] Upload timed out after %v. Cancelling upload.", plan.UploadID, e.config.Timeout)
		e.logger.Debugf("[%s] %s", plan.UploadID, partsUploaded(s.completedCount(), numChunks))
		e.cancel(s, endpoints)
		return status.ErrTimeout
	}

	if s.isCancelled() {
		e.logger.Infof("[%s] Upload was cancelled. Check log for errors.", plan.UploadID)
	} else {
		e.logger.Infof("[%s] All %d part(s) uploaded [avg=%v] [throughput=%s]", plan.UploadID, s.stats.finishedCount(),
			s.stats.average(), s.stats.throughput())
	}
	return nil
}

func (e *Engine) uploadPartWithRetry(ctx context.Context, s *session, plan *chunk.Plan, c chunk.Chunk, endpoints Endpoints) bool {
	policy := e.config.policy()
	totalAttempts := policy.MaxAttempts + 1

	for attempt := 1; ; attempt++ {
		if s.isCancelled() {
			e.logger.Debugf("[%s] Multipart upload has been cancelled, not starting upload for part %d, beginning with byte %d.",
				plan.UploadID, c.Index, c.StartOffset)
			return false
		}

		e.logger.Debugf("[%s] Uploading part %d/%d (attempt %d/%d) [finished=%d] [avg=%v]",
			plan.UploadID, c.Index+1, plan.NumChunks(), attempt, totalAttempts,
			s.stats.finishedCount(), s.stats.average())

		start := time.Now()
		code, err := e.uploadPart(ctx, s, plan, c, endpoints)

		outcome := retry.FatalFailure
		if code != status.UnknownStatusCode {
			outcome = retry.Classify(code, nil)
		}

		switch outcome {
		case retry.Success:
			took := time.Since(start)
			s.stats.record(took, c.Length)
			s.complete(c.Index, c.TagID)
			e.logger.Debugf("[%s] Part %d uploaded in %v", plan.UploadID, c.Index+1, took.Round(time.Millisecond))
			return true
		case retry.FatalFailure:
			e.logger.Errorf("[%s] Aborting upload of part %d: %s", plan.UploadID, c.Index+1, err)
			s.failPart(fmt.Errorf("part %d: %w", c.Index+1, err))
			return false
		}

		decision := policy.Decide(attempt, outcome)
		if !decision.Retry {
			e.logger.Errorf("[%s] Upload of part %d failed after %d attempt(s): %s", plan.UploadID, c.Index+1, attempt, err)
			s.failPart(fmt.Errorf("part %d: %w", c.Index+1, err))
			return false
		}

		e.logger.Warnf("[%s] Received %d while uploading part %d, retrying after %v", plan.UploadID, code, c.Index+1, decision.Delay)
		if decision.Delay > 0 {
			time.Sleep(decision.Delay)
		}
	}
}

// uploadPart streams one chunk. It returns status.UnknownStatusCode when no response arrived.
func (e *Engine) uploadPart(ctx context.Context, s *session, plan *chunk.Plan, c chunk.Chunk, endpoints Endpoints) (int, error) {
	reqDesc, err := endpoints.PartRequest(plan, c, s.url)
	if err != nil {
		return status.UnknownStatusCode, fmt.Errorf("build part request: %w", err)
	}

	body, err := chunk.OpenRange(e.os, c)
	if err != nil {
		return status.UnknownStatusCode, err
	}
	defer func() {
		if err := body.Close(); err != nil {
			e.logger.Warnf("Failed to close part %d reader: %s", c.Index+1, err)
		}
	}()

	req, err := reqDesc.BuildStream(ctx, body, c.Length)
	if err != nil {
		return status.UnknownStatusCode, fmt.Errorf("build part request: %w", err)
	}
	transport.DumpRequest(e.logger, "Part", req)

	resp, err := e.doer.Do(req)
	if err != nil {
		return status.UnknownStatusCode, &status.TransportError{Op: fmt.Sprintf("upload part %d", c.Index+1), Err: err}
	}
	defer transport.CloseBody(resp, e.logger)
	transport.DumpResponse(e.logger, "Part", resp)

	s.setStatus(resp.StatusCode, transport.StatusMessage(resp))
	if !transport.IsSuccess(resp.StatusCode) {
		return resp.StatusCode, transport.UnwrapError(resp)
	}
	return resp.StatusCode, nil
}

func verify(s *session, plan *chunk.Plan) error {
	actual := s.completedCount()
	expected := plan.NumChunks()
	if actual == expected {
		return nil
	}
	mismatch := &status.PartCountMismatchError{Expected: expected, Actual: actual}
	if partErr := s.firstPartError(); partErr != nil {
		return errors.Join(mismatch, partErr)
	}
	return mismatch
}

func (e *Engine) finish(ctx context.Context, s *session, plan *chunk.Plan, endpoints Endpoints) status.Status {
	if s.isCancelled() {
		e.logger.Debugf("[%s] Upload has been cancelled, not finishing it", plan.UploadID)
		return s.failed(status.ErrUploadCancelled)
	}

	e.logger.Infof("[%s] Finishing multipart upload", plan.UploadID)

	fail := func(err error) status.Status {
		e.logger.Errorf("[%s] Failed to finish multipart upload: %s", plan.UploadID, err)
		e.cancel(s, endpoints)
		return s.failed(err)
	}

	reqDesc, err := endpoints.FinishRequest(plan, s.url, s.completedParts())
	if err != nil {
		return fail(fmt.Errorf("build finish request: %w", err))
	}
	req, err := reqDesc.Build(ctx)
	if err != nil {
		return fail(fmt.Errorf("build finish request: %w", err))
	}
	transport.DumpRequest(e.logger, "Finish", req)

	resp, err := e.doer.Do(req)
	if err != nil {
		return fail(&status.TransportError{Op: "finish multipart upload", Err: err})
	}
	defer transport.CloseBody(resp, e.logger)
	transport.DumpResponse(e.logger, "Finish", resp)

	message := transport.StatusMessage(resp)
	s.setStatus(resp.StatusCode, message)
	if !transport.IsSuccess(resp.StatusCode) {
		return fail(transport.UnwrapError(resp))
	}

	payload, err := endpoints.ParseSuccess(resp)
	if err != nil {
		return fail(err)
	}

	e.logger.Donef("[%s] Multipart upload of %s finished", plan.UploadID, plan.FileName)
	return status.New(resp.StatusCode, message, payload)
}

// cancel aborts the session at most once. Failures are logged, never returned.
func (e *Engine) cancel(s *session, endpoints Endpoints) {
	if !s.claimCancel() {
		e.logger.Debugf("Upload already cancelled.")
		return
	}

	e.logger.Infof("Cancelling multipart upload.")
	if err := e.sendCancel(s, endpoints); err != nil {
		e.logger.Errorf("Error cancelling upload: %s", err)
	}
}

func (e *Engine) sendCancel(s *session, endpoints Endpoints) error {
	req, err := endpoints.CancelRequest(s.url).Build(context.Background())
	if err != nil {
		return err
	}
	resp, err := e.doer.Do(req)
	if err != nil {
		return err
	}
	defer transport.CloseBody(resp, e.logger)

	if !transport.IsSuccess(resp.StatusCode) {
		return transport.UnwrapError(resp)
	}
	return nil
}

func partsUploaded(actual, expected int) string {
	return fmt.Sprintf("Parts uploaded: %d of %d", actual, expected)
}
