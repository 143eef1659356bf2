package resumable

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-scanupload/internal/testutil"
	"github.com/bitrise-io/go-scanupload/retry"
	"github.com/bitrise-io/go-scanupload/status"
	"github.com/bitrise-io/go-scanupload/transport"
	"github.com/bitrise-io/go-scanupload/validation"
)

const errorContent = "Error Content"

type passValidator struct{}

func (passValidator) ValidateUploadFile(string) error                   { return nil }
func (passValidator) ValidateUploaderConfiguration(string, int64) error { return nil }

type failingDoer struct {
	calls int32
}

func (d *failingDoer) Do(*retryablehttp.Request) (*http.Response, error) {
	atomic.AddInt32(&d.calls, 1)
	return nil, errors.New("connection reset by peer")
}

func newClient(chunkSize int64) *Client {
	logger := log.NewLogger()
	policy := retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond}
	return New(transport.NewClient(logger, transport.Options{}), passValidator{}, chunkSize, policy, logger)
}

type chunkResponder func(w http.ResponseWriter, start, end int64, attempt int32)

// newResumableServer accepts the session start on /upload and hands every chunk PUT to respond.
func newResumableServer(t *testing.T, respond chunkResponder) *testutil.RecordingServer {
	var attempts int32
	return testutil.NewRecordingServer(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload":
			if r.Header.Get("x-goog-resumable") != "start" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Location", "http://"+r.Host+"/session")
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/session":
			var start, end, total int64
			contentRange := r.Header.Get("Content-Range")
			if _, err := fmt.Sscanf(contentRange, "bytes */%d", &total); err == nil {
				// Finalize request with an empty body.
				start, end = total, total-1
			} else if _, err := fmt.Sscanf(contentRange, "bytes %d-%d/%d", &start, &end, &total); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			respond(w, start, end, atomic.AddInt32(&attempts, 1))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func chunkPuts(srv *testutil.RecordingServer) []testutil.RecordedRequest {
	var puts []testutil.RecordedRequest
	for _, r := range srv.Requests() {
		if r.Method == http.MethodPut {
			puts = append(puts, r)
		}
	}
	return puts
}

func TestUpload_resumableTrustsServerOffset(t *testing.T) {
	pth, content := testutil.WriteRandomFile(t, t.TempDir(), "scan.bin", 250)

	srv := newResumableServer(t, func(w http.ResponseWriter, start, end int64, attempt int32) {
		if attempt == 1 {
			// Only the first 100 of the 150 sent bytes were committed.
			w.Header().Set("Range", "bytes=0-99")
			w.WriteHeader(StatusResumeIncomplete)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	st := newClient(150).Upload(http.MethodPost, srv.URL+"/upload", map[string]string{"X-Custom": "value"}, pth)
	require.False(t, st.IsError(), st.String())
	assert.Equal(t, http.StatusOK, st.StatusCode)
	assert.Contains(t, st.StatusMessage, "Resumable upload was successful for the file: ")
	assert.Contains(t, st.StatusMessage, filepath.Base(pth))

	requests := srv.Requests()
	require.Len(t, requests, 3)
	assert.Equal(t, "value", requests[0].Header.Get("X-Custom"))
	assert.Equal(t, "0", requests[0].Header.Get("Content-Length"))

	puts := chunkPuts(srv)
	require.Len(t, puts, 2)
	assert.Equal(t, "bytes 0-149/250", puts[0].Header.Get("Content-Range"))
	assert.Equal(t, content[:150], puts[0].Body)
	assert.Equal(t, "bytes 100-249/250", puts[1].Header.Get("Content-Range"))
	assert.Equal(t, content[100:], puts[1].Body)
}

func TestUpload_resumableChunks(t *testing.T) {
	pth, content := testutil.WriteRandomFile(t, t.TempDir(), "scan.bin", 250)

	srv := newResumableServer(t, func(w http.ResponseWriter, start, end int64, attempt int32) {
		if end == 249 {
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", end))
		w.WriteHeader(StatusResumeIncomplete)
	})

	st := newClient(100).Upload(http.MethodPost, srv.URL+"/upload", nil, pth)
	require.False(t, st.IsError(), st.String())

	puts := chunkPuts(srv)
	require.Len(t, puts, 3)
	var uploaded []byte
	for _, p := range puts {
		uploaded = append(uploaded, p.Body...)
	}
	assert.Equal(t, content, uploaded)
	assert.Equal(t, "bytes 200-249/250", puts[2].Header.Get("Content-Range"))
}

func TestUpload_resumableFinalize(t *testing.T) {
	tests := []struct {
		name          string
		size          int64
		finalStatus   int
		wantRanges    []string
		wantErr       error
		wantFinalCode int
	}{
		{
			name:          "Whole file committed before the final response",
			size:          250,
			finalStatus:   http.StatusOK,
			wantRanges:    []string{"bytes 0-249/250", "bytes */250"},
			wantFinalCode: http.StatusOK,
		},
		{
			name:          "Empty file",
			size:          0,
			finalStatus:   http.StatusCreated,
			wantRanges:    []string{"bytes */0"},
			wantFinalCode: http.StatusOK,
		},
		{
			name:          "Server keeps the session open",
			size:          250,
			finalStatus:   StatusResumeIncomplete,
			wantRanges:    []string{"bytes 0-249/250", "bytes */250"},
			wantErr:       ErrNotFinalized,
			wantFinalCode: StatusResumeIncomplete,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pth, _ := testutil.WriteRandomFile(t, t.TempDir(), "scan.bin", tt.size)

			srv := newResumableServer(t, func(w http.ResponseWriter, start, end int64, attempt int32) {
				w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", end))
				if start > end {
					w.WriteHeader(tt.finalStatus)
					return
				}
				w.WriteHeader(StatusResumeIncomplete)
			})

			st := newClient(250).Upload(http.MethodPost, srv.URL+"/upload", nil, pth)
			assert.Equal(t, tt.wantFinalCode, st.StatusCode)
			if tt.wantErr != nil {
				require.True(t, st.IsError())
				assert.True(t, errors.Is(st.Err, tt.wantErr), st.String())
			} else {
				require.False(t, st.IsError(), st.String())
			}

			var ranges []string
			for _, p := range chunkPuts(srv) {
				ranges = append(ranges, p.Header.Get("Content-Range"))
			}
			assert.Equal(t, tt.wantRanges, ranges)
			assert.Empty(t, chunkPuts(srv)[len(ranges)-1].Body)
		})
	}
}

func TestUpload_resumableRetries(t *testing.T) {
	tests := []struct {
		name        string
		respond     chunkResponder
		wantPuts    int
		wantCode    int
		wantError   bool
		wantBody    string
		wantErrorIs error
	}{
		{
			name: "Recovers from a retryable status",
			respond: func(w http.ResponseWriter, _, _ int64, attempt int32) {
				if attempt == 1 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
			},
			wantPuts: 2,
			wantCode: http.StatusOK,
		},
		{
			name: "Gives up after the retries",
			respond: func(w http.ResponseWriter, _, _ int64, _ int32) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantPuts:  3,
			wantCode:  http.StatusTooManyRequests,
			wantError: true,
		},
		{
			name: "Fatal status is not retried",
			respond: func(w http.ResponseWriter, _, _ int64, _ int32) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(errorContent))
			},
			wantPuts:  1,
			wantCode:  http.StatusBadRequest,
			wantError: true,
			wantBody:  errorContent,
		},
		{
			name: "Missing Range header",
			respond: func(w http.ResponseWriter, _, _ int64, _ int32) {
				w.WriteHeader(StatusResumeIncomplete)
			},
			wantPuts:    1,
			wantCode:    StatusResumeIncomplete,
			wantError:   true,
			wantErrorIs: ErrMissingRangeHeader,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pth, _ := testutil.WriteRandomFile(t, t.TempDir(), "scan.bin", 64)
			srv := newResumableServer(t, tt.respond)

			st := newClient(100).Upload(http.MethodPost, srv.URL+"/upload", nil, pth)

			assert.Equal(t, tt.wantError, st.IsError(), st.String())
			assert.Equal(t, tt.wantCode, st.StatusCode)
			assert.Equal(t, tt.wantPuts, srv.Count(http.MethodPut))
			if tt.wantBody != "" {
				body, ok := st.Body()
				require.True(t, ok)
				assert.Equal(t, tt.wantBody, body)
			}
			if tt.wantErrorIs != nil {
				assert.ErrorIs(t, st.Err, tt.wantErrorIs)
			}
		})
	}
}

func TestUpload_resumableInitiateFails(t *testing.T) {
	pth, _ := testutil.WriteRandomFile(t, t.TempDir(), "scan.bin", 64)

	t.Run("Not created", func(t *testing.T) {
		srv := testutil.NewRecordingServer(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(errorContent))
		})

		st := newClient(100).Upload(http.MethodPost, srv.URL+"/upload", nil, pth)

		require.True(t, st.IsError())
		assert.Equal(t, http.StatusBadRequest, st.StatusCode)
		body, ok := st.Body()
		require.True(t, ok)
		assert.Equal(t, errorContent, body)
		assert.Contains(t, st.Err.Error(), "failed to initiate resumable upload")
		assert.Len(t, srv.Requests(), 1)
	})

	t.Run("Missing Location", func(t *testing.T) {
		srv := testutil.NewRecordingServer(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
			w.WriteHeader(http.StatusCreated)
		})

		st := newClient(100).Upload(http.MethodPost, srv.URL+"/upload", nil, pth)

		require.True(t, st.IsError())
		assert.ErrorIs(t, st.Err, status.ErrMissingLocationHeader)
		assert.Len(t, srv.Requests(), 1)
	})
}

func TestUpload_single(t *testing.T) {
	pth, content := testutil.WriteRandomFile(t, t.TempDir(), "scan.bin", 300)

	t.Run("Success", func(t *testing.T) {
		srv := testutil.NewRecordingServer(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
			w.WriteHeader(http.StatusOK)
		})

		st := newClient(100).Upload(http.MethodPut, srv.URL+"/signed", map[string]string{"x-goog-meta-scan": "1"}, pth)

		require.False(t, st.IsError(), st.String())
		assert.Equal(t, http.StatusOK, st.StatusCode)
		assert.Equal(t, "OK", st.StatusMessage)

		requests := srv.Requests()
		require.Len(t, requests, 1)
		assert.Equal(t, http.MethodPut, requests[0].Method)
		assert.Equal(t, "1", requests[0].Header.Get("x-goog-meta-scan"))
		assert.Equal(t, content, requests[0].Body)
	})

	t.Run("Rejected", func(t *testing.T) {
		srv := testutil.NewRecordingServer(t, func(w http.ResponseWriter, _ *http.Request, _ []byte) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(errorContent))
		})

		st := newClient(100).Upload(http.MethodPut, srv.URL+"/signed", nil, pth)

		require.True(t, st.IsError())
		assert.Equal(t, http.StatusBadRequest, st.StatusCode)
		assert.Equal(t, "Bad Request", st.StatusMessage)
		var rejectedErr *status.ServerRejectedError
		require.ErrorAs(t, st.Err, &rejectedErr)
		assert.Equal(t, errorContent, rejectedErr.Body)
	})

	t.Run("Transport error", func(t *testing.T) {
		doer := &failingDoer{}
		c := New(doer, passValidator{}, 100, retry.DefaultPolicy(), log.NewLogger())

		st := c.Upload(http.MethodPut, "http://127.0.0.1:1/signed", nil, pth)

		require.True(t, st.IsError())
		assert.Equal(t, status.UnknownStatusCode, st.StatusCode)
		assert.Equal(t, status.UnknownStatusMessage, st.StatusMessage)
		var transportErr *status.TransportError
		assert.ErrorAs(t, st.Err, &transportErr)
		assert.Equal(t, int32(1), doer.calls)
	})
}

func TestUpload_validation(t *testing.T) {
	doer := &failingDoer{}
	logger := log.NewLogger()
	c := New(doer, validation.New(validation.DefaultMultipartThreshold, logger), validation.DefaultChunkSize, retry.DefaultPolicy(), logger)

	missing := filepath.Join(t.TempDir(), "missing.bin")
	for _, method := range []string{http.MethodPost, http.MethodPut} {
		st := c.Upload(method, "http://127.0.0.1:1/signed", nil, missing)

		require.True(t, st.IsError())
		var validationErr *validation.ValidationError
		require.ErrorAs(t, st.Err, &validationErr)
		assert.True(t, validationErr.Has(validation.SourceFileMissingError))
	}
	assert.Equal(t, int32(0), doer.calls)
}

func TestUpload_unsupportedMethod(t *testing.T) {
	doer := &failingDoer{}
	c := New(doer, passValidator{}, 100, retry.DefaultPolicy(), log.NewLogger())

	st := c.Upload(http.MethodPatch, "http://127.0.0.1:1/signed", nil, "scan.bin")

	require.True(t, st.IsError())
	assert.ErrorIs(t, st.Err, ErrUnsupportedMethod)
	assert.Equal(t, int32(0), doer.calls)
}

func TestNextOffset(t *testing.T) {
	tests := []struct {
		value   string
		want    int64
		wantErr bool
	}{
		{value: "bytes=0-99", want: 100},
		{value: "bytes=0-0", want: 1},
		{value: "bytes=0-249", want: 250},
		{value: "bytes=0-250", wantErr: true},
		{value: "bytes=0-x", wantErr: true},
		{value: "bytes=0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := nextOffset(tt.value, 250)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
