package multipart

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-scanupload/chunk"
	"github.com/bitrise-io/go-scanupload/internal/testutil"
	"github.com/bitrise-io/go-scanupload/status"
	"github.com/bitrise-io/go-scanupload/transport"
)

const (
	startPath   = "/multipart"
	sessionPath = "/multipart/session-1"
	finishPath  = "/multipart/session-1/completed"
)

type testEndpoints struct {
	baseURL string
}

func (t testEndpoints) StartRequest(plan *chunk.Plan) (transport.Request, error) {
	body, err := json.Marshal(map[string]interface{}{"fileSize": plan.FileSize, "checksum": plan.Checksum})
	if err != nil {
		return transport.Request{}, err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return transport.Request{Method: http.MethodPost, URL: t.baseURL + startPath, Header: header, Body: body}, nil
}

func (t testEndpoints) PartRequest(plan *chunk.Plan, c chunk.Chunk, sessionURL string) (transport.Request, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Content-Digest", c.ContentDigest())
	header.Set("Content-Range", c.ContentRange(plan.FileSize))
	return transport.Request{Method: http.MethodPut, URL: sessionURL, Header: header}, nil
}

func (t testEndpoints) FinishRequest(_ *chunk.Plan, sessionURL string, parts []CompletedPart) (transport.Request, error) {
	body, err := json.Marshal(parts)
	if err != nil {
		return transport.Request{}, err
	}
	return transport.Request{Method: http.MethodPost, URL: sessionURL + "/completed", Body: body}, nil
}

func (t testEndpoints) CancelRequest(sessionURL string) transport.Request {
	return transport.Request{Method: http.MethodDelete, URL: sessionURL}
}

func (t testEndpoints) ParseSuccess(resp *http.Response) (status.Payload, error) {
	body, err := transport.ReadBody(resp)
	if err != nil {
		return nil, err
	}
	return status.BodyContent{Body: body}, nil
}

type serverBehavior struct {
	start  func(w http.ResponseWriter)
	part   func(w http.ResponseWriter, startOffset int64, attempt int32)
	finish func(w http.ResponseWriter)
}

func newUploadServer(t *testing.T, behavior serverBehavior) *testutil.RecordingServer {
	var partAttempts int32
	return testutil.NewRecordingServer(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == startPath:
			if behavior.start != nil {
				behavior.start(w)
				return
			}
			w.Header().Set("Location", sessionPath)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == sessionPath:
			var start, end, total int64
			if _, err := fmt.Sscanf(r.Header.Get("Content-Range"), "bytes %d-%d/%d", &start, &end, &total); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			attempt := atomic.AddInt32(&partAttempts, 1)
			if behavior.part != nil {
				behavior.part(w, start, attempt)
				return
			}
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == finishPath:
			if behavior.finish != nil {
				behavior.finish(w)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("assembled"))
		case r.Method == http.MethodDelete && r.URL.Path == sessionPath:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newPlan(t *testing.T, fileSize, chunkSize int64) (*chunk.Plan, []byte) {
	pth, content := testutil.WriteRandomFile(t, t.TempDir(), "scan.bdio", fileSize)
	plan, err := chunk.NewSplitter(log.NewLogger()).Split(pth, chunkSize)
	require.NoError(t, err)
	return plan, content
}

func testConfig() Config {
	config := DefaultConfig()
	config.RetryInitialInterval = time.Millisecond
	config.Timeout = time.Minute
	return config
}

func newEngine(config Config) *Engine {
	return New(transport.NewClient(log.NewLogger(), transport.Options{}), config, log.NewLogger())
}

func TestEngine_Upload_ExactMultiple(t *testing.T) {
	server := newUploadServer(t, serverBehavior{})
	plan, content := newPlan(t, 100*1024, 5*1024)
	require.Equal(t, 20, plan.NumChunks())

	result := newEngine(testConfig()).Upload(plan, testEndpoints{baseURL: server.URL})

	require.False(t, result.IsError(), result.String())
	assert.Equal(t, http.StatusOK, result.StatusCode)
	body, ok := result.Body()
	require.True(t, ok)
	assert.Equal(t, "assembled", body)

	var parts []recordedPart
	var finishBody []byte
	for _, r := range server.Requests() {
		switch r.Method {
		case http.MethodPut:
			parts = append(parts, recordedPart{Range: r.Header.Get("Content-Range"), Digest: r.Header.Get("Content-Digest"), Body: r.Body})
		case http.MethodPost:
			if r.Path == finishPath {
				finishBody = r.Body
			}
		}
	}

	require.Len(t, parts, 20)
	for i, p := range parts {
		c := plan.Chunks[i]
		assert.Equal(t, c.ContentRange(plan.FileSize), p.Range)
		assert.Equal(t, c.ContentDigest(), p.Digest)
		assert.Equal(t, content[c.StartOffset:c.StartOffset+c.Length], p.Body)
	}

	var completed []CompletedPart
	require.NoError(t, json.Unmarshal(finishBody, &completed))
	require.Len(t, completed, 20)
	for i, p := range completed {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, plan.Chunks[i].TagID, p.TagID)
	}
	assert.Equal(t, 0, server.Count(http.MethodDelete))
}

// recordedPart is what the tests compare of a PUT request.
type recordedPart struct {
	Range  string
	Digest string
	Body   []byte
}

func TestEngine_Upload_PartFailsPermanently(t *testing.T) {
	plan, _ := newPlan(t, 100*1024, 5*1024)
	failingOffset := plan.Chunks[7].StartOffset

	server := newUploadServer(t, serverBehavior{
		part: func(w http.ResponseWriter, startOffset int64, _ int32) {
			if startOffset == failingOffset {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("corrupt part"))
				return
			}
			w.WriteHeader(http.StatusOK)
		},
	})

	result := newEngine(testConfig()).Upload(plan, testEndpoints{baseURL: server.URL})

	require.True(t, result.IsError())
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)

	var mismatch *status.PartCountMismatchError
	require.ErrorAs(t, result.Err, &mismatch)
	assert.Equal(t, 20, mismatch.Expected)
	assert.Equal(t, 7, mismatch.Actual)

	var rejected *status.ServerRejectedError
	require.ErrorAs(t, result.Err, &rejected)
	assert.Equal(t, "corrupt part", rejected.Body)

	assert.Equal(t, 8, server.Count(http.MethodPut), "no part is started after cancellation")
	assert.Equal(t, 1, server.Count(http.MethodDelete))
	assert.Equal(t, 1, server.Count(http.MethodPost), "finish is never called")
}

func TestEngine_Upload_RetryExhaustion(t *testing.T) {
	server := newUploadServer(t, serverBehavior{
		part: func(w http.ResponseWriter, _ int64, _ int32) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})
	plan, _ := newPlan(t, 3*1024, 1024)

	config := testConfig()
	config.RetryAttempts = 3

	result := newEngine(config).Upload(plan, testEndpoints{baseURL: server.URL})

	require.True(t, result.IsError())
	assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	assert.Equal(t, 4, server.Count(http.MethodPut), "1 initial attempt and 3 retries")
	assert.Equal(t, 1, server.Count(http.MethodDelete))
}

func TestEngine_Upload_RecoversFromRetryableStatus(t *testing.T) {
	server := newUploadServer(t, serverBehavior{
		part: func(w http.ResponseWriter, _ int64, attempt int32) {
			if attempt <= 2 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		},
	})
	plan, _ := newPlan(t, 3*1024, 1024)

	result := newEngine(testConfig()).Upload(plan, testEndpoints{baseURL: server.URL})

	require.False(t, result.IsError(), result.String())
	assert.Equal(t, 5, server.Count(http.MethodPut))
	assert.Equal(t, 0, server.Count(http.MethodDelete))
}

func TestEngine_Upload_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := newUploadServer(t, serverBehavior{
		part: func(w http.ResponseWriter, _ int64, _ int32) {
			<-release
			w.WriteHeader(http.StatusOK)
		},
	})
	t.Cleanup(func() { close(release) })

	plan, _ := newPlan(t, 4*1024, 1024)
	config := testConfig()
	config.Timeout = 0

	result := newEngine(config).Upload(plan, testEndpoints{baseURL: server.URL})

	require.True(t, result.IsError())
	assert.True(t, errors.Is(result.Err, status.ErrTimeout))
	assert.Equal(t, 1, server.Count(http.MethodDelete))
}

func TestEngine_Upload_MultipleWorkers(t *testing.T) {
	server := newUploadServer(t, serverBehavior{})
	plan, _ := newPlan(t, 20*1024, 1024)

	config := testConfig()
	config.Workers = 4

	result := newEngine(config).Upload(plan, testEndpoints{baseURL: server.URL})

	require.False(t, result.IsError(), result.String())
	assert.Equal(t, 20, server.Count(http.MethodPut))

	for _, r := range server.Requests() {
		if r.Path != finishPath {
			continue
		}
		var completed []CompletedPart
		require.NoError(t, json.Unmarshal(r.Body, &completed))
		require.Len(t, completed, 20)
		for i, p := range completed {
			assert.Equal(t, i, p.Index)
		}
	}
}

func TestEngine_Upload_StartFailures(t *testing.T) {
	tests := []struct {
		name     string
		start    func(w http.ResponseWriter)
		wantCode int
		check    func(t *testing.T, err error)
	}{
		{
			name: "missing location header",
			start: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusCreated)
			},
			wantCode: http.StatusCreated,
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, status.ErrMissingLocationHeader))
			},
		},
		{
			name: "rejected",
			start: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte("token expired"))
			},
			wantCode: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				var rejected *status.ServerRejectedError
				require.ErrorAs(t, err, &rejected)
				assert.Equal(t, "token expired", rejected.Body)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newUploadServer(t, serverBehavior{start: tt.start})
			plan, _ := newPlan(t, 2048, 1024)

			result := newEngine(testConfig()).Upload(plan, testEndpoints{baseURL: server.URL})

			require.True(t, result.IsError())
			assert.Equal(t, tt.wantCode, result.StatusCode)
			tt.check(t, result.Err)
			assert.Equal(t, 0, server.Count(http.MethodPut))
			assert.Equal(t, 0, server.Count(http.MethodDelete))
		})
	}
}

func TestEngine_Upload_FinishRejected(t *testing.T) {
	server := newUploadServer(t, serverBehavior{
		finish: func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusConflict)
		},
	})
	plan, _ := newPlan(t, 2048, 1024)

	result := newEngine(testConfig()).Upload(plan, testEndpoints{baseURL: server.URL})

	require.True(t, result.IsError())
	assert.Equal(t, http.StatusConflict, result.StatusCode)
	assert.Equal(t, 1, server.Count(http.MethodDelete))
}

type failingPartDoer struct {
	next transport.Doer
}

func (d failingPartDoer) Do(req *retryablehttp.Request) (*http.Response, error) {
	if req.Method == http.MethodPut {
		return nil, errors.New("connection reset by peer")
	}
	return d.next.Do(req)
}

func TestEngine_Upload_TransportErrorIsFatal(t *testing.T) {
	server := newUploadServer(t, serverBehavior{})
	plan, _ := newPlan(t, 2048, 1024)

	doer := failingPartDoer{next: transport.NewClient(log.NewLogger(), transport.Options{})}
	result := New(doer, testConfig(), log.NewLogger()).Upload(plan, testEndpoints{baseURL: server.URL})

	require.True(t, result.IsError())
	var transportErr *status.TransportError
	require.ErrorAs(t, result.Err, &transportErr)
	assert.Equal(t, http.StatusCreated, result.StatusCode, "last completed exchange was the start request")
	assert.Equal(t, 1, server.Count(http.MethodDelete))
}

func TestEngine_Cancel_Idempotent(t *testing.T) {
	var deletes int32
	server := testutil.NewRecordingServer(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		if r.Method == http.MethodDelete {
			atomic.AddInt32(&deletes, 1)
		}
		w.WriteHeader(http.StatusInternalServerError)
	})

	e := newEngine(testConfig())
	s := newSession(1)
	s.url = server.URL + sessionPath

	e.cancel(s, testEndpoints{})
	assert.True(t, s.isCancelled(), "failed DELETE still cancels")
	e.cancel(s, testEndpoints{})
	assert.True(t, s.isCancelled())

	assert.Equal(t, int32(1), atomic.LoadInt32(&deletes))
}

func Test_resolveLocation(t *testing.T) {
	assert.Equal(t, "https://host/api/uploads/1", resolveLocation("https://host/api/uploads/multipart", "/api/uploads/1"))
	assert.Equal(t, "https://other/1", resolveLocation("https://host/a", "https://other/1"))
}
