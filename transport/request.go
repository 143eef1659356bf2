package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bitrise-io/go-scanupload/status"
)

// Request describes an outgoing request before its body stream is attached.
type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body is sent when no stream is attached.
	Body []byte
}

// URLData is a caller supplied endpoint with the headers it must be called with.
type URLData struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method" yaml:"method"`
	Headers map[string]string `json:"headers" yaml:"headers"`
}

// Request converts the URL data into a Request, falling back to method when none is set.
func (u URLData) Request(method string) Request {
	if u.Method != "" {
		method = u.Method
	}
	header := http.Header{}
	for k, v := range u.Headers {
		header.Set(k, v)
	}
	return Request{Method: method, URL: u.URL, Header: header}
}

// Build creates the retryable request with the in-memory Body.
func (r Request) Build(ctx context.Context) (*retryablehttp.Request, error) {
	var body interface{}
	if len(r.Body) > 0 {
		body = r.Body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}
	r.applyHeaders(req)
	return req, nil
}

// BuildStream creates the retryable request streaming size bytes from body.
// The body is rewound on every send, it is never buffered in memory.
func (r Request) BuildStream(ctx context.Context, body io.ReadSeeker, size int64) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}
	r.applyHeaders(req)

	// Add Content-Length header manually because retryablehttp doesn't do it automatically
	req.Header.Set("Content-Length", fmt.Sprintf("%d", size))
	req.ContentLength = size

	return req, nil
}

// BuildReaderFunc creates the retryable request whose body is produced by open on every send.
func (r Request) BuildReaderFunc(ctx context.Context, open func() (io.Reader, error), size int64) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, r.Method, r.URL, retryablehttp.ReaderFunc(open))
	if err != nil {
		return nil, err
	}
	r.applyHeaders(req)

	req.Header.Set("Content-Length", fmt.Sprintf("%d", size))
	req.ContentLength = size

	return req, nil
}

func (r Request) applyHeaders(req *retryablehttp.Request) {
	for k, values := range r.Header {
		for i, v := range values {
			if i == 0 {
				req.Header.Set(k, v)
			} else {
				req.Header.Add(k, v)
			}
		}
	}
}

// HeaderValue looks up a response header ignoring the case of its name,
// including names stored in non canonical form.
func HeaderValue(header http.Header, name string) (string, bool) {
	if v := header.Values(name); len(v) > 0 {
		return v[0], true
	}
	for k, v := range header {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0], true
		}
	}
	return "", false
}

// IsSuccess reports a 2xx status code.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}

// CloseBody drains and closes the response body, logging failures.
func CloseBody(resp *http.Response, logger log.Logger) {
	if resp == nil || resp.Body == nil {
		return
	}
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)); err != nil {
		logger.Debugf("Failed to drain response body: %s", err)
	}
	if err := resp.Body.Close(); err != nil {
		logger.Printf(err.Error())
	}
}

// ReadBody returns the full response body as a string.
func ReadBody(resp *http.Response) (string, error) {
	if resp == nil || resp.Body == nil {
		return "", nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnwrapError turns a non success response into a *status.ServerRejectedError carrying its body.
func UnwrapError(resp *http.Response) error {
	body, err := ReadBody(resp)
	if err != nil {
		return &status.TransportError{Op: fmt.Sprintf("read HTTP %d response body", resp.StatusCode), Err: err}
	}
	return &status.ServerRejectedError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(body)}
}

// StatusMessage returns the reason phrase of the response, e.g. "Not Found".
func StatusMessage(resp *http.Response) string {
	if resp == nil {
		return status.UnknownStatusMessage
	}
	if msg := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode))); msg != "" {
		return msg
	}
	return http.StatusText(resp.StatusCode)
}

// DumpRequest writes the request line and headers to the debug log.
func DumpRequest(logger log.Logger, label string, req *retryablehttp.Request) {
	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		logger.Warnf("error while dumping request: %s", err)
		return
	}
	logger.Debugf("%s request dump: %s", label, string(bytes.TrimSpace(dump)))
}

// DumpResponse writes the response status and headers to the debug log.
func DumpResponse(logger log.Logger, label string, resp *http.Response) {
	dump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		logger.Warnf("error while dumping response: %s", err)
		return
	}
	logger.Debugf("%s response dump: %s", label, string(bytes.TrimSpace(dump)))
}
