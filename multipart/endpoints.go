package multipart

import (
	"net/http"

	"github.com/bitrise-io/go-scanupload/chunk"
	"github.com/bitrise-io/go-scanupload/status"
	"github.com/bitrise-io/go-scanupload/transport"
)

// CompletedPart is one acknowledged part, reported to the finish request in index order.
type CompletedPart struct {
	Index int
	TagID string
}

// Endpoints builds the flavor specific requests of one multipart upload.
type Endpoints interface {
	// StartRequest builds the request opening the upload session.
	StartRequest(plan *chunk.Plan) (transport.Request, error)
	// PartRequest builds the request for one chunk; its body is streamed by the engine.
	PartRequest(plan *chunk.Plan, c chunk.Chunk, sessionURL string) (transport.Request, error)
	// FinishRequest builds the request assembling the parts, which are sorted by index.
	FinishRequest(plan *chunk.Plan, sessionURL string, parts []CompletedPart) (transport.Request, error)
	// CancelRequest builds the DELETE aborting the session.
	CancelRequest(sessionURL string) transport.Request
	// ParseSuccess converts the successful finish response into the flavor payload.
	ParseSuccess(resp *http.Response) (status.Payload, error)
}
