package flavor

import (
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-scanupload/chunk"
	"github.com/bitrise-io/go-scanupload/multipart"
	"github.com/bitrise-io/go-scanupload/status"
	"github.com/bitrise-io/go-scanupload/transport"
)

type completeMultipartUpload struct {
	XMLName xml.Name       `xml:"CompleteMultipartUpload"`
	Parts   []completePart `xml:"Part"`
}

type completePart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

// XMLAPI uploads to a cloud storage XML API through pre-signed URLs supplied by the caller.
type XMLAPI struct {
	Initial  transport.URLData
	Complete transport.URLData
	// Abort is optional, the session URL is deleted without it.
	Abort *transport.URLData
	// Parts holds one pre-signed URL per chunk index.
	Parts []transport.URLData
}

var _ multipart.Endpoints = (*XMLAPI)(nil)

// StartRequest ...
func (x *XMLAPI) StartRequest(_ *chunk.Plan) (transport.Request, error) {
	return x.Initial.Request(http.MethodPost), nil
}

// PartRequest ...
func (x *XMLAPI) PartRequest(plan *chunk.Plan, c chunk.Chunk, _ string) (transport.Request, error) {
	if c.Index < 0 || c.Index >= len(x.Parts) {
		return transport.Request{}, fmt.Errorf("no upload URL for part %d of %d (%d URLs provided)", c.Index+1, plan.NumChunks(), len(x.Parts))
	}
	return x.Parts[c.Index].Request(http.MethodPut), nil
}

// FinishRequest lists the parts in a CompleteMultipartUpload document. Part numbers start at 1.
func (x *XMLAPI) FinishRequest(_ *chunk.Plan, _ string, parts []multipart.CompletedPart) (transport.Request, error) {
	doc := completeMultipartUpload{Parts: make([]completePart, 0, len(parts))}
	for _, p := range parts {
		doc.Parts = append(doc.Parts, completePart{PartNumber: p.Index + 1, ETag: p.TagID})
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		return transport.Request{}, fmt.Errorf("marshal complete multipart upload: %w", err)
	}

	req := x.Complete.Request(http.MethodPost)
	req.Header.Set(headerContentType, ContentTypeXML)
	req.Body = body
	return req, nil
}

// CancelRequest ...
func (x *XMLAPI) CancelRequest(sessionURL string) transport.Request {
	if x.Abort != nil {
		return x.Abort.Request(http.MethodDelete)
	}
	return transport.Request{Method: http.MethodDelete, URL: sessionURL}
}

// ParseSuccess returns the raw response body.
func (x *XMLAPI) ParseSuccess(resp *http.Response) (status.Payload, error) {
	body, err := transport.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read complete multipart upload response: %w", err)
	}
	return status.BodyContent{Body: body}, nil
}
