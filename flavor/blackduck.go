// Package flavor implements the request building and response parsing of each supported upload target.
package flavor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-scanupload/chunk"
	"github.com/bitrise-io/go-scanupload/internal"
	"github.com/bitrise-io/go-scanupload/multipart"
	"github.com/bitrise-io/go-scanupload/status"
	"github.com/bitrise-io/go-scanupload/transport"
)

// Kind selects the Black Duck upload type.
type Kind int

const (
	// Binary uploads a binary for scanning.
	Binary Kind = iota
	// Container uploads a container image.
	Container
	// BDBA uploads a Black Duck Binary Analysis artifact.
	BDBA
	// Tools uploads tool artifacts.
	Tools
)

func (k Kind) String() string {
	switch k {
	case Binary:
		return "binary"
	case Container:
		return "container"
	case BDBA:
		return "bdba"
	case Tools:
		return "tools"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrSingleUploadNotSupported is returned when a kind only supports multipart uploads.
var ErrSingleUploadNotSupported = errors.New("default upload for data type not implemented")

// ErrMissingETagHeader is returned when the binary upload response carries no ETag.
var ErrMissingETagHeader = errors.New("could not find ETag header")

// BinaryScanData is the project information sent with a binary upload.
type BinaryScanData struct {
	ProjectName      string
	Version          string
	CodeLocationName string
	CodeLocationURI  string
}

type startRequest struct {
	FileSize int64  `json:"fileSize"`
	Checksum string `json:"checksum"`
}

type binaryStartRequest struct {
	FileSize         int64  `json:"fileSize"`
	Checksum         string `json:"checksum"`
	ProjectName      string `json:"projectName"`
	Version          string `json:"version"`
	CodeLocationName string `json:"codeLocationName,omitempty"`
	CodeLocationURI  string `json:"codeLocationUri,omitempty"`
}

// BlackDuck talks to the upload endpoints of a Black Duck server.
type BlackDuck struct {
	kind    Kind
	baseURL string
	paths   RequestPaths
	binary  BinaryScanData
	os      internal.OsProxy
}

var _ multipart.Endpoints = (*BlackDuck)(nil)

// NewBlackDuck creates the endpoints of a non binary kind.
func NewBlackDuck(kind Kind, baseURL string, paths RequestPaths) *BlackDuck {
	return &BlackDuck{kind: kind, baseURL: baseURL, paths: paths, os: internal.RealOS{}}
}

// NewBinary creates the endpoints of a binary upload.
func NewBinary(baseURL string, paths RequestPaths, data BinaryScanData) *BlackDuck {
	b := NewBlackDuck(Binary, baseURL, paths)
	b.binary = data
	return b
}

// Kind ...
func (b *BlackDuck) Kind() Kind {
	return b.kind
}

// StartRequest ...
func (b *BlackDuck) StartRequest(plan *chunk.Plan) (transport.Request, error) {
	var body interface{} = startRequest{FileSize: plan.FileSize, Checksum: plan.Checksum}
	contentType := ContentTypeMultipartUploadStart
	if b.kind == Binary {
		body = binaryStartRequest{
			FileSize:         plan.FileSize,
			Checksum:         plan.Checksum,
			ProjectName:      b.binary.ProjectName,
			Version:          b.binary.Version,
			CodeLocationName: b.binary.CodeLocationName,
			CodeLocationURI:  b.binary.CodeLocationURI,
		}
		contentType = ContentTypeBinaryMultipartUploadStart
	}

	data, err := json.Marshal(body)
	if err != nil {
		return transport.Request{}, err
	}

	header := http.Header{}
	header.Set(headerContentType, contentType)
	return transport.Request{
		Method: http.MethodPost,
		URL:    joinURL(b.baseURL, b.paths.StartPath()),
		Header: header,
		Body:   data,
	}, nil
}

// PartRequest ...
func (b *BlackDuck) PartRequest(plan *chunk.Plan, c chunk.Chunk, sessionURL string) (transport.Request, error) {
	header := http.Header{}
	header.Set(headerContentDigest, c.ContentDigest())
	header.Set(headerContentRange, c.ContentRange(plan.FileSize))
	header.Set(headerContentType, ContentTypeMultipartUploadData)
	return transport.Request{Method: http.MethodPut, URL: sessionURL, Header: header}, nil
}

// FinishRequest marks the session completed. The server assembles the parts in the order it received them.
func (b *BlackDuck) FinishRequest(_ *chunk.Plan, sessionURL string, _ []multipart.CompletedPart) (transport.Request, error) {
	header := http.Header{}
	header.Set(headerContentType, ContentTypeMultipartUploadFinish)
	return transport.Request{Method: http.MethodPost, URL: sessionURL + "/completed", Header: header}, nil
}

// CancelRequest ...
func (b *BlackDuck) CancelRequest(sessionURL string) transport.Request {
	return transport.Request{Method: http.MethodDelete, URL: sessionURL}
}

// ParseSuccess returns the created scan location for binary uploads and no payload otherwise.
func (b *BlackDuck) ParseSuccess(resp *http.Response) (status.Payload, error) {
	if b.kind != Binary {
		return nil, nil
	}

	location, ok := transport.HeaderValue(resp.Header, headerLocation)
	if !ok {
		return nil, status.ErrMissingLocationHeader
	}
	etag, ok := transport.HeaderValue(resp.Header, headerETag)
	if !ok {
		return nil, ErrMissingETagHeader
	}
	return status.LocationContent{Location: location, ETag: etag}, nil
}

// SingleShot builds the one request upload of the file at pth.
func (b *BlackDuck) SingleShot(pth string, size int64) (SingleShot, error) {
	req := transport.Request{
		Method: http.MethodPost,
		URL:    joinURL(b.baseURL, b.paths.UploadPath()),
		Header: http.Header{},
	}

	switch b.kind {
	case Binary:
		return formEntity(b.os, req, pth, size, "fileupload", [][2]string{
			{"projectName", b.binary.ProjectName},
			{"version", b.binary.Version},
			{"codeLocationName", b.binary.CodeLocationName},
			{"codeLocationUri", b.binary.CodeLocationURI},
		})
	case Container:
		req.Header.Set(headerContentType, ContentTypeContainerScanData)
		return rawEntity(b.os, req, pth, size), nil
	case BDBA:
		req.Header.Set(headerContentType, ContentTypeBDBAScanData)
		return rawEntity(b.os, req, pth, size), nil
	default:
		return SingleShot{}, fmt.Errorf("%s upload: %w", b.kind, ErrSingleUploadNotSupported)
	}
}
