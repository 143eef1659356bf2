package flavor

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"

	"github.com/bitrise-io/go-scanupload/internal"
	"github.com/bitrise-io/go-scanupload/transport"
)

// SingleShot is the one request upload of a file below the multipart threshold.
type SingleShot struct {
	Request transport.Request
	// Open returns a fresh body, the file is streamed and closed by the HTTP client.
	Open func() (io.Reader, error)
	Size int64
}

type readCloser struct {
	io.Reader
	io.Closer
}

// rawEntity streams the file as the request body.
func rawEntity(osProxy internal.OsProxy, req transport.Request, pth string, size int64) SingleShot {
	return SingleShot{
		Request: req,
		Size:    size,
		Open: func() (io.Reader, error) {
			f, err := osProxy.Open(pth)
			if err != nil {
				return nil, err
			}
			return readCloser{Reader: io.NewSectionReader(f, 0, size), Closer: f}, nil
		},
	}
}

// formEntity streams the file as the fileField part of a multipart/form-data body after the given fields.
func formEntity(osProxy internal.OsProxy, req transport.Request, pth string, size int64, fileField string, fields [][2]string) (SingleShot, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range fields {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return SingleShot{}, fmt.Errorf("write form field %s: %w", field[0], err)
		}
	}
	if _, err := w.CreateFormFile(fileField, filepath.Base(pth)); err != nil {
		return SingleShot{}, fmt.Errorf("create form file: %w", err)
	}
	head := append([]byte(nil), buf.Bytes()...)

	buf.Reset()
	if err := w.Close(); err != nil {
		return SingleShot{}, fmt.Errorf("close form: %w", err)
	}
	tail := append([]byte(nil), buf.Bytes()...)

	req.Header.Set(headerContentType, w.FormDataContentType())

	return SingleShot{
		Request: req,
		Size:    int64(len(head)) + size + int64(len(tail)),
		Open: func() (io.Reader, error) {
			f, err := osProxy.Open(pth)
			if err != nil {
				return nil, err
			}
			body := io.MultiReader(bytes.NewReader(head), io.NewSectionReader(f, 0, size), bytes.NewReader(tail))
			return readCloser{Reader: body, Closer: f}, nil
		},
	}, nil
}
