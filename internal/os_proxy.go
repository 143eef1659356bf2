package internal

import (
	"io"
	"os"
)

// File is the subset of *os.File the splitter and range readers use.
type File interface {
	io.Reader
	io.ReaderAt
	io.Closer
}

// OsProxy defines the subset of os package functions the upload path touches,
// so file system faults can be injected in tests.
type OsProxy interface {
	Stat(name string) (os.FileInfo, error)
	Open(name string) (File, error)
}

// RealOS is the default implementation that delegates to the real os package.
type RealOS struct{}

func (RealOS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) } //nolint:revive

//nolint:revive
func (RealOS) Open(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}
