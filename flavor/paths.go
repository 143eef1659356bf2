package flavor

import (
	"regexp"
	"strings"
)

// DefaultUploadPrefix is the upload endpoint prefix of a Black Duck server.
const DefaultUploadPrefix = "/api/uploads/"

var repeatedSlashes = regexp.MustCompile(`/{2,}`)

// RequestPaths builds the upload endpoint paths below one prefix.
type RequestPaths struct {
	prefix string
}

// NewRequestPaths normalises prefix to single slashes with a trailing slash.
func NewRequestPaths(prefix string) RequestPaths {
	return RequestPaths{prefix: repeatedSlashes.ReplaceAllString(prefix+"/", "/")}
}

// UploadPath is the single request upload endpoint.
func (p RequestPaths) UploadPath() string {
	return p.prefix
}

// StartPath is the multipart upload start endpoint.
func (p RequestPaths) StartPath() string {
	return p.prefix + "multipart"
}

// joinURL appends an absolute path to the server base URL.
func joinURL(baseURL, pth string) string {
	if !strings.HasPrefix(pth, "/") {
		pth = "/" + pth
	}
	return strings.TrimRight(baseURL, "/") + pth
}
