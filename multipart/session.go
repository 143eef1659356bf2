package multipart

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bitrise-io/go-scanupload/status"
)

// session is the mutable state of one in-flight upload. It is never reused.
type session struct {
	url   string
	stats *partStats

	cancelled atomic.Bool

	partsMu   sync.Mutex
	completed map[int]string
	partErr   error

	statusMu    sync.Mutex
	lastCode    int
	lastMessage string
}

func newSession(numChunks int) *session {
	return &session{
		stats:       &partStats{},
		completed:   make(map[int]string, numChunks),
		lastCode:    status.UnknownStatusCode,
		lastMessage: status.UnknownStatusMessage,
	}
}

func (s *session) isCancelled() bool {
	return s.cancelled.Load()
}

// claimCancel flips the cancelled flag and reports whether this caller did it.
func (s *session) claimCancel() bool {
	return s.cancelled.CompareAndSwap(false, true)
}

func (s *session) complete(index int, tagID string) {
	s.partsMu.Lock()
	defer s.partsMu.Unlock()
	s.completed[index] = tagID
}

// failPart keeps the first part failure for the final error.
func (s *session) failPart(err error) {
	s.partsMu.Lock()
	defer s.partsMu.Unlock()
	if s.partErr == nil {
		s.partErr = err
	}
}

func (s *session) firstPartError() error {
	s.partsMu.Lock()
	defer s.partsMu.Unlock()
	return s.partErr
}

func (s *session) completedCount() int {
	s.partsMu.Lock()
	defer s.partsMu.Unlock()
	return len(s.completed)
}

// completedParts returns the acknowledged parts sorted by index.
func (s *session) completedParts() []CompletedPart {
	s.partsMu.Lock()
	parts := make([]CompletedPart, 0, len(s.completed))
	for index, tagID := range s.completed {
		parts = append(parts, CompletedPart{Index: index, TagID: tagID})
	}
	s.partsMu.Unlock()

	sort.Slice(parts, func(i, j int) bool { return parts[i].Index < parts[j].Index })
	return parts
}

func (s *session) setStatus(code int, message string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.lastCode = code
	s.lastMessage = message
}

func (s *session) failed(err error) status.Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return status.Failed(s.lastCode, s.lastMessage, err)
}
