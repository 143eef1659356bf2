package multipart

import (
	"sync"
	"time"

	"github.com/docker/go-units"
)

// partStats accumulates the durations and sizes of the finished parts of one upload.
type partStats struct {
	mu       sync.Mutex
	finished int64
	bytes    int64
	elapsed  time.Duration
}

func (s *partStats) record(took time.Duration, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished++
	s.bytes += size
	s.elapsed += took
}

func (s *partStats) finishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// average is zero until a part finished.
func (s *partStats) average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished == 0 {
		return 0
	}
	return (s.elapsed / time.Duration(s.finished)).Round(time.Millisecond)
}

// throughput renders the bytes per second spent inside part requests, e.g. "12.5MB/s".
func (s *partStats) throughput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.elapsed <= 0 {
		return "n/a"
	}
	return units.HumanSizeWithPrecision(float64(s.bytes)/s.elapsed.Seconds(), 3) + "/s"
}
