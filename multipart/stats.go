package multipart

import (
	"sync/atomic"
	"time"
)

// Stats collects counters across all uploads of an Uploader. It is safe for concurrent use.
type Stats struct {
	partTime  atomic.Int64
	finished  atomic.Int64
	attempts  atomic.Int64
	retries   atomic.Int64
	bytesSent atomic.Int64
	peakInUse atomic.Int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful part upload that took d and sent bytes.
func (s *Stats) Update(d time.Duration, bytes int64) {
	s.partTime.Add(int64(d))
	s.bytesSent.Add(bytes)
	s.finished.Add(1)
}

func (s *Stats) recordAttempt() { s.attempts.Add(1) }

func (s *Stats) recordRetry() { s.retries.Add(1) }

func (s *Stats) observePeakChunks(n int) {
	for {
		peak := s.peakInUse.Load()
		if int64(n) <= peak || s.peakInUse.CompareAndSwap(peak, int64(n)) {
			return
		}
	}
}

// Average returns the average duration of the finished parts.
func (s *Stats) Average() time.Duration {
	finished := s.finished.Load()
	if finished == 0 {
		return 0
	}
	return time.Duration(s.partTime.Load() / finished)
}

// FinishedCount returns the number of parts uploaded successfully.
func (s *Stats) FinishedCount() int64 { return s.finished.Load() }

// TotalDuration returns the summed duration of the finished parts.
func (s *Stats) TotalDuration() time.Duration { return time.Duration(s.partTime.Load()) }

// Attempts returns the number of transfer attempts, successful or not.
func (s *Stats) Attempts() int64 { return s.attempts.Load() }

// Retries returns the number of retried transfers.
func (s *Stats) Retries() int64 { return s.retries.Load() }

// BytesTransferred returns the bytes sent by successful part uploads.
func (s *Stats) BytesTransferred() int64 { return s.bytesSent.Load() }

// PeakConcurrentChunks returns the highest number of parts that held a permit at once.
func (s *Stats) PeakConcurrentChunks() int { return int(s.peakInUse.Load()) }
