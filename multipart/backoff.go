package multipart

import "time"

// QuadraticBackoff computes the wait before a retry as Base plus attempt² milliseconds, capped at Cap.
type QuadraticBackoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff returns a 300ms base with a 10s cap.
func DefaultBackoff() QuadraticBackoff {
	return QuadraticBackoff{
		Base: 300 * time.Millisecond,
		Cap:  10 * time.Second,
	}
}

// Wait returns the duration to wait before retry number attempt (0 based).
func (b QuadraticBackoff) Wait(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// keeps attempt² from overflowing
	if attempt > 1<<20 {
		return b.Cap
	}

	wait := b.Base + time.Duration(attempt*attempt)*time.Millisecond
	if wait > b.Cap {
		return b.Cap
	}
	return wait
}
