package multipart

import (
	"errors"
	"fmt"
)

// Failure kinds. Use errors.Is on any error returned by Upload to check for them.
var (
	ErrInvalidPlan                = errors.New("invalid upload plan")
	ErrIO                         = errors.New("file i/o failure")
	ErrNetworkSend                = errors.New("error sending chunk")
	ErrServerStatus               = errors.New("server responded with error status code while uploading chunk")
	ErrHeaderDecode               = errors.New("response header contains non ASCII chars")
	ErrRetriesExhausted           = errors.New("failed after too many retries")
	ErrFailureConcurrencyExceeded = errors.New("too many failures in parallel")
	ErrTaskFailure                = errors.New("chunk task terminated abnormally")
)

// ErrMissingETag is returned by ETags when a part response has no etag header.
var ErrMissingETag = errors.New("no etag in part response")

var failureKinds = []error{
	ErrIO,
	ErrNetworkSend,
	ErrServerStatus,
	ErrHeaderDecode,
	ErrRetriesExhausted,
	ErrFailureConcurrencyExceeded,
	ErrTaskFailure,
}

// StatusError is returned for a non-2xx part upload response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// ChunkError is the terminal failure of one part. It aborts the whole upload.
type ChunkError struct {
	// Part is the 0 based part number.
	Part int
	// Attempts is the number of transfer attempts made for the part.
	Attempts int
	// Kind is one of the failure kind sentinels.
	Kind error
	// Err is the underlying cause.
	Err error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("part %d: %s (attempts: %d): %v", e.Part, e.Kind, e.Attempts, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ChunkError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newChunkError(task ChunkTask, attempts int, kind, err error) *ChunkError {
	return &ChunkError{
		Part:     task.PartNumber,
		Attempts: attempts,
		Kind:     kind,
		Err:      err,
	}
}

// kindOf returns the first failure kind found in err's chain.
func kindOf(err error) error {
	for _, kind := range failureKinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrTaskFailure
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrNetworkSend) || errors.Is(err, ErrServerStatus)
}
