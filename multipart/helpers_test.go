package multipart

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/require"
)

// writeTestFile creates a file of the given size with a repeating byte pattern.
func writeTestFile(t *testing.T, size int) (string, []byte) {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	path := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func partURLs(baseURL string, parts int) []string {
	urls := make([]string, parts)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/part/%d", baseURL, i)
	}
	return urls
}

func newTestUploader() *Uploader {
	return New(DefaultConfig(), log.NewLogger())
}

// sleepRecorder replaces the backoff wait and records every requested duration.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration{}, r.waits...)
}

// writeRawResponse answers the request with the raw bytes of an HTTP response,
// bypassing the server side header handling.
func writeRawResponse(t *testing.T, w http.ResponseWriter, r *http.Request, raw string) {
	_, err := io.Copy(io.Discard, r.Body)
	require.NoError(t, err)

	hijacker, ok := w.(http.Hijacker)
	require.True(t, ok, "response writer does not support hijacking")

	conn, rw, err := hijacker.Hijack()
	require.NoError(t, err)
	defer conn.Close()

	_, err = rw.WriteString(raw)
	require.NoError(t, err)
	require.NoError(t, rw.Flush())
}

type panickingTransport struct{}

func (panickingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	panic("transport exploded")
}
