package s3upload

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-multipart-uploader/multipart"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completeRequest struct {
	Parts []struct {
		ETag       string `xml:"ETag"`
		PartNumber int    `xml:"PartNumber"`
	} `xml:"Part"`
}

// fakeS3 implements the multipart upload endpoints of a path style S3 API.
type fakeS3 struct {
	failPart int

	mu        sync.Mutex
	created   []string
	parts     map[string]map[int][]byte
	completed map[string]completeRequest
	aborted   []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		failPart:  -1,
		parts:     map[string]map[int][]byte{},
		completed: map[string]completeRequest{},
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	// path style: /{bucket}/{key}
	key := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)[1]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && query.Has("uploads"):
		f.created = append(f.created, key)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<InitiateMultipartUploadResult><Bucket>bucket</Bucket><Key>%s</Key><UploadId>upload-%s</UploadId></InitiateMultipartUploadResult>`, key, key)
	case r.Method == http.MethodPut && query.Has("partNumber"):
		part, err := strconv.Atoi(query.Get("partNumber"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if part == f.failPart {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if f.parts[key] == nil {
			f.parts[key] = map[int][]byte{}
		}
		f.parts[key][part] = body
		w.Header().Set("ETag", fmt.Sprintf("\"%s-%d\"", key, part))
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && query.Has("uploadId"):
		var req completeRequest
		if err := xml.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.completed[key] = req
		w.Header().Set("Content-Type", "application/xml")
		_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<CompleteMultipartUploadResult><Bucket>bucket</Bucket><Key>%s</Key><ETag>"final"</ETag></CompleteMultipartUploadResult>`, key)
	case r.Method == http.MethodDelete && query.Has("uploadId"):
		f.aborted = append(f.aborted, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestStorage(t *testing.T, endpoint string, params Params) *Storage {
	params.Region = "us-east-1"
	params.Bucket = "bucket"
	params.AccessKeyID = "access-key"
	params.SecretAccessKey = "secret-key"
	params.Endpoint = endpoint
	if params.MinChunkSize == 0 {
		params.MinChunkSize = 1
	}

	storage, err := New(context.Background(), params, log.NewLogger())
	require.NoError(t, err)
	storage.retryWait = 0
	return storage
}

func writeFile(t *testing.T, name string, size int) string {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 199)
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestStorage_UploadFile(t *testing.T) {
	// Given
	s3 := newFakeS3()
	server := httptest.NewServer(s3)
	defer server.Close()

	path := writeFile(t, "archive.bin", 250)
	storage := newTestStorage(t, server.URL, Params{ChunkSize: 100})

	// When
	result, err := storage.UploadFile(context.Background(), File{Path: path, Key: "archive.bin"})

	// Then
	require.NoError(t, err)
	assert.Equal(t, "archive.bin", result.Key)
	assert.Equal(t, "upload-archive.bin", result.UploadID)
	assert.Equal(t, 3, result.PartCount)
	assert.Equal(t, int64(250), result.Size)
	assert.Equal(t, int64(1), storage.FileCount())

	s3.mu.Lock()
	defer s3.mu.Unlock()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	parts := s3.parts["archive.bin"]
	require.Len(t, parts, 3)
	assert.Equal(t, data[0:100], parts[1])
	assert.Equal(t, data[100:200], parts[2])
	assert.Equal(t, data[200:], parts[3])

	completed, ok := s3.completed["archive.bin"]
	require.True(t, ok)
	require.Len(t, completed.Parts, 3)
	for i, part := range completed.Parts {
		assert.Equal(t, i+1, part.PartNumber)
		assert.Equal(t, fmt.Sprintf("\"archive.bin-%d\"", i+1), part.ETag)
	}
	assert.Empty(t, s3.aborted)
}

func TestStorage_UploadFile_AbortsOnPartFailure(t *testing.T) {
	// Given
	s3 := newFakeS3()
	s3.failPart = 2
	server := httptest.NewServer(s3)
	defer server.Close()

	path := writeFile(t, "archive.bin", 250)
	storage := newTestStorage(t, server.URL, Params{
		ChunkSize: 100,
		Limits:    multipart.Limits{MaxConcurrentChunks: 1},
	})

	// When
	_, err := storage.UploadFile(context.Background(), File{Path: path, Key: "archive.bin"})

	// Then
	require.Error(t, err)
	assert.ErrorIs(t, err, multipart.ErrServerStatus)
	assert.Equal(t, int64(0), storage.FileCount())

	s3.mu.Lock()
	defer s3.mu.Unlock()

	assert.Equal(t, []string{"archive.bin"}, s3.aborted)
	assert.Empty(t, s3.completed)
}

func TestStorage_UploadFile_DefaultKeyAndEmptyFile(t *testing.T) {
	// Given
	s3 := newFakeS3()
	server := httptest.NewServer(s3)
	defer server.Close()

	path := writeFile(t, "empty.txt", 0)
	storage := newTestStorage(t, server.URL, Params{})

	// When
	result, err := storage.UploadFile(context.Background(), File{Path: path})

	// Then
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result.Key, ".txt"), result.Key)
	assert.Equal(t, 1, result.PartCount)

	s3.mu.Lock()
	defer s3.mu.Unlock()

	require.Len(t, s3.parts[result.Key], 1)
	assert.Empty(t, s3.parts[result.Key][1])
}

func TestStorage_UploadFiles(t *testing.T) {
	// Given
	s3 := newFakeS3()
	server := httptest.NewServer(s3)
	defer server.Close()

	storage := newTestStorage(t, server.URL, Params{ChunkSize: 64, MaxConcurrentFiles: 2})
	files := []File{
		{Path: writeFile(t, "a.bin", 100), Key: "a.bin"},
		{Path: writeFile(t, "b.bin", 200), Key: "b.bin"},
		{Path: writeFile(t, "c.bin", 10), Key: "c.bin"},
	}

	// When
	results, err := storage.UploadFiles(context.Background(), files)

	// Then
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a.bin", results[0].Key)
	assert.Equal(t, 2, results[0].PartCount)
	assert.Equal(t, "b.bin", results[1].Key)
	assert.Equal(t, 4, results[1].PartCount)
	assert.Equal(t, "c.bin", results[2].Key)
	assert.Equal(t, 1, results[2].PartCount)
	assert.Equal(t, int64(3), storage.FileCount())
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Params{Region: "us-east-1"}, log.NewLogger())
	require.Error(t, err)
}

func TestNew_ChunkSizeBelowMinimum(t *testing.T) {
	params := Params{
		Region:          "us-east-1",
		Bucket:          "bucket",
		AccessKeyID:     "access-key",
		SecretAccessKey: "secret-key",
		Endpoint:        "http://localhost:9000",
		ChunkSize:       MinChunkSize - 1,
	}

	_, err := New(context.Background(), params, log.NewLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum part size")

	params.ChunkSize = MinChunkSize
	_, err = New(context.Background(), params, log.NewLogger())
	require.NoError(t, err)

	params.ChunkSize = 100
	params.MinChunkSize = 64
	_, err = New(context.Background(), params, log.NewLogger())
	require.NoError(t, err)
}

func Test_chunkSizeFor(t *testing.T) {
	tests := []struct {
		name      string
		fileSize  int64
		chunkSize int64
		want      int64
	}{
		{name: "small file", fileSize: 1000, chunkSize: DefaultChunkSize, want: DefaultChunkSize},
		{name: "exactly max parts", fileSize: maxPartCount * 100, chunkSize: 100, want: 100},
		{name: "too many parts", fileSize: maxPartCount*100 + 1, chunkSize: 100, want: 101},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkSizeFor(tt.fileSize, tt.chunkSize)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, multipart.PartCount(tt.fileSize, got), maxPartCount)
		})
	}
}

func Test_completedParts(t *testing.T) {
	parts, err := completedParts([]multipart.Headers{{"etag": "\"a\""}, {"etag": "\"b\""}})
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "\"a\"", *parts[0].ETag)
	assert.Equal(t, int32(1), *parts[0].PartNumber)
	assert.Equal(t, int32(2), *parts[1].PartNumber)

	_, err = completedParts([]multipart.Headers{{"etag": "\"a\""}, {"x-amz-request-id": "1"}})
	require.ErrorIs(t, err, multipart.ErrMissingETag)
}

func Test_isPermanent(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{name: "client fault", ctx: context.Background(), err: &smithy.GenericAPIError{Code: "AccessDenied", Fault: smithy.FaultClient}, want: true},
		{name: "server fault", ctx: context.Background(), err: &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}, want: false},
		{name: "wrapped client fault", ctx: context.Background(), err: fmt.Errorf("op: %w", &smithy.GenericAPIError{Code: "NoSuchBucket", Fault: smithy.FaultClient}), want: true},
		{name: "transport error", ctx: context.Background(), err: errors.New("connection reset"), want: false},
		{name: "cancelled context", ctx: cancelled, err: errors.New("connection reset"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isPermanent(tt.ctx, tt.err))
		})
	}
}
