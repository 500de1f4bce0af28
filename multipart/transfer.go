package multipart

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const maxErrorBodySize = 1024

// transferChunk uploads one byte range of the file with a single PUT request.
// It returns the response headers and the number of bytes sent.
func (u *Uploader) transferChunk(ctx context.Context, task ChunkTask) (Headers, int64, error) {
	file, err := os.Open(task.FilePath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open file: %w", ErrIO, err)
	}
	defer func(file *os.File) {
		if err := file.Close(); err != nil {
			u.logger.Debugf("Failed to close %s: %s", task.FilePath, err)
		}
	}(file)

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: stat file: %w", ErrIO, err)
	}

	fileSize := info.Size()
	if task.Offset > fileSize {
		return nil, 0, fmt.Errorf("%w: part %d starts at byte %d, beyond the file size (%d bytes)", ErrIO, task.PartNumber, task.Offset, fileSize)
	}
	size := min(fileSize-task.Offset, task.ChunkSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, task.URL, io.NewSectionReader(file, task.Offset, size))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: create request: %w", ErrNetworkSend, err)
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrNetworkSend, err)
	}
	defer func(body io.ReadCloser) {
		if _, err := io.Copy(io.Discard, io.LimitReader(body, maxErrorBodySize)); err != nil {
			u.logger.Debugf("Failed to drain response body: %s", err)
		}
		if err := body.Close(); err != nil {
			u.logger.Debugf("Failed to close response body: %s", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, 0, fmt.Errorf("%w: %w", ErrServerStatus, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(errorBody)),
		})
	}

	headers, err := captureHeaders(resp.Header)
	if err != nil {
		return nil, 0, err
	}

	return headers, size, nil
}

// captureHeaders copies every response header into Headers.
// Names are lower-cased; for repeated headers the last value wins.
func captureHeaders(header http.Header) (Headers, error) {
	headers := make(Headers, len(header))
	for name, values := range header {
		key := strings.ToLower(name)
		for _, value := range values {
			if !isHeaderText(value) {
				return nil, fmt.Errorf("%w: header %s: %q", ErrHeaderDecode, key, value)
			}
			headers[key] = value
		}
	}
	return headers, nil
}

// isHeaderText reports whether value only holds visible ASCII characters, spaces or tabs.
func isHeaderText(value string) bool {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
