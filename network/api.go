package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	maxKeyLength      = 512
	maxErrorBodyBytes = 4096
)

// prepareUploadRequest uses the cache API's field names: uploads are stored as cache archives.
type prepareUploadRequest struct {
	Key             string `json:"cache_key"`
	FileName        string `json:"archive_filename"`
	FileContentType string `json:"archive_content_type"`
	FileSizeInBytes int64  `json:"archive_size_in_bytes"`
}

type prepareUploadResponse struct {
	ID                 string      `json:"id"`
	UploadURLs         []uploadURL `json:"urls"`
	ChunkSizeBytes     int64       `json:"chunk_size_bytes"`
	ChunkCount         int         `json:"chunk_count"`
	LastChunkSizeBytes int64       `json:"last_chunk_size_bytes"`
}

type uploadURL struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

type acknowledgeRequest struct {
	Successful bool     `json:"successful"`
	Etags      []string `json:"etags"`
}

type acknowledgeResponse struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// apiClient talks to the upload API. Part uploads bypass it and go straight to the part URLs.
type apiClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

func newAPIClient(client *retryablehttp.Client, baseURL string, accessToken string, logger log.Logger) apiClient {
	return apiClient{
		httpClient:  client,
		baseURL:     baseURL,
		accessToken: accessToken,
		logger:      logger,
	}
}

func (c apiClient) prepareUpload(ctx context.Context, request prepareUploadRequest) (prepareUploadResponse, error) {
	var response prepareUploadResponse
	err := c.callJSON(ctx, http.MethodPost, "/multipart-upload", request, http.StatusCreated, &response)
	return response, err
}

func (c apiClient) acknowledgeUpload(ctx context.Context, successful bool, uploadID string, partTags []string) (acknowledgeResponse, error) {
	if partTags == nil {
		partTags = []string{}
	}

	var response acknowledgeResponse
	err := c.callJSON(ctx, http.MethodPatch, fmt.Sprintf("/multipart-upload/%s/acknowledge", uploadID), acknowledgeRequest{
		Successful: successful,
		Etags:      partTags,
	}, http.StatusOK, &response)
	return response, err
}

// callJSON sends body as JSON to the API path and decodes the response into out,
// failing unless the response status is wantStatus.
func (c apiClient) callJSON(ctx context.Context, method, path string, body interface{}, wantStatus int, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debugf("%s %s: %s", method, path, payload)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if dump, err := httputil.DumpResponse(resp, false); err == nil {
		c.logger.Debugf("Response: %s", dump)
	}

	if resp.StatusCode != wantStatus {
		return unwrapError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c apiClient) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf("close response body: %s", err)
	}
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
