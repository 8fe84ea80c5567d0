package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cenkalti/backoff/v4"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
)

// Client handles HTTP communication with the remote file store
type Client struct {
	baseURL    string
	tokens     TokenSource
	maxRetries int
	httpClient *http.Client
	logger     *loggy.Logger
}

// NewClient creates a new HTTP client for the remote store
func NewClient(cfg config.RemoteConfig, tokens TokenSource, logger *loggy.Logger) *Client {
	// Custom transport for connection pooling
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}

	return &Client{
		baseURL:    cfg.URL,
		tokens:     tokens,
		maxRetries: cfg.MaxRetries,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListFiles returns all file records in the vault.
func (c *Client) ListFiles(ctx context.Context, vaultID string) ([]FileRecord, error) {
	u := fmt.Sprintf("%s/api/vaults/%s/files", c.baseURL, url.PathEscape(vaultID))

	var records []FileRecord
	if err := c.do(ctx, http.MethodGet, u, "", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetFile fetches a file's content, hash and timestamps by vault path.
func (c *Client) GetFile(ctx context.Context, vaultID, path string) (*FileContent, error) {
	u := fmt.Sprintf("%s/api/vaults/%s/file?path=%s",
		c.baseURL, url.PathEscape(vaultID), url.QueryEscape(path))

	var file FileContent
	if err := c.do(ctx, http.MethodGet, u, path, nil, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// CreateFile creates a new file in the vault.
func (c *Client) CreateFile(ctx context.Context, vaultID, path string, content []byte) (*FileRecord, error) {
	u := fmt.Sprintf("%s/api/vaults/%s/files", c.baseURL, url.PathEscape(vaultID))

	var record FileRecord
	req := CreateFileRequest{Path: path, Content: content}
	if err := c.do(ctx, http.MethodPost, u, path, req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateFile replaces the content of an existing file by id.
func (c *Client) UpdateFile(ctx context.Context, vaultID, fileID string, content []byte) (*FileRecord, error) {
	u := fmt.Sprintf("%s/api/vaults/%s/files/%s",
		c.baseURL, url.PathEscape(vaultID), url.PathEscape(fileID))

	var record FileRecord
	req := UpdateFileRequest{Content: content}
	if err := c.do(ctx, http.MethodPut, u, fileID, req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteFile deletes a file by id. A remote 404 is reported as NotFoundError;
// callers treat it as idempotent success.
func (c *Client) DeleteFile(ctx context.Context, vaultID, fileID string) error {
	u := fmt.Sprintf("%s/api/vaults/%s/files/%s",
		c.baseURL, url.PathEscape(vaultID), url.PathEscape(fileID))

	return c.do(ctx, http.MethodDelete, u, fileID, nil, nil)
}

// FileExists probes for a file's existence without fetching content.
func (c *Client) FileExists(ctx context.Context, vaultID, path string) (*ExistsResponse, error) {
	u := fmt.Sprintf("%s/api/vaults/%s/exists?path=%s",
		c.baseURL, url.PathEscape(vaultID), url.QueryEscape(path))

	var resp ExistsResponse
	if err := c.do(ctx, http.MethodGet, u, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadChunk uploads one chunk of a large file. The store accepts chunks in
// any order and reports Complete when the last one lands.
func (c *Client) UploadChunk(ctx context.Context, vaultID string, req ChunkUploadRequest) (*ChunkAck, error) {
	u := fmt.Sprintf("%s/api/vaults/%s/chunks", c.baseURL, url.PathEscape(vaultID))

	var ack ChunkAck
	if err := c.do(ctx, http.MethodPost, u, req.Path, req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// VerifyToken checks whether the configured token is accepted by the store.
func (c *Client) VerifyToken(ctx context.Context) (bool, error) {
	u := fmt.Sprintf("%s/api/auth/verify", c.baseURL)

	err := c.sendOnce(ctx, http.MethodGet, u, "", nil, nil)
	if err == nil {
		return true, nil
	}
	if IsAuth(err) {
		return false, nil
	}
	return false, err
}

// do executes a request with selective retry: not-found, auth and validation
// errors are permanent, everything else is retried with exponential backoff.
func (c *Client) do(ctx context.Context, method, url, path string, body, out any) error {
	operation := func() error {
		err := c.sendOnce(ctx, method, url, path, body, out)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("Retryable remote store failure", "method", method, "path", path, "error", err)
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx)
	return backoff.Retry(operation, bo)
}

// sendOnce performs a single HTTP round trip and decodes the response.
func (c *Client) sendOnce(ctx context.Context, method, url, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.tokens.Token()))
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: fmt.Sprintf("%s %s", method, url), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr APIError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr != nil {
			return errorFromStatus(resp.StatusCode, path, nil)
		}
		apiErr.StatusCode = resp.StatusCode
		return errorFromStatus(resp.StatusCode, path, &apiErr)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
