package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.RemoteConfig{
		URL:                 server.URL,
		Timeout:             5 * time.Second,
		MaxRetries:          2,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     time.Minute,
	}
	return NewClient(cfg, StaticToken("test-token"), loggy.NewNoopLogger()), server
}

func TestGetFile(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/vaults/v1/file", r.URL.Path)
		assert.Equal(t, "notes/a.md", r.URL.Query().Get("path"))

		_ = json.NewEncoder(w).Encode(FileContent{
			FileRecord: FileRecord{ID: "f1", Path: "notes/a.md", Hash: "abc", Size: 4},
			Content:    []byte("# hi"),
		})
	}))

	file, err := client.GetFile(context.Background(), "v1", "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "f1", file.ID)
	assert.Equal(t, []byte("# hi"), file.Content)
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(APIError{Message: "no such file", ErrorCode: "not_found"})
	}))

	_, err := client.GetFile(context.Background(), "v1", "missing.md")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load(), "not-found must not consume retries")
}

func TestAuthErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(APIError{Message: "token expired", ErrorCode: "auth"})
	}))

	_, err := client.ListFiles(context.Background(), "v1")
	require.Error(t, err)
	assert.True(t, IsAuth(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(APIError{Message: "boom"})
			return
		}
		_ = json.NewEncoder(w).Encode([]FileRecord{{ID: "f1", Path: "a.md"}})
	}))

	records, err := client.ListFiles(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int32(3), calls.Load(), "5xx responses are retried")
}

func TestCreateAndUpdateFile(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			var req CreateFileRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "b.md", req.Path)
			_ = json.NewEncoder(w).Encode(FileRecord{ID: "f2", Path: req.Path})
		case r.Method == http.MethodPut:
			assert.Equal(t, "/api/vaults/v1/files/f2", r.URL.Path)
			_ = json.NewEncoder(w).Encode(FileRecord{ID: "f2", Path: "b.md", Hash: "new"})
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))

	created, err := client.CreateFile(context.Background(), "v1", "b.md", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "f2", created.ID)

	updated, err := client.UpdateFile(context.Background(), "v1", "f2", []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Hash)
}

func TestDeleteFile(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.NoError(t, client.DeleteFile(context.Background(), "v1", "f1"))
}

func TestFileExists(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/vaults/v1/exists", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ExistsResponse{Exists: true, File: &FileRecord{ID: "f1"}})
	}))

	resp, err := client.FileExists(context.Background(), "v1", "a.md")
	require.NoError(t, err)
	assert.True(t, resp.Exists)
	require.NotNil(t, resp.File)
}

func TestUploadChunk(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChunkUploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.ChunkIndex)
		assert.True(t, req.Compressed)

		ack := ChunkAck{ChunkIndex: req.ChunkIndex, Received: true}
		if req.ChunkIndex == req.ChunkTotal-1 {
			ack.Complete = true
			ack.File = &FileRecord{ID: "f9", Path: req.Path}
		}
		_ = json.NewEncoder(w).Encode(ack)
	}))

	ack, err := client.UploadChunk(context.Background(), "v1", ChunkUploadRequest{
		Filename:   "big.bin",
		Path:       "big.bin",
		ChunkIndex: 2,
		ChunkTotal: 3,
		Data:       []byte("chunk"),
		Compressed: true,
	})
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.True(t, ack.Complete)
	require.NotNil(t, ack.File)
}

func TestVerifyToken(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		ok, err := client.VerifyToken(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("invalid", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		ok, err := client.VerifyToken(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestIsRetryableClassification(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&NotFoundError{Path: "a"}))
	assert.False(t, IsRetryable(&AuthError{Message: "x"}))
	assert.False(t, IsRetryable(&ValidationError{Message: "x"}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 503}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 409}))
	assert.True(t, IsRetryable(&NetworkError{Op: "GET", Err: context.DeadlineExceeded}))
}
