// Package remote provides the HTTP client for the remote file store.
package remote

import (
	"time"
)

// FileRecord describes a file as known to the remote store.
type FileRecord struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileContent is a FileRecord together with its content.
type FileContent struct {
	FileRecord
	Content []byte `json:"content"`
}

// CreateFileRequest creates a new file in a vault.
type CreateFileRequest struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// UpdateFileRequest replaces the content of an existing file.
type UpdateFileRequest struct {
	Content []byte `json:"content"`
}

// ExistsResponse is the result of a lightweight existence probe.
type ExistsResponse struct {
	Exists bool        `json:"exists"`
	File   *FileRecord `json:"file,omitempty"`
}

// ChunkUploadRequest uploads one chunk of a large file.
type ChunkUploadRequest struct {
	Filename   string `json:"filename"`
	Path       string `json:"path"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkTotal int    `json:"chunk_total"`
	Data       []byte `json:"data"`
	Overwrite  bool   `json:"overwrite"`
	Compressed bool   `json:"compressed"`
}

// ChunkAck acknowledges a received chunk. Complete is set when the store has
// assembled all chunks, in which case File holds the final record.
type ChunkAck struct {
	ChunkIndex int         `json:"chunk_index"`
	Received   bool        `json:"received"`
	Complete   bool        `json:"complete"`
	File       *FileRecord `json:"file,omitempty"`
}

// TokenSource supplies the bearer token for each request, allowing the token
// to be refreshed outside the client.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token returns the static token value.
func (s StaticToken) Token() string { return string(s) }
