// Package upload implements chunked, resumable uploads of large files:
// fixed-size chunks sent in waves of bounded concurrency through a shared
// circuit breaker, with session state persisted after every chunk so an
// interrupted transfer resumes from where it stopped.
package upload

import (
	"sort"
	"time"

	"github.com/tildaslashalef/vaultsync/internal/ulid"
)

// Session is the durable bookkeeping of one chunked upload. UploadedChunks
// always holds the full sorted index set; it is persisted whole after every
// chunk, never as a delta, so a stale concurrent snapshot cannot lose an
// index.
type Session struct {
	UploadID       string    `json:"upload_id"`
	Path           string    `json:"path"`
	TotalSize      int64     `json:"total_size"`
	ChunkSize      int64     `json:"chunk_size"`
	ChunkCount     int       `json:"chunk_count"`
	UploadedChunks []int     `json:"uploaded_chunks"`
	StartedAt      time.Time `json:"started_at"`
}

// NewSession creates a session for a payload of totalSize bytes.
func NewSession(path string, totalSize, chunkSize int64) *Session {
	count := int(totalSize / chunkSize)
	if totalSize%chunkSize != 0 {
		count++
	}
	return &Session{
		UploadID:   ulid.UploadID(),
		Path:       path,
		TotalSize:  totalSize,
		ChunkSize:  chunkSize,
		ChunkCount: count,
		StartedAt:  time.Now(),
	}
}

// MarkUploaded records a completed chunk index, keeping the set sorted and
// free of duplicates.
func (s *Session) MarkUploaded(index int) {
	for _, i := range s.UploadedChunks {
		if i == index {
			return
		}
	}
	s.UploadedChunks = append(s.UploadedChunks, index)
	sort.Ints(s.UploadedChunks)
}

// IsUploaded reports whether a chunk index has already landed.
func (s *Session) IsUploaded(index int) bool {
	for _, i := range s.UploadedChunks {
		if i == index {
			return true
		}
	}
	return false
}

// Missing returns the chunk indices still to upload, in order.
func (s *Session) Missing() []int {
	var missing []int
	for i := 0; i < s.ChunkCount; i++ {
		if !s.IsUploaded(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// IsComplete reports whether every chunk has landed.
func (s *Session) IsComplete() bool {
	return len(s.UploadedChunks) == s.ChunkCount
}

// UploadedBytes returns the byte count covered by uploaded chunks. The final
// chunk may be short.
func (s *Session) UploadedBytes() int64 {
	var total int64
	for _, i := range s.UploadedChunks {
		total += s.chunkLen(i)
	}
	return total
}

func (s *Session) chunkLen(index int) int64 {
	start := int64(index) * s.ChunkSize
	end := start + s.ChunkSize
	if end > s.TotalSize {
		end = s.TotalSize
	}
	return end - start
}
