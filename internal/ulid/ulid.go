// Package ulid provides ID generation for vaultsync records on top of
// github.com/oklog/ulid/v2.
//
// ULIDs are lexicographically sortable by creation time, which keeps
// conflict records, queued operations and upload sessions naturally ordered
// in the database without a separate sequence column.
package ulid

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for the different record families.
const (
	// PrefixConflict for conflict records
	PrefixConflict = "conf"

	// PrefixOperation for queued offline operations
	PrefixOperation = "op"

	// PrefixUpload for chunked upload sessions
	PrefixUpload = "up"

	// PrefixSync for sync log entries
	PrefixSync = "sync"

	// PrefixSeparator separates the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// Generate creates a new ULID string with the current timestamp.
func Generate() string {
	return NewWithTime(time.Now())
}

// GenerateWithPrefix creates a new ULID with the current timestamp and a prefix.
func GenerateWithPrefix(prefix string) string {
	return prefix + PrefixSeparator + Generate()
}

// NewWithTime creates a new ULID string with a specific timestamp.
func NewWithTime(t time.Time) string {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return id.String()
}

// Validate checks whether a string is a valid, optionally prefixed, ULID.
func Validate(id string) bool {
	raw := id
	if i := strings.Index(id, PrefixSeparator); i >= 0 {
		raw = id[i+1:]
	}
	_, err := ulid.Parse(raw)
	return err == nil
}

// Time returns the timestamp component of a, possibly prefixed, ULID string.
func Time(id string) (time.Time, error) {
	raw := id
	if i := strings.Index(id, PrefixSeparator); i >= 0 {
		raw = id[i+1:]
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// ConflictID generates a new ULID with the conflict prefix
func ConflictID() string {
	return GenerateWithPrefix(PrefixConflict)
}

// OperationID generates a new ULID with the operation prefix
func OperationID() string {
	return GenerateWithPrefix(PrefixOperation)
}

// UploadID generates a new ULID with the upload prefix
func UploadID() string {
	return GenerateWithPrefix(PrefixUpload)
}

// SyncID generates a new ULID with the sync prefix
func SyncID() string {
	return GenerateWithPrefix(PrefixSync)
}
