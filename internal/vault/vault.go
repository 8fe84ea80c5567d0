// Package vault provides the boundary to the local vault file tree: content
// hashing and a narrow filesystem interface the sync engine reads and writes
// through.
package vault

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotExist is returned when a vault path does not exist.
var ErrNotExist = errors.New("vault path does not exist")

// FileInfo describes a vault entry. Paths are vault-relative and
// slash-separated.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// FS is the host filesystem collaborator. Implementations must treat all
// paths as vault-relative.
type FS interface {
	// Read returns the full content of the file at path.
	Read(path string) ([]byte, error)

	// Write stores content at path, creating parent directories. A non-zero
	// modTime is applied to the written file so downloads keep the remote's
	// timestamps.
	Write(path string, content []byte, modTime time.Time) error

	// Remove deletes the file at path. Removing a missing file is an error.
	Remove(path string) error

	// Stat returns information about the entry at path, ErrNotExist if absent.
	Stat(path string) (FileInfo, error)

	// List enumerates all files (not directories) under the vault root.
	List() ([]FileInfo, error)
}

// OSFS implements FS against a directory on the host filesystem.
type OSFS struct {
	root string
}

// NewOSFS creates an FS rooted at the given directory.
func NewOSFS(root string) *OSFS {
	return &OSFS{root: root}
}

func (o *OSFS) abs(path string) string {
	return filepath.Join(o.root, filepath.FromSlash(path))
}

// Read returns the full content of the file at path.
func (o *OSFS) Read(path string) ([]byte, error) {
	content, err := os.ReadFile(o.abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	return content, err
}

// Write stores content at path, creating parent directories and applying
// modTime when non-zero.
func (o *OSFS) Write(path string, content []byte, modTime time.Time) error {
	full := o.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(full, content, 0644); err != nil {
		return err
	}
	if !modTime.IsZero() {
		if err := os.Chtimes(full, modTime, modTime); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the file at path.
func (o *OSFS) Remove(path string) error {
	err := os.Remove(o.abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotExist
	}
	return err
}

// Stat returns information about the entry at path.
func (o *OSFS) Stat(path string) (FileInfo, error) {
	info, err := os.Stat(o.abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return FileInfo{}, ErrNotExist
	}
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

// List enumerates all files under the vault root, skipping hidden entries.
func (o *OSFS) List() ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.WalkDir(o.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && p != o.root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(o.root, p)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Path:    filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// MemFS is an in-memory FS used by tests.
type MemFS struct {
	files    map[string][]byte
	modTimes map[string]time.Time
}

// NewMemFS creates an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{
		files:    make(map[string][]byte),
		modTimes: make(map[string]time.Time),
	}
}

func (m *MemFS) Read(path string) ([]byte, error) {
	content, ok := m.files[path]
	if !ok {
		return nil, ErrNotExist
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (m *MemFS) Write(path string, content []byte, modTime time.Time) error {
	stored := make([]byte, len(content))
	copy(stored, content)
	m.files[path] = stored
	if modTime.IsZero() {
		modTime = time.Now()
	}
	m.modTimes[path] = modTime
	return nil
}

func (m *MemFS) Remove(path string) error {
	if _, ok := m.files[path]; !ok {
		return ErrNotExist
	}
	delete(m.files, path)
	delete(m.modTimes, path)
	return nil
}

func (m *MemFS) Stat(path string) (FileInfo, error) {
	if content, ok := m.files[path]; ok {
		return FileInfo{
			Path:    path,
			Size:    int64(len(content)),
			ModTime: m.modTimes[path],
		}, nil
	}
	// Implicit directory if any file lives under path
	prefix := path + "/"
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			return FileInfo{Path: path, IsDir: true}, nil
		}
	}
	return FileInfo{}, ErrNotExist
}

func (m *MemFS) List() ([]FileInfo, error) {
	files := make([]FileInfo, 0, len(m.files))
	for p, content := range m.files {
		files = append(files, FileInfo{
			Path:    p,
			Size:    int64(len(content)),
			ModTime: m.modTimes[p],
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
