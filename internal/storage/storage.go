// Package storage confines all filesystem operations to a single root
// directory. Every operation resolves caller-supplied path segments through
// Resolve before touching the disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrPathTraversal is returned when resolved path segments would escape
	// the storage root.
	ErrPathTraversal = errors.New("path escapes storage root")

	// ErrIsDirectory is returned when a file operation targets a directory.
	ErrIsDirectory = errors.New("path is a directory")
)

// Entry describes a single item in a directory listing.
type Entry struct {
	Name         string `json:"name"`
	IsDirectory  bool   `json:"isDirectory"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"` // epoch milliseconds
}

// Store performs filesystem operations under a single root directory.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %s: %w", dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat storage root %s: %w", abs, err)
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("create storage root %s: %w", abs, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", abs)
	}

	return &Store{root: abs}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

// Resolve joins caller-supplied segments onto the root and verifies the
// result stays inside it. The check runs after filepath.Join has collapsed
// any ".." or "." components; the resolved path must be the root itself or
// begin with root plus a separator, so a sibling like "/data/store-evil"
// cannot pass for root "/data/store".
func (s *Store) Resolve(segments []string) (string, error) {
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, s.root)
	for _, seg := range segments {
		if strings.ContainsRune(seg, 0) || filepath.IsAbs(seg) {
			return "", ErrPathTraversal
		}
		parts = append(parts, seg)
	}

	resolved := filepath.Join(parts...)
	if resolved == s.root {
		return resolved, nil
	}
	if !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return resolved, nil
}

// List returns the entries of the directory at segments, directories first
// and then case-insensitive lexicographic by name. The directory is created
// if it does not exist yet, so browsing into a fresh root works.
func (s *Store) List(ctx context.Context, segments []string) ([]Entry, error) {
	dir, err := s.Resolve(segments)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	// Entries are independent and read-only, so stat them concurrently.
	entries := make([]Entry, len(dirents))
	var wg sync.WaitGroup
	for i, dirent := range dirents {
		wg.Add(1)
		go func(i int, name string, isDir bool) {
			defer wg.Done()
			e := Entry{Name: name, IsDirectory: isDir}
			if info, err := os.Stat(filepath.Join(dir, name)); err == nil {
				e.LastModified = info.ModTime().UnixMilli()
				if !isDir {
					e.Size = info.Size()
				}
			}
			entries[i] = e
		}(i, dirent.Name(), dirent.IsDir())
	}
	wg.Wait()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDirectory != b.IsDirectory {
			return a.IsDirectory
		}
		al, bl := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if al != bl {
			return al < bl
		}
		return a.Name < b.Name
	})

	return entries, nil
}

// SaveFile writes the contents of r to filename under the directory at
// segments, overwriting any existing file of the same name. The write goes
// through a temp file and rename so a failed upload never leaves a partial
// file behind. Returns the number of bytes written.
func (s *Store) SaveFile(ctx context.Context, segments []string, filename string, r io.Reader) (int64, error) {
	dst, err := s.Resolve(append(append([]string{}, segments...), filename))
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create dirs for %s: %w", filename, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp for %s: %w", filename, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("write %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("close temp for %s: %w", filename, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("rename temp to %s: %w", filename, err)
	}

	return n, nil
}

// CreateFolder creates a directory named name under the directory at
// segments. Creating an existing folder is not an error.
func (s *Store) CreateFolder(ctx context.Context, segments []string, name string) error {
	dst, err := s.Resolve(append(append([]string{}, segments...), name))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("create folder %s: %w", name, err)
	}
	return nil
}

// Delete removes the entry named name under the directory at segments.
// Directories are removed recursively. Deleting a missing file surfaces the
// filesystem error rather than silently succeeding.
func (s *Store) Delete(ctx context.Context, segments []string, name string, isDirectory bool) error {
	dst, err := s.Resolve(append(append([]string{}, segments...), name))
	if err != nil {
		return err
	}

	if isDirectory {
		if _, err := os.Stat(dst); err != nil {
			return fmt.Errorf("stat %s: %w", name, err)
		}
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("delete folder %s: %w", name, err)
		}
		return nil
	}

	if err := os.Remove(dst); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// OpenFile opens the file at segments for streaming. The caller must close
// the returned reader. Directories are rejected.
func (s *Store) OpenFile(ctx context.Context, segments []string) (io.ReadCloser, os.FileInfo, error) {
	path, err := s.Resolve(segments)
	if err != nil {
		return nil, nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, nil, ErrIsDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, info, nil
}
