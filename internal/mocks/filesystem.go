// Package mocks provides mock implementations for testing.
package mocks

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcdonaldj/sitedrop/internal/ports"
)

// MockFileSystem implements ports.FileSystem for testing.
// It is safe for concurrent use.
type MockFileSystem struct {
	mu sync.Mutex
	// Files maps paths to file contents
	Files map[string][]byte
	// Dirs maps paths to directory entries for ReadDir
	Dirs map[string][]os.DirEntry
	// Modes overrides the mode reported for a path (e.g. os.ModeSymlink)
	Modes map[string]os.FileMode
	// Infos answers Lstat for paths that are not files, e.g. directories
	Infos map[string]os.FileInfo
	// Errors maps paths to errors (for simulating failures)
	Errors map[string]error
	// WalkEntries, when set, replaces the walk derived from Files
	WalkEntries []WalkEntry

	// MkdirAllCalls records every MkdirAll path
	MkdirAllCalls []string
	// RemoveAllCalls records every RemoveAll path
	RemoveAllCalls []string
	// CopyCalls records every CopyFile call as "src->dst"
	CopyCalls []string
}

// WalkEntry represents a file or directory entry for Walk testing.
type WalkEntry struct {
	Path string
	Info os.FileInfo
	Err  error
}

// NewMockFileSystem creates a new mock filesystem.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		Files:  make(map[string][]byte),
		Dirs:   make(map[string][]os.DirEntry),
		Modes:  make(map[string]os.FileMode),
		Infos:  make(map[string]os.FileInfo),
		Errors: make(map[string]error),
	}
}

// AddFile registers a file with the given content.
func (m *MockFileSystem) AddFile(name string, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[name] = []byte(content)
}

// ReadDir reads the named directory and returns directory entries.
func (m *MockFileSystem) ReadDir(name string) ([]os.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	if entries, ok := m.Dirs[name]; ok {
		return entries, nil
	}
	return nil, os.ErrNotExist
}

// Lstat returns file info for the named file.
func (m *MockFileSystem) Lstat(name string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	if content, ok := m.Files[name]; ok {
		return &MockFileInfo{FileName: filepath.Base(name), FileSize: int64(len(content)), FileMode: m.Modes[name]}, nil
	}
	if info, ok := m.Infos[name]; ok {
		return info, nil
	}
	return nil, os.ErrNotExist
}

// MkdirAll creates a directory along with any necessary parents.
func (m *MockFileSystem) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MkdirAllCalls = append(m.MkdirAllCalls, path)
	if err, ok := m.Errors[path]; ok {
		return err
	}
	return nil
}

// RemoveAll removes path and any children it contains.
func (m *MockFileSystem) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveAllCalls = append(m.RemoveAllCalls, path)
	if err, ok := m.Errors[path]; ok {
		return err
	}
	for k := range m.Files {
		if k == path || strings.HasPrefix(k, path+string(filepath.Separator)) {
			delete(m.Files, k)
		}
	}
	return nil
}

// Rename renames (moves) oldpath to newpath.
func (m *MockFileSystem) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors[oldpath]; ok {
		return err
	}
	content, ok := m.Files[oldpath]
	if !ok {
		return os.ErrNotExist
	}
	m.Files[newpath] = content
	delete(m.Files, oldpath)
	return nil
}

// Open opens the named file for reading.
func (m *MockFileSystem) Open(name string) (fs.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	content, ok := m.Files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &mockFile{name: name, content: content}, nil
}

// CopyFile copies src to dst. It fails if dst exists.
func (m *MockFileSystem) CopyFile(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CopyCalls = append(m.CopyCalls, src+"->"+dst)
	if err, ok := m.Errors[src]; ok {
		return err
	}
	if err, ok := m.Errors[dst]; ok {
		return err
	}
	content, ok := m.Files[src]
	if !ok {
		return os.ErrNotExist
	}
	if _, exists := m.Files[dst]; exists {
		return os.ErrExist
	}
	m.Files[dst] = append([]byte(nil), content...)
	return nil
}

// Walk walks the files under root in lexical order, calling fn for each.
// When WalkEntries is set those entries are replayed instead.
func (m *MockFileSystem) Walk(root string, fn ports.WalkFunc) error {
	for _, entry := range m.walkEntries(root) {
		if err := fn(entry.Path, entry.Info, entry.Err); err != nil {
			if err == filepath.SkipDir || err == filepath.SkipAll {
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *MockFileSystem) walkEntries(root string) []WalkEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WalkEntries != nil {
		var out []WalkEntry
		for _, e := range m.WalkEntries {
			if strings.HasPrefix(e.Path, root) {
				out = append(out, e)
			}
		}
		return out
	}

	out := []WalkEntry{{Path: root, Info: &MockFileInfo{FileName: filepath.Base(root), Dir: true}}}
	var names []string
	for name := range m.Files {
		if strings.HasPrefix(name, root+string(filepath.Separator)) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, WalkEntry{
			Path: name,
			Info: &MockFileInfo{FileName: filepath.Base(name), FileSize: int64(len(m.Files[name])), FileMode: m.Modes[name]},
		})
	}
	return out
}

// MockFileInfo implements os.FileInfo for testing.
type MockFileInfo struct {
	FileName string
	FileSize int64
	FileMode os.FileMode
	Dir      bool
	Modified time.Time
}

func (fi *MockFileInfo) Name() string { return fi.FileName }
func (fi *MockFileInfo) Size() int64  { return fi.FileSize }
func (fi *MockFileInfo) Mode() os.FileMode {
	if fi.Dir {
		return fi.FileMode | os.ModeDir
	}
	return fi.FileMode
}
func (fi *MockFileInfo) ModTime() time.Time { return fi.Modified }
func (fi *MockFileInfo) IsDir() bool        { return fi.Dir }
func (fi *MockFileInfo) Sys() interface{}   { return nil }

// mockFile implements fs.File for testing.
type mockFile struct {
	name    string
	content []byte
	offset  int
}

func (f *mockFile) Stat() (fs.FileInfo, error) {
	return &MockFileInfo{FileName: filepath.Base(f.name), FileSize: int64(len(f.content))}, nil
}

func (f *mockFile) Read(p []byte) (int, error) {
	if f.offset >= len(f.content) {
		return 0, io.EOF
	}
	n := copy(p, f.content[f.offset:])
	f.offset += n
	return n, nil
}

func (f *mockFile) Close() error { return nil }

// MockDirEntry implements os.DirEntry for testing.
type MockDirEntry struct {
	EntryName string
	Directory bool
}

func (e *MockDirEntry) Name() string { return e.EntryName }
func (e *MockDirEntry) IsDir() bool  { return e.Directory }
func (e *MockDirEntry) Type() os.FileMode {
	if e.Directory {
		return os.ModeDir
	}
	return 0
}
func (e *MockDirEntry) Info() (os.FileInfo, error) {
	return &MockFileInfo{FileName: e.EntryName, Dir: e.Directory}, nil
}

// Compile-time check that MockFileSystem implements ports.FileSystem.
var _ ports.FileSystem = (*MockFileSystem)(nil)
