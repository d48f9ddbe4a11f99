package mocks

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/mcdonaldj/sitedrop/internal/ports"
)

// MockArchiver implements ports.Archiver for testing.
type MockArchiver struct {
	mu sync.Mutex
	// ValidateCalls records the size of every archive passed to Validate
	ValidateCalls []int
	// ExtractCalls records destination directories passed to Extract
	ExtractCalls []string
	// Result is returned by Validate when no error is configured
	Result *MockArchive
	// Errors maps method names ("Validate", "Extract") to errors
	Errors map[string]error
	// ExtractFunc, if set, runs on Extract (e.g. to write files)
	ExtractFunc func(destDir string) error
}

// NewMockArchiver creates a new mock archiver returning an empty archive.
func NewMockArchiver() *MockArchiver {
	return &MockArchiver{
		Result: NewMockArchive(nil),
		Errors: make(map[string]error),
	}
}

// Validate returns the configured archive or error.
func (m *MockArchiver) Validate(data []byte, limits ports.Limits) (ports.Archive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ValidateCalls = append(m.ValidateCalls, len(data))
	if err, ok := m.Errors["Validate"]; ok {
		return nil, err
	}
	return m.Result, nil
}

// Extract records the call and runs ExtractFunc.
func (m *MockArchiver) Extract(a ports.Archive, destDir string) error {
	m.mu.Lock()
	m.ExtractCalls = append(m.ExtractCalls, destDir)
	err, failed := m.Errors["Extract"]
	fn := m.ExtractFunc
	m.mu.Unlock()
	if failed {
		return err
	}
	if fn != nil {
		return fn(destDir)
	}
	return nil
}

// MockArchive is an in-memory ports.Archive.
type MockArchive struct {
	files map[string][]byte
	order []string
}

// NewMockArchive builds an archive from path->content pairs in the given order.
func NewMockArchive(files []string, contents ...string) *MockArchive {
	a := &MockArchive{files: make(map[string][]byte)}
	for i, name := range files {
		body := ""
		if i < len(contents) {
			body = contents[i]
		}
		a.files[name] = []byte(body)
		a.order = append(a.order, name)
	}
	return a
}

func (a *MockArchive) Entries() []ports.ArchiveEntry {
	out := make([]ports.ArchiveEntry, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, ports.ArchiveEntry{Path: name, Size: uint64(len(a.files[name]))})
	}
	return out
}

func (a *MockArchive) Files() int { return len(a.order) }

func (a *MockArchive) Open(p string) (io.ReadCloser, error) {
	body, ok := a.files[p]
	if !ok {
		return nil, fmt.Errorf("file not found in archive: %s", p)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// Compile-time checks.
var (
	_ ports.Archiver = (*MockArchiver)(nil)
	_ ports.Archive  = (*MockArchive)(nil)
)
