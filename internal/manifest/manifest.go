// Package manifest builds the path -> content digest manifest of an
// extracted site tree.
package manifest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/mcdonaldj/sitedrop/internal/deployerr"
	"github.com/mcdonaldj/sitedrop/internal/ports"
)

// Entry is one file in the manifest.
type Entry struct {
	Path   string `json:"path"`
	Digest string `json:"sha1"`
	Size   int64  `json:"size_bytes"`
}

// FileManifest maps relative slash paths to SHA-1 digests, ordered by path.
type FileManifest struct {
	Entries []Entry `json:"files"`

	index map[string]int
}

// New builds a manifest from entries, sorting them by path.
func New(entries []Entry) (*FileManifest, error) {
	m := &FileManifest{Entries: append([]Entry(nil), entries...)}
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Path < m.Entries[j].Path })
	m.index = make(map[string]int, len(m.Entries))
	for i, e := range m.Entries {
		if _, dup := m.index[e.Path]; dup {
			return nil, fmt.Errorf("duplicate manifest path: %s", e.Path)
		}
		m.index[e.Path] = i
	}
	return m, nil
}

// Len returns the number of files.
func (m *FileManifest) Len() int {
	return len(m.Entries)
}

// Files returns the path -> digest mapping.
func (m *FileManifest) Files() map[string]string {
	out := make(map[string]string, len(m.Entries))
	for _, e := range m.Entries {
		out[e.Path] = e.Digest
	}
	return out
}

// Lookup returns the entry for path.
func (m *FileManifest) Lookup(path string) (Entry, bool) {
	i, ok := m.index[path]
	if !ok {
		return Entry{}, false
	}
	return m.Entries[i], true
}

// PathsFor returns every path carrying digest, in path order.
func (m *FileManifest) PathsFor(digest string) []string {
	var paths []string
	for _, e := range m.Entries {
		if e.Digest == digest {
			paths = append(paths, e.Path)
		}
	}
	return paths
}

// TotalBytes returns the summed size of all files.
func (m *FileManifest) TotalBytes() int64 {
	var total int64
	for _, e := range m.Entries {
		total += e.Size
	}
	return total
}

// Write encodes the manifest as indented JSON.
func (m *FileManifest) Write(w io.Writer) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Build walks every regular file under root and digests it. Symlinks are
// rejected so nothing outside the tree can be read. Any unreadable file
// fails the whole build.
func Build(ctx context.Context, fsys ports.FileSystem, root string, workers int) (*FileManifest, error) {
	if workers < 1 {
		workers = 1
	}

	var files []Entry
	walkErr := fsys.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return deployerr.Wrap(deployerr.UnreadableFile, err, "scanning %s", path)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return deployerr.New(deployerr.SymlinkRejected, "symbolic link in site tree: %s", relOrBase(root, path))
		}
		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			return deployerr.New(deployerr.UnreadableFile, "not a regular file: %s", relOrBase(root, path))
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return deployerr.Wrap(deployerr.UnreadableFile, err, "relative path for %s", path)
		}
		files = append(files, Entry{Path: filepath.ToSlash(rel)})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range files {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			full := filepath.Join(root, filepath.FromSlash(files[i].Path))
			digest, size, err := ComputeFileDigest(fsys, full)
			if err != nil {
				return deployerr.Wrap(deployerr.UnreadableFile, err, "reading %s", files[i].Path)
			}
			files[i].Digest = digest
			files[i].Size = size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return New(files)
}

func relOrBase(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(path)
}

// ComputeDigest returns the lowercase hex SHA-1 of everything read from r
// and the number of bytes read.
func ComputeDigest(r io.Reader) (string, int64, error) {
	h := sha1.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ComputeFileDigest calculates the SHA-1 of a file's exact bytes.
func ComputeFileDigest(fsys ports.FileSystem, filePath string) (string, int64, error) {
	f, err := fsys.Open(filePath)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	return ComputeDigest(f)
}
