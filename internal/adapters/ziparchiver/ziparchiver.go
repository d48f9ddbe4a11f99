// Package ziparchiver provides an archiver adapter using the archive/zip package.
package ziparchiver

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/mcdonaldj/sitedrop/internal/deployerr"
	"github.com/mcdonaldj/sitedrop/internal/ports"
	"github.com/mcdonaldj/sitedrop/internal/safepath"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// ZipArchiver implements ports.Archiver using archive/zip.
type ZipArchiver struct{}

// New creates a new ZipArchiver adapter.
func New() *ZipArchiver {
	return &ZipArchiver{}
}

// zipArchive is the validated handle returned by Validate.
type zipArchive struct {
	entries []ports.ArchiveEntry
	files   map[string]*zip.File
	count   int
}

func (a *zipArchive) Entries() []ports.ArchiveEntry { return a.entries }

func (a *zipArchive) Files() int { return a.count }

func (a *zipArchive) Open(p string) (io.ReadCloser, error) {
	f, ok := a.files[p]
	if !ok {
		return nil, fmt.Errorf("file not found in archive: %s", p)
	}
	return f.Open()
}

// Validate checks archive well-formedness, size and entry limits, and path
// safety without extracting anything.
func (a *ZipArchiver) Validate(data []byte, limits ports.Limits) (ports.Archive, error) {
	if len(data) == 0 {
		return nil, deployerr.New(deployerr.MissingArchive, "no archive provided")
	}
	if limits.MaxArchiveBytes > 0 && int64(len(data)) > limits.MaxArchiveBytes {
		return nil, deployerr.New(deployerr.ArchiveTooLarge,
			"archive is %d bytes, limit is %d", len(data), limits.MaxArchiveBytes)
	}

	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		// Insecure names still yield a usable reader; the per-entry check
		// below reports them with the offending name.
		if !errors.Is(err, zip.ErrInsecurePath) || r == nil {
			return nil, deployerr.Wrap(deployerr.InvalidArchive, err, "not a valid zip archive")
		}
	}

	if limits.MaxEntries > 0 && len(r.File) > limits.MaxEntries {
		return nil, deployerr.New(deployerr.TooManyEntries,
			"archive has %d entries, limit is %d", len(r.File), limits.MaxEntries)
	}

	za := &zipArchive{
		entries: make([]ports.ArchiveEntry, 0, len(r.File)),
		files:   make(map[string]*zip.File, len(r.File)),
	}
	seen := make(map[string]bool, len(r.File))
	dirs := make(map[string]bool)
	var total uint64

	for _, f := range r.File {
		mode := f.Mode()

		// SECURITY: Block symlinks to prevent symlink attacks
		if mode&os.ModeSymlink != 0 {
			return nil, deployerr.New(deployerr.SymlinkRejected, "symlink entry not allowed: %s", f.Name)
		}

		isDir := f.FileInfo().IsDir()
		name, err := safepath.Clean(f.Name)
		if err != nil {
			switch {
			case errors.Is(err, safepath.ErrEscapesRoot):
				return nil, deployerr.Wrap(deployerr.PathTraversalRejected, err, "unsafe entry path")
			case isDir && errors.Is(err, safepath.ErrNamesRoot):
				// "./" adds nothing; the root always exists.
				continue
			}
			return nil, deployerr.Wrap(deployerr.InvalidArchive, err, "bad entry name")
		}

		if !isDir && !mode.IsRegular() {
			return nil, deployerr.New(deployerr.InvalidArchive, "unsupported entry type %s: %s", mode.Type(), f.Name)
		}

		if isDir {
			dirs[name] = true
		} else {
			if seen[name] {
				return nil, deployerr.New(deployerr.InvalidArchive, "duplicate entry: %s", name)
			}
			seen[name] = true
			za.files[name] = f
			za.count++

			total += f.UncompressedSize64
			if limits.MaxUncompressedBytes > 0 && total > uint64(limits.MaxUncompressedBytes) {
				return nil, deployerr.New(deployerr.ArchiveTooLarge,
					"archive expands beyond %d bytes", limits.MaxUncompressedBytes)
			}
		}

		za.entries = append(za.entries, ports.ArchiveEntry{
			Path:  name,
			Size:  f.UncompressedSize64,
			Mode:  mode,
			IsDir: isDir,
		})
	}

	if za.count == 0 {
		return nil, deployerr.New(deployerr.EmptyArchive, "archive contains no files")
	}

	// A file cannot also be the parent directory of another entry.
	for name := range seen {
		if dirs[name] {
			return nil, deployerr.New(deployerr.InvalidArchive, "entry is both file and directory: %s", name)
		}
		for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
			if seen[dir] {
				return nil, deployerr.New(deployerr.InvalidArchive, "entry %s is nested under file %s", name, dir)
			}
		}
	}

	return za, nil
}

// Extract materializes a validated archive under destDir. Every target path
// is re-checked against destDir before anything is written.
func (a *ZipArchiver) Extract(archive ports.Archive, destDir string) error {
	za, ok := archive.(*zipArchive)
	if !ok {
		return deployerr.New(deployerr.ExtractionFailed, "archive was not validated by this archiver")
	}

	// Get cleaned absolute path for destination
	absDestDir, err := filepath.Abs(destDir)
	if err != nil {
		return deployerr.Wrap(deployerr.ExtractionFailed, err, "resolving destination path")
	}

	for _, e := range za.entries {
		// SECURITY: Check for ZipSlip vulnerability
		fpath, err := safepath.Resolve(absDestDir, e.Path)
		if err != nil {
			return deployerr.Wrap(deployerr.PathTraversalRejected, err, "invalid file path")
		}

		if e.IsDir {
			if err := os.MkdirAll(fpath, dirPerm); err != nil {
				return deployerr.Wrap(deployerr.ExtractionFailed, err, "creating directory %s", e.Path)
			}
			continue
		}

		// Create parent directories
		if err := os.MkdirAll(filepath.Dir(fpath), dirPerm); err != nil {
			return deployerr.Wrap(deployerr.ExtractionFailed, err, "creating parent directory for %s", e.Path)
		}

		if err := extractFile(za.files[e.Path], fpath); err != nil {
			return deployerr.Wrap(deployerr.ExtractionFailed, err, "extracting %s", e.Path)
		}
	}

	return nil
}

// extractFile extracts a single file from the zip.
func extractFile(f *zip.File, destPath string) error {
	declaredSize := f.UncompressedSize64

	outFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return err
	}
	defer func() { _ = outFile.Close() }()

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	// Use LimitReader to enforce size limit during decompression
	// Add 1 byte to detect if actual size exceeds declared size
	limitedReader := io.LimitReader(rc, int64(declaredSize)+1)
	written, err := io.Copy(outFile, limitedReader)
	if err != nil {
		return err
	}

	// Check if more data was available than declared (corrupted/malicious zip)
	if written > int64(declaredSize) {
		return fmt.Errorf("decompressed size exceeds declared size")
	}

	return outFile.Close()
}

// Compile-time check that ZipArchiver implements ports.Archiver.
var _ ports.Archiver = (*ZipArchiver)(nil)
