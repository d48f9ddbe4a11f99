package ports

import (
	"io"
	"io/fs"
)

// Limits bounds what an uploaded archive may contain.
type Limits struct {
	MaxArchiveBytes      int64
	MaxEntries           int
	MaxUncompressedBytes int64
}

// ArchiveEntry describes one validated entry.
type ArchiveEntry struct {
	// Path is the normalized, slash-separated relative path.
	Path  string
	Size  uint64
	Mode  fs.FileMode
	IsDir bool
}

// Archive is a validated, openable archive handle.
type Archive interface {
	// Entries returns the validated entries in archive order.
	Entries() []ArchiveEntry

	// Files returns the number of regular-file entries.
	Files() int

	// Open opens the content of the entry at the given normalized path.
	Open(path string) (io.ReadCloser, error)
}

// Archiver abstracts archive validation and extraction for testability.
// Production code uses the ZipArchiver adapter; tests use MockArchiver.
type Archiver interface {
	// Validate checks that data is a well-formed archive within limits.
	// It does not touch the filesystem.
	Validate(data []byte, limits Limits) (Archive, error)

	// Extract materializes every entry of a validated archive under destDir.
	Extract(a Archive, destDir string) error
}
