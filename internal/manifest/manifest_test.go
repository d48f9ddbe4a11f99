package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/mcdonaldj/sitedrop/internal/adapters/osfs"
	"github.com/mcdonaldj/sitedrop/internal/deployerr"
	"github.com/mcdonaldj/sitedrop/internal/mocks"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("Failed to create dir for %s: %v", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}
}

func TestComputeDigestKnownValues(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "da39a3ee5e6b4b0d3255bfef95601890afd80709"},
		{"abc", "a9993e364706816aba3e25717850c26c9cd0d89d"},
	}

	for _, tc := range tests {
		got, n, err := ComputeDigest(strings.NewReader(tc.input))
		if err != nil {
			t.Fatalf("ComputeDigest(%q) failed: %v", tc.input, err)
		}
		if got != tc.expected {
			t.Errorf("ComputeDigest(%q) = %s, expected %s", tc.input, got, tc.expected)
		}
		if n != int64(len(tc.input)) {
			t.Errorf("ComputeDigest(%q) read %d bytes", tc.input, n)
		}
	}
}

func TestBuildKeysMatchRegularFiles(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"index.html":           "<html></html>",
		"style.css":            "body{}",
		"script.js":            "console.log(1)",
		"assets/img/logo.svg":  "<svg/>",
		"assets/fonts/a.woff2": "\x00\x01\x02",
	}
	writeTree(t, root, files)
	if err := os.MkdirAll(filepath.Join(root, "empty-dir"), 0755); err != nil {
		t.Fatal(err)
	}

	m, err := Build(context.Background(), osfs.New(), root, 4)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var got, expected []string
	for _, e := range m.Entries {
		got = append(got, e.Path)
	}
	for p := range files {
		expected = append(expected, p)
	}
	sort.Strings(expected)

	if strings.Join(got, ",") != strings.Join(expected, ",") {
		t.Errorf("manifest paths = %v, expected %v", got, expected)
	}

	e, ok := m.Lookup("style.css")
	if !ok {
		t.Fatal("style.css missing from manifest")
	}
	want, _, _ := ComputeDigest(strings.NewReader("body{}"))
	if e.Digest != want {
		t.Errorf("style.css digest = %s, expected %s", e.Digest, want)
	}
	if e.Size != 6 {
		t.Errorf("style.css size = %d, expected 6", e.Size)
	}
}

func TestBuildIsByteStable(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeTree(t, a, map[string]string{"index.html": "same bytes\r\n"})
	writeTree(t, b, map[string]string{"index.html": "same bytes\r\n"})

	// Different metadata must not change digests.
	if err := os.Chmod(filepath.Join(b, "index.html"), 0600); err != nil {
		t.Fatal(err)
	}

	ma, err := Build(context.Background(), osfs.New(), a, 1)
	if err != nil {
		t.Fatal(err)
	}
	mb, err := Build(context.Background(), osfs.New(), b, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ma.Entries[0].Digest != mb.Entries[0].Digest {
		t.Error("identical bytes produced different digests")
	}

	// Line endings are never normalized.
	c := t.TempDir()
	writeTree(t, c, map[string]string{"index.html": "same bytes\n"})
	mc, _ := Build(context.Background(), osfs.New(), c, 1)
	if mc.Entries[0].Digest == ma.Entries[0].Digest {
		t.Error("CRLF and LF content should digest differently")
	}
}

func TestBuildRejectsSymlinks(t *testing.T) {
	fsys := mocks.NewMockFileSystem()
	fsys.AddFile("/site/index.html", "ok")
	fsys.AddFile("/site/passwd", "")
	fsys.Modes["/site/passwd"] = os.ModeSymlink

	_, err := Build(context.Background(), fsys, "/site", 2)
	if !deployerr.Is(err, deployerr.SymlinkRejected) {
		t.Fatalf("expected SymlinkRejected, got %v", err)
	}
}

func TestBuildUnreadableFileIsFatal(t *testing.T) {
	fsys := mocks.NewMockFileSystem()
	fsys.AddFile("/site/index.html", "ok")
	fsys.AddFile("/site/secret.html", "nope")
	fsys.Errors["/site/secret.html"] = os.ErrPermission

	m, err := Build(context.Background(), fsys, "/site", 2)
	if m != nil {
		t.Error("expected no partial manifest")
	}
	if !deployerr.Is(err, deployerr.UnreadableFile) {
		t.Fatalf("expected UnreadableFile, got %v", err)
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
}

func TestBuildWalkErrorIsFatal(t *testing.T) {
	fsys := mocks.NewMockFileSystem()
	fsys.WalkEntries = []mocks.WalkEntry{
		{Path: "/site", Info: &mocks.MockFileInfo{FileName: "site", Dir: true}},
		{Path: "/site/gone.html", Err: os.ErrNotExist},
	}

	_, err := Build(context.Background(), fsys, "/site", 1)
	if !deployerr.Is(err, deployerr.UnreadableFile) {
		t.Fatalf("expected UnreadableFile, got %v", err)
	}
}

func TestBuildCanceled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.html": "a", "b.html": "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Build(ctx, osfs.New(), root, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPathsForAndFiles(t *testing.T) {
	m, err := New([]Entry{
		{Path: "index.html", Digest: "aaa", Size: 1},
		{Path: "home.html", Digest: "aaa", Size: 1},
		{Path: "style.css", Digest: "bbb", Size: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	paths := m.PathsFor("aaa")
	if len(paths) != 2 || paths[0] != "home.html" || paths[1] != "index.html" {
		t.Errorf("PathsFor = %v", paths)
	}
	if m.TotalBytes() != 4 {
		t.Errorf("TotalBytes = %d", m.TotalBytes())
	}
	if len(m.Files()) != 3 {
		t.Errorf("Files() has %d entries", len(m.Files()))
	}

	if _, err := New([]Entry{{Path: "a"}, {Path: "a"}}); err == nil {
		t.Error("expected duplicate path error")
	}
}

func TestWriteJSON(t *testing.T) {
	m, _ := New([]Entry{{Path: "index.html", Digest: "abc", Size: 3}})

	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var decoded struct {
		Files []Entry `json:"files"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded.Files) != 1 || decoded.Files[0].Digest != "abc" {
		t.Errorf("decoded = %+v", decoded)
	}
}
