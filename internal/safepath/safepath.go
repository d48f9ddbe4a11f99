// Package safepath normalizes untrusted archive entry names and confines them
// to a destination root.
package safepath

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrEscapesRoot is returned for names that would resolve outside the root.
	ErrEscapesRoot = errors.New("path escapes destination root")
	// ErrNamesRoot is returned for names such as "./" that denote the root
	// itself.
	ErrNamesRoot = errors.New("entry names the root")
)

// Clean normalizes an archive entry name into a relative, slash-separated
// path. Backslashes are treated as separators so Windows-built archives
// cannot smuggle "..\" past the check. The result never starts with "/" and
// never contains a ".." element. Directory entries keep no trailing slash.
func Clean(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty entry name")
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrEscapesRoot, name)
	}
	n := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(n, "/") || hasDriveLetter(n) {
		return "", fmt.Errorf("%w: %q is absolute", ErrEscapesRoot, name)
	}
	for _, part := range strings.Split(n, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrEscapesRoot, name)
		}
	}
	cleaned := path.Clean(n)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrNamesRoot, name)
	}
	return cleaned, nil
}

func hasDriveLetter(n string) bool {
	return len(n) >= 2 && n[1] == ':' &&
		((n[0] >= 'a' && n[0] <= 'z') || (n[0] >= 'A' && n[0] <= 'Z'))
}

// Resolve joins an entry name onto root and verifies the result is a strict
// descendant of root.
func Resolve(root, name string) (string, error) {
	rel, err := Clean(name)
	if err != nil {
		return "", err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	target := filepath.Join(absRoot, filepath.FromSlash(rel))
	if !Within(absRoot, target) || target == absRoot {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, name)
	}
	return target, nil
}

// Within reports whether target is root or inside it. Both paths should be
// absolute.
func Within(root, target string) bool {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	return target == root || strings.HasPrefix(target, root+string(filepath.Separator))
}

// Depth returns the number of directories above a slash-separated relative
// path ("index.html" is 0, "a/b.html" is 1).
func Depth(rel string) int {
	return strings.Count(rel, "/")
}
