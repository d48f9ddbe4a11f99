// Package sitetree normalizes an extracted site so it has a root document.
package sitetree

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mcdonaldj/sitedrop/internal/deployerr"
	"github.com/mcdonaldj/sitedrop/internal/ports"
	"github.com/mcdonaldj/sitedrop/internal/safepath"
)

// RootDocument is the canonical name of the document served at "/".
const RootDocument = "index.html"

// Policy controls how Prepare treats the tree.
type Policy struct {
	// FlattenSingleDir lifts the contents of a lone top-level directory to
	// the root before anything else happens.
	FlattenSingleDir bool
	// RequireRootDocument fails trees with no HTML file at all.
	RequireRootDocument bool
}

// Tree describes a prepared site.
type Tree struct {
	Root string
	// RootDocument is the slash path of the root document, "" if none.
	RootDocument string
	// Source is the file copied to create the root document, if any.
	Source string
	// Created reports whether Prepare wrote RootDocument.
	Created bool
	// Flattened is the name of the directory lifted to the root, if any.
	Flattened string
}

// Prepare applies the root document policy to the tree at root. An existing
// index.html/index.htm at the root wins. Otherwise an index document one
// level down, or failing that the shallowest HTML file, is copied to
// index.html. User files are never removed or overwritten.
func Prepare(fsys ports.FileSystem, root string, policy Policy) (Tree, error) {
	tree := Tree{Root: root}

	if policy.FlattenSingleDir {
		name, err := flattenSingleDir(fsys, root)
		if err != nil {
			return tree, deployerr.Wrap(deployerr.ExtractionFailed, err, "flattening %s", name)
		}
		tree.Flattened = name
	}

	existing, err := findRootDocument(fsys, root)
	if err != nil {
		return tree, deployerr.Wrap(deployerr.ExtractionFailed, err, "reading site root")
	}
	if existing != "" {
		tree.RootDocument = existing
		return tree, nil
	}

	candidate, err := pickCandidate(fsys, root)
	if err != nil {
		return tree, deployerr.Wrap(deployerr.ExtractionFailed, err, "scanning for HTML files")
	}
	if candidate == "" {
		if policy.RequireRootDocument {
			return tree, deployerr.New(deployerr.MissingRootDocument, "archive contains no HTML file")
		}
		return tree, nil
	}

	src := filepath.Join(root, filepath.FromSlash(candidate))
	dst := filepath.Join(root, RootDocument)
	if err := fsys.CopyFile(src, dst); err != nil {
		return tree, deployerr.Wrap(deployerr.ExtractionFailed, err, "copying %s to %s", candidate, RootDocument)
	}
	tree.RootDocument = RootDocument
	tree.Source = candidate
	tree.Created = true
	return tree, nil
}

// IsHTML reports whether name has an .html or .htm extension.
func IsHTML(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".html" || ext == ".htm"
}

func isIndexName(name string) bool {
	return strings.EqualFold(name, "index.html") || strings.EqualFold(name, "index.htm")
}

// findRootDocument returns the name of an index document at the root,
// preferring the exact canonical name.
func findRootDocument(fsys ports.FileSystem, root string) (string, error) {
	entries, err := fsys.ReadDir(root)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, e := range entries {
		if e.IsDir() || !isIndexName(e.Name()) {
			continue
		}
		if e.Name() == RootDocument {
			return RootDocument, nil
		}
		matches = append(matches, e.Name())
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return matches[0], nil
}

// shallowIndexDepth is how deep a nested index document is still preferred
// over other HTML files.
const shallowIndexDepth = 1

// pickCandidate returns the file to copy to the root document: a shallowly
// nested index document if there is one, else the shallowest HTML file.
// Ties are broken by lexicographic slash path.
func pickCandidate(fsys ports.FileSystem, root string) (string, error) {
	var bestIndex, bestAny string
	err := fsys.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || !IsHTML(info.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if isIndexName(path.Base(rel)) && safepath.Depth(rel) <= shallowIndexDepth {
			if bestIndex == "" || better(rel, bestIndex) {
				bestIndex = rel
			}
		}
		if bestAny == "" || better(rel, bestAny) {
			bestAny = rel
		}
		return nil
	})
	if bestIndex != "" {
		return bestIndex, err
	}
	return bestAny, err
}

func better(a, b string) bool {
	da, db := safepath.Depth(a), safepath.Depth(b)
	if da != db {
		return da < db
	}
	return a < b
}

// flattenSingleDir moves the children of a lone top-level directory up one
// level. The directory is first renamed aside so a child sharing its name
// does not collide.
func flattenSingleDir(fsys ports.FileSystem, root string) (string, error) {
	entries, err := fsys.ReadDir(root)
	if err != nil {
		return "", err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return "", nil
	}
	name := entries[0].Name()
	aside := filepath.Join(root, ".sitedrop-flatten")
	if err := fsys.Rename(filepath.Join(root, name), aside); err != nil {
		return name, err
	}

	children, err := fsys.ReadDir(aside)
	if err != nil {
		return name, err
	}
	for _, c := range children {
		if err := fsys.Rename(filepath.Join(aside, c.Name()), filepath.Join(root, c.Name())); err != nil {
			return name, fmt.Errorf("moving %s: %w", c.Name(), err)
		}
	}
	if err := fsys.RemoveAll(aside); err != nil {
		return name, err
	}
	return name, nil
}
