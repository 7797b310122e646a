// Package webroot resolves request paths against an ordered list of
// document roots. Roots are validated once at construction; lookups
// never escape a root, and the first root containing the requested
// path wins.
package webroot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Resolution errors.
var (
	ErrNoRoots    = errors.New("webroot: no usable roots")
	ErrNotFound   = errors.New("webroot: not found")
	ErrUnsafeRoot = errors.New("webroot: refusing to serve system directory")
)

// unsafeRoots are directories that must never be registered as
// document roots. Serving them would expose system or account state to
// anything on the network.
var unsafeRoots = []string{
	"/bin",
	"/boot",
	"/dev",
	"/etc",
	"/lib",
	"/lib64",
	"/proc",
	"/sbin",
	"/sys",
	"/usr",
	"/var",
}

// ResolvedFile is the outcome of a successful lookup.
type ResolvedFile struct {
	// Path is the absolute on-disk path of the matched entry.
	Path string
	// Info is the stat result for Path.
	Info fs.FileInfo
	// Root is the document root the entry was found under.
	Root string
}

// RootSet is an ordered, immutable collection of document roots.
type RootSet struct {
	roots []string
}

// NewRootSet canonicalizes and validates the given directories. Each
// entry must exist and be a directory; duplicates are dropped while
// preserving the order of first appearance. System directories and the
// user's home directory itself are rejected outright.
func NewRootSet(paths []string) (*RootSet, error) {
	seen := make(map[string]struct{})
	var roots []string

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("webroot: resolving %q: %w", p, err)
		}
		abs = filepath.Clean(abs)

		if err := checkSafeRoot(abs); err != nil {
			return nil, fmt.Errorf("%w: %s", err, abs)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("webroot: root %q: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("webroot: root %q is not a directory", abs)
		}

		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		roots = append(roots, abs)
	}

	if len(roots) == 0 {
		return nil, ErrNoRoots
	}
	return &RootSet{roots: roots}, nil
}

// Roots returns the validated roots in search order.
func (rs *RootSet) Roots() []string {
	out := make([]string, len(rs.roots))
	copy(out, rs.roots)
	return out
}

// Resolve maps a URL-decoded, query-stripped request path to a file on
// disk. Roots are consulted in order and the first existing, in-bounds
// candidate wins. Paths that normalize outside every root resolve to
// ErrNotFound no matter what exists on disk.
func (rs *RootSet) Resolve(requestPath string) (*ResolvedFile, error) {
	rel := strings.TrimPrefix(requestPath, "/")

	for _, root := range rs.roots {
		candidate := filepath.Join(root, filepath.FromSlash(rel))

		if !contains(root, candidate) {
			continue
		}

		info, err := os.Stat(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("webroot: stat %q: %w", candidate, err)
		}

		return &ResolvedFile{Path: candidate, Info: info, Root: root}, nil
	}

	return nil, ErrNotFound
}

// contains reports whether candidate is root itself or a descendant of
// it. candidate must already be absolute and cleaned.
func contains(root, candidate string) bool {
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}

func checkSafeRoot(abs string) error {
	if abs == string(filepath.Separator) {
		return ErrUnsafeRoot
	}
	for _, dir := range unsafeRoots {
		if abs == dir {
			return ErrUnsafeRoot
		}
	}
	if home, err := os.UserHomeDir(); err == nil && abs == filepath.Clean(home) {
		return ErrUnsafeRoot
	}
	return nil
}
