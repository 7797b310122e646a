package webroot

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Entry is one row of a directory listing.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// ReadListing returns directory contents ordered for display:
// directories before files, each group sorted alphabetically with
// numeric-aware comparison. The caller prepends the parent link.
func ReadListing(dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("webroot: listing %q: %w", dir, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			// Entry vanished between ReadDir and stat; skip it.
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   de.IsDir(),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return naturalLess(entries[i].Name, entries[j].Name)
	})
	return entries, nil
}

// naturalLess compares strings case-insensitively, treating runs of
// digits as numbers so "file2" sorts before "file10".
func naturalLess(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	for len(a) > 0 && len(b) > 0 {
		if isDigit(a[0]) && isDigit(b[0]) {
			na, ra := splitLeadingDigits(a)
			nb, rb := splitLeadingDigits(b)
			if na != nb {
				return lessNumeric(na, nb)
			}
			a, b = ra, rb
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool {
	return unicode.IsDigit(rune(c))
}

func splitLeadingDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

// lessNumeric compares two digit strings by value without overflowing:
// strip leading zeros, then shorter is smaller, then lexicographic.
func lessNumeric(a, b string) bool {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
