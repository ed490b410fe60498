package wad

import (
	"fmt"
	"strings"
)

// Stack layers a base archive with any number of patch archives. Lookups
// scan archives in reverse load order, so a lump in a later patch shadows
// the same name in the base game: last-loaded-wins.
type Stack struct {
	archives []*Archive
}

// NewStack creates a stack over an initial archive.
func NewStack(base *Archive) *Stack {
	return &Stack{archives: []*Archive{base}}
}

// Add layers another archive on top of the stack.
func (s *Stack) Add(a *Archive) {
	s.archives = append(s.archives, a)
}

// Find resolves a lump name across the stack, preferring the most
// recently added archive.
func (s *Stack) Find(name string) (*Archive, Lump, error) {
	for i := len(s.archives) - 1; i >= 0; i-- {
		if l, err := s.archives[i].Find(name); err == nil {
			return s.archives[i], l, nil
		}
	}
	return nil, Lump{}, fmt.Errorf("%w: %q", ErrNotFound, NormalizeName(name))
}

// ReadName resolves and reads a lump across the stack.
func (s *Stack) ReadName(name string) ([]byte, error) {
	a, l, err := s.Find(name)
	if err != nil {
		return nil, err
	}
	return a.Read(l), nil
}

// NamesWithPrefixes lists matching lump names across the stack in load
// order, deduplicated with the shadowing rule applied.
func (s *Stack) NamesWithPrefixes(prefixes []string) []string {
	seen := make(map[string]bool)
	var names []string
	for i := len(s.archives) - 1; i >= 0; i-- {
		for _, n := range s.archives[i].NamesWithPrefixes(prefixes) {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

// SuggestSongs returns the names containing the query as a substring,
// for "did you mean" output when resolution fails.
func SuggestSongs(names []string, query string) []string {
	q := NormalizeName(query)
	if q == "" {
		return nil
	}
	var out []string
	for _, n := range names {
		if strings.Contains(n, q) {
			out = append(out, n)
		}
	}
	return out
}

// ResolveSong maps a user-supplied song token to a lump name from names.
// It accepts both bare tokens (RUNNIN, E1M1) and full lump names
// (D_RUNNIN, MUS_E1M1): exact match first, then each recognized prefix.
func ResolveSong(names []string, query string, prefixes []string) (string, bool) {
	q := NormalizeName(query)
	if q == "" {
		return "", false
	}
	for _, n := range names {
		if n == q {
			return n, true
		}
	}
	for _, p := range upperAll(prefixes) {
		cand := p + q
		for _, n := range names {
			if n == cand {
				return n, true
			}
		}
	}
	return "", false
}
