package archive

import "sort"

// FileSet is the set of paths written by an install step.
type FileSet map[string]struct{}

// NewFileSet returns a set holding paths.
func NewFileSet(paths ...string) FileSet {
	s := make(FileSet, len(paths))
	for _, p := range paths {
		s.Add(p)
	}
	return s
}

// Add inserts p.
func (s FileSet) Add(p string) {
	s[p] = struct{}{}
}

// Contains reports whether p is in the set.
func (s FileSet) Contains(p string) bool {
	_, ok := s[p]
	return ok
}

// Len returns the number of paths.
func (s FileSet) Len() int {
	return len(s)
}

// Paths returns the members in lexical order.
func (s FileSet) Paths() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
