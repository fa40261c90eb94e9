package cdn

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter excludes paths matching any of its glob patterns
type GlobFilter struct {
	globs []glob.Glob
}

// NewGlobFilter creates a new glob-based filter.
// Empty patterns exclude nothing. '/' is a separator, so '*' stays within one
// path segment while '**' crosses segments.
func NewGlobFilter(patterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		globs: make([]glob.Glob, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid flush exclude pattern %q: %w", pattern, err)
		}
		filter.globs = append(filter.globs, g)
	}

	return filter, nil
}

// Excluded returns true if the path matches a configured pattern
func (f *GlobFilter) Excluded(path string) bool {
	for _, g := range f.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}
