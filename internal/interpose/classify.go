package interpose

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Classifier decides which paths are opened through the executor.
type Classifier interface {
	// Match returns true if path should be opened remotely.
	Match(path string) bool
}

// PrefixRule matches paths which begin with the given string. Paths are
// compared as given, without cleaning. An empty PrefixRule matches nothing.
type PrefixRule string

func (r PrefixRule) Match(path string) bool {
	return r != "" && strings.HasPrefix(path, string(r))
}

// GlobRule matches paths against a set of doublestar patterns, such as
// "/data/**/*.db". Create one with NewGlobRule.
type GlobRule struct {
	patterns []string
}

// NewGlobRule validates patterns and returns a GlobRule.
func NewGlobRule(patterns ...string) (*GlobRule, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	return &GlobRule{patterns: patterns}, nil
}

func (r *GlobRule) Match(path string) bool {
	for _, p := range r.patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// AnyRule matches a path if any of its Classifiers do.
type AnyRule []Classifier

func (r AnyRule) Match(path string) bool {
	for _, c := range r {
		if c != nil && c.Match(path) {
			return true
		}
	}
	return false
}
