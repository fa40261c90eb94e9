package planner

import (
	"regexp"
	"slices"
	"strings"

	"github.com/edgepub/edgepub/webpath"
)

// ListingSuffix names the listing resource under a listed directory
const ListingSuffix = "listing"

// Input is everything Plan needs to decide which paths to invalidate
type Input struct {
	Prev *Config
	Next *Config
	// Published holds every web_uri currently published in the environment
	Published []string
	// ListingFlush enables invalidation of changed directory listings
	ListingFlush bool
}

// ChangedAliases returns the aliases whose src was added or removed, or whose
// dest differs between prev and next. Removed aliases are reported as they
// appeared in prev.
func ChangedAliases(prev, next *Config) []Alias {
	var changed []Alias

	for _, kind := range AliasKinds {
		before := indexAliases(prev.Aliases(kind))
		after := indexAliases(next.Aliases(kind))

		for _, a := range next.Aliases(kind) {
			src := webpath.Normalize(a.Src)
			old, ok := before[src]
			if !ok || webpath.Normalize(old.Dest) != webpath.Normalize(a.Dest) {
				changed = append(changed, a)
			}
		}
		for _, a := range prev.Aliases(kind) {
			if _, ok := after[webpath.Normalize(a.Src)]; !ok {
				changed = append(changed, a)
			}
		}
	}

	return changed
}

func indexAliases(aliases []Alias) map[string]Alias {
	out := make(map[string]Alias, len(aliases))
	for _, a := range aliases {
		out[webpath.Normalize(a.Src)] = a
	}
	return out
}

// Plan computes the deduplicated, sorted list of paths to invalidate when Next
// replaces Prev.
func Plan(in Input) []string {
	set := make(map[string]struct{})

	for _, alias := range ChangedAliases(in.Prev, in.Next) {
		for _, path := range in.Published {
			if !webpath.Under(path, alias.Src) || Excluded(path, alias.ExcludePaths) {
				continue
			}
			set[webpath.Normalize(path)] = struct{}{}
		}
	}

	if in.ListingFlush {
		for _, key := range ChangedListings(in.Prev, in.Next) {
			set[webpath.Normalize(key+"/"+ListingSuffix)] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for path := range set {
		out = append(out, path)
	}
	slices.Sort(out)
	return out
}

// ChangedListings returns the listing keys of next that are new or differ
// from prev.
func ChangedListings(prev, next *Config) []string {
	if next == nil {
		return nil
	}

	var before map[string]ListingEntry
	if prev != nil {
		before = make(map[string]ListingEntry, len(prev.Listing))
		for key, entry := range prev.Listing {
			before[webpath.Normalize(key)] = entry
		}
	}

	var keys []string
	for key, entry := range next.Listing {
		old, ok := before[webpath.Normalize(key)]
		if !ok || old.Var != entry.Var || !slices.Equal(old.Values, entry.Values) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// Excluded reports whether path matches any of the alias exclusion patterns.
// Patterns are regular expressions searched anywhere in the path; a pattern
// which does not compile is matched as a plain substring.
func Excluded(path string, patterns []string) bool {
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			if strings.Contains(path, pattern) {
				return true
			}
			continue
		}
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
