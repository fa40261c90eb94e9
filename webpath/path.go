// Package webpath canonicalizes the URI-like paths used as item and alias keys.
package webpath

import "strings"

// Normalize returns path with exactly one leading slash, no empty segments and
// no trailing slash (except for the root). An empty path stays empty.
func Normalize(path string) string {
	if path == "" {
		return ""
	}

	segments := strings.Split(path, "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg != "" {
			kept = append(kept, seg)
		}
	}

	return "/" + strings.Join(kept, "/")
}

// Under reports whether path equals prefix or lies beneath it, comparing
// whole path components: "/foo/1" covers "/foo/1/x" but not "/foo/10/x".
func Under(path, prefix string) bool {
	path = Normalize(path)
	prefix = Normalize(prefix)
	if path == "" || prefix == "" {
		return false
	}
	if prefix == "/" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// Rebase swaps prefix for replacement on a path that is Under prefix.
func Rebase(path, prefix, replacement string) (string, bool) {
	if !Under(path, prefix) {
		return "", false
	}
	path = Normalize(path)
	prefix = Normalize(prefix)
	rest := strings.TrimPrefix(path, prefix)
	if prefix == "/" {
		rest = path
	}
	return Normalize(replacement + "/" + rest), true
}

// Base returns the final segment of path.
func Base(path string) string {
	path = Normalize(path)
	return path[strings.LastIndex(path, "/")+1:]
}
