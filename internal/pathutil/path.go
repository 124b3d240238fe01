// Package pathutil provides path manipulation for slash-separated archive paths.
package pathutil

import "strings"

// Base returns the last element of a slash-separated path.
// If path is empty or ".", it returns ".".
func Base(path string) string {
	if path == "" || path == "." {
		return "."
	}
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Normalize converts a user-provided path to archive form.
//
// Leading and trailing slashes are stripped and repeated slashes collapse:
// "/etc//nginx/" becomes "etc/nginx". The empty path and "/" become ".".
// "." and ".." elements are preserved; lookups reject them.
func Normalize(p string) string {
	parts := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}
