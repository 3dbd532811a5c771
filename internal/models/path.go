package models

import (
	"path"
	"strings"
)

// RootPath is the top of the remote repository
const RootPath = "/"

// NormalizePath converts p to the canonical form used as a cache key:
// forward slashes, rooted, cleaned, no trailing slash except for the root.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return RootPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// ParentPath returns the parent of p. The parent of the root is the root.
func ParentPath(p string) string {
	p = NormalizePath(p)
	if p == RootPath {
		return RootPath
	}
	return path.Dir(p)
}

// JoinPath appends name to a directory path
func JoinPath(dir, name string) string {
	return NormalizePath(path.Join(NormalizePath(dir), name))
}

// BaseName returns the last element of p, or "" for the root
func BaseName(p string) string {
	p = NormalizePath(p)
	if p == RootPath {
		return ""
	}
	return path.Base(p)
}

// IsWithin reports whether p equals dir or is a descendant of it
func IsWithin(p, dir string) bool {
	p, dir = NormalizePath(p), NormalizePath(dir)
	if dir == RootPath || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// SplitPath returns the components of p in order, without the root
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == RootPath {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// NormalizeQuery converts a search query to its cache key form
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}
