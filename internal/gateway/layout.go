package gateway

import (
	"path"
	"strings"
	"time"

	"github.com/portalworks/docbrowse/internal/models"
)

// Layout maps repository paths onto the keys of a flat object store where
// folders are "/"-delimited key prefixes under an optional root prefix
type Layout struct {
	Prefix string
}

// NewLayout normalizes prefix to either "" or "some/prefix/"
func NewLayout(prefix string) Layout {
	prefix = strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/")
	if prefix != "" {
		prefix += "/"
	}
	return Layout{Prefix: prefix}
}

// DirPrefix is the key prefix listing the contents of folder p
func (l Layout) DirPrefix(p string) string {
	p = models.NormalizePath(p)
	if p == models.RootPath {
		return l.Prefix
	}
	return l.Prefix + strings.TrimPrefix(p, "/") + "/"
}

// ObjectKey is the key of file p
func (l Layout) ObjectKey(p string) string {
	return l.Prefix + strings.TrimPrefix(models.NormalizePath(p), "/")
}

// PathOf converts a key or key prefix back to a repository path
func (l Layout) PathOf(key string) string {
	return models.NormalizePath(strings.TrimPrefix(key, l.Prefix))
}

// ObjectInfo is the backend-neutral view of one stored object
type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
}

// BuildListing assembles a listing of folder dir from the common prefixes and
// objects returned by a delimited list. Folder markers are skipped. An empty
// non-root folder without a marker is reported as not found.
func (l Layout) BuildListing(dir string, prefixes []string, objects []ObjectInfo) *models.Listing {
	dir = models.NormalizePath(dir)
	self := l.DirPrefix(dir)

	listing := &models.Listing{
		Configured: true,
		Folders:    make([]models.Folder, 0, len(prefixes)),
		Files:      make([]models.File, 0, len(objects)),
	}

	marker := false
	for _, p := range prefixes {
		fp := l.PathOf(p)
		listing.Folders = append(listing.Folders, models.Folder{ID: fp, Name: models.BaseName(fp), Path: fp})
	}
	for _, o := range objects {
		if o.Key == self {
			marker = true
			continue
		}
		listing.Files = append(listing.Files, l.FileOf(o))
	}

	if dir != models.RootPath && !marker && len(listing.Folders) == 0 && len(listing.Files) == 0 {
		listing.Warning = models.WarningNotFound
	}
	return listing
}

// FileOf converts a stored object to a file entry
func (l Layout) FileOf(o ObjectInfo) models.File {
	fp := l.PathOf(o.Key)
	name := models.BaseName(fp)
	return models.File{
		ID:             fp,
		Name:           name,
		Path:           fp,
		SizeBytes:      o.Size,
		LastModifiedAt: o.Modified,
		FileType:       strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."),
	}
}

// SearchObjects matches query against every folder and file name found in a
// flat listing of keys, stopping at limit matches
func (l Layout) SearchObjects(query string, objects []ObjectInfo, limit int) *models.DirectoryPayload {
	q := models.NormalizeQuery(query)
	out := &models.DirectoryPayload{Folders: []models.Folder{}, Files: []models.File{}}
	if q == "" {
		return out
	}

	seen := make(map[string]bool)
	for _, o := range objects {
		if out.Total() >= limit {
			break
		}
		fp := l.PathOf(o.Key)

		// every ancestor folder of the key is a candidate match
		for dir := models.ParentPath(fp); dir != models.RootPath; dir = models.ParentPath(dir) {
			if seen[dir] {
				continue
			}
			seen[dir] = true
			if strings.Contains(strings.ToLower(models.BaseName(dir)), q) {
				out.Folders = append(out.Folders, models.Folder{ID: dir, Name: models.BaseName(dir), Path: dir})
			}
		}

		if strings.HasSuffix(o.Key, "/") {
			if !seen[fp] && fp != models.RootPath {
				seen[fp] = true
				if strings.Contains(strings.ToLower(models.BaseName(fp)), q) {
					out.Folders = append(out.Folders, models.Folder{ID: fp, Name: models.BaseName(fp), Path: fp})
				}
			}
			continue
		}
		if strings.Contains(strings.ToLower(models.BaseName(fp)), q) {
			out.Files = append(out.Files, l.FileOf(o))
		}
	}
	return out
}

// Relocate rewrites a key of item src, or of anything below it, so it lives
// under the item's new path dst. Folder marker keys keep their trailing slash.
func (l Layout) Relocate(key, src, dst string) string {
	rel := strings.TrimPrefix(l.PathOf(key), models.NormalizePath(src))
	out := l.ObjectKey(models.JoinPath(dst, rel))
	if strings.HasSuffix(key, "/") {
		out += "/"
	}
	return out
}
