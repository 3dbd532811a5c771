package models

import "time"

// EntryType distinguishes folders from files in gateway calls that accept either
type EntryType string

const (
	EntryTypeFolder EntryType = "folder"
	EntryTypeFile   EntryType = "file"
)

// TransferOp selects between move and copy semantics for MoveOrCopy
type TransferOp string

const (
	OpMove TransferOp = "move"
	OpCopy TransferOp = "copy"
)

// Valid reports whether op is a known transfer operation
func (op TransferOp) Valid() bool {
	return op == OpMove || op == OpCopy
}

// Entry is implemented by Folder and File. A directory snapshot is a
// sequence of entries with folders ordered before files.
type Entry interface {
	EntryID() string
	EntryName() string
	EntryPath() string
	EntryType() EntryType
	IsFolder() bool
}

// Folder is a directory in the remote repository
type Folder struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	ChildCount     int       `json:"childCount"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

func (f Folder) EntryID() string      { return f.ID }
func (f Folder) EntryName() string    { return f.Name }
func (f Folder) EntryPath() string    { return f.Path }
func (f Folder) EntryType() EntryType { return EntryTypeFolder }
func (f Folder) IsFolder() bool       { return true }

// File is a document in the remote repository
type File struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	SizeBytes      int64     `json:"sizeBytes"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
	FileType       string    `json:"fileType"`
	DownloadURL    string    `json:"downloadUrl,omitempty"`
}

func (f File) EntryID() string      { return f.ID }
func (f File) EntryName() string    { return f.Name }
func (f File) EntryPath() string    { return f.Path }
func (f File) EntryType() EntryType { return EntryTypeFile }
func (f File) IsFolder() bool       { return false }

// DirectoryPayload is the cached body of a directory listing or a search result
type DirectoryPayload struct {
	Folders []Folder `json:"folders"`
	Files   []File   `json:"files"`
}

// Total returns the combined number of folders and files
func (p *DirectoryPayload) Total() int {
	if p == nil {
		return 0
	}
	return len(p.Folders) + len(p.Files)
}

// Clone returns a deep copy of the payload slices
func (p *DirectoryPayload) Clone() *DirectoryPayload {
	if p == nil {
		return nil
	}
	return &DirectoryPayload{
		Folders: append([]Folder(nil), p.Folders...),
		Files:   append([]File(nil), p.Files...),
	}
}

// Listing warnings reported by the upstream alongside an otherwise empty result
const (
	WarningNotFound     = "not_found"
	WarningAccessDenied = "access_denied"
)

// Listing is the gateway's answer to a directory list request
type Listing struct {
	Configured bool       `json:"configured"`
	NeedsAuth  bool       `json:"needsAuth,omitempty"`
	Folders    []Folder   `json:"folders"`
	Files      []File     `json:"files"`
	FromCache  bool       `json:"fromCache"`
	CachedAt   *time.Time `json:"cachedAt,omitempty"`
	Warning    string     `json:"warning,omitempty"`
	SiteURL    string     `json:"siteUrl,omitempty"`
}

// Payload extracts the cacheable part of the listing
func (l *Listing) Payload() *DirectoryPayload {
	return &DirectoryPayload{Folders: l.Folders, Files: l.Files}
}
