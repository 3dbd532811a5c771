// Package gateway defines the remote directory service contract consumed by the
// browsing core, and the error taxonomy every backend maps its failures onto.
package gateway

import (
	"context"
	"io"

	"github.com/portalworks/docbrowse/internal/models"
)

// ProgressFunc receives upload progress as a whole percentage in [0,100]
type ProgressFunc func(percent int)

// Gateway is the asynchronous RPC-style surface of the remote document store.
// Every call requires an upstream session; a missing or expired session is
// reported as KindNeedsAuth.
type Gateway interface {
	// List returns the folders and files directly under path. force asks the
	// upstream to bypass any server-side cache it keeps.
	List(ctx context.Context, path string, force bool) (*models.Listing, error)

	// Search returns entries matching query anywhere in the repository.
	Search(ctx context.Context, query string) (*models.DirectoryPayload, error)

	// Upload stores size bytes from r as name under path.
	Upload(ctx context.Context, path, name string, size int64, r io.Reader, onProgress ProgressFunc) error

	Delete(ctx context.Context, id string, t models.EntryType, parentPath string) error
	Rename(ctx context.Context, id, newName string, t models.EntryType, parentPath string) error
	MoveOrCopy(ctx context.Context, id, destPath string, op models.TransferOp) error
	CreateFolder(ctx context.Context, parentPath, name string) error

	// BrowseSubfolders lists only the folders under path, for destination pickers.
	BrowseSubfolders(ctx context.Context, path string) ([]models.Folder, error)
}
