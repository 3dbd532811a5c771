// Package gatewaytest provides an in-memory Gateway with scripted failures and
// blocking hooks for controller and pipeline tests.
package gatewaytest

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/models"
)

// Operation names used for FailOn, Block and Calls
const (
	OpList         = "list"
	OpSearch       = "search"
	OpUpload       = "upload"
	OpDelete       = "delete"
	OpRename       = "rename"
	OpMoveOrCopy   = "move_or_copy"
	OpCreateFolder = "create_folder"
	OpSubfolders   = "browse_subfolders"
)

// Call records one gateway invocation. Path is the addressed item: the listed
// folder, the search query, the uploaded file path or the item ID.
type Call struct {
	Op    string
	Path  string
	Arg   string
	Force bool
}

// Fake is an in-memory remote tree. Item IDs are their paths.
type Fake struct {
	mu          sync.Mutex
	dirs        map[string]*models.DirectoryPayload
	listings    map[string]*models.Listing
	searches    map[string]*models.DirectoryPayload
	errs        map[string]error
	gates       map[string]chan struct{}
	calls       []Call
	started     chan Call
	uploadSteps []int
	modified    time.Time
}

// New returns a fake holding an empty root folder
func New() *Fake {
	return &Fake{
		dirs:        map[string]*models.DirectoryPayload{models.RootPath: {}},
		listings:    make(map[string]*models.Listing),
		searches:    make(map[string]*models.DirectoryPayload),
		errs:        make(map[string]error),
		gates:       make(map[string]chan struct{}),
		started:     make(chan Call, 1024),
		uploadSteps: []int{25, 50, 75, 100},
		modified:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func key(op, p string) string { return op + "\x00" + p }

// AddFolder creates name under parent, creating parent folders as needed
func (f *Fake) AddFolder(parent, name string) models.Folder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addFolderLocked(models.NormalizePath(parent), name)
}

func (f *Fake) addFolderLocked(parent, name string) models.Folder {
	f.ensureDirLocked(parent)
	p := models.JoinPath(parent, name)
	folder := models.Folder{ID: p, Name: name, Path: p, LastModifiedAt: f.modified}
	dir := f.dirs[parent]
	for i := range dir.Folders {
		if dir.Folders[i].Path == p {
			return dir.Folders[i]
		}
	}
	dir.Folders = append(dir.Folders, folder)
	if _, ok := f.dirs[p]; !ok {
		f.dirs[p] = &models.DirectoryPayload{}
	}
	return folder
}

func (f *Fake) ensureDirLocked(p string) {
	if _, ok := f.dirs[p]; ok {
		return
	}
	if p != models.RootPath {
		f.addFolderLocked(models.ParentPath(p), models.BaseName(p))
	}
	if _, ok := f.dirs[p]; !ok {
		f.dirs[p] = &models.DirectoryPayload{}
	}
}

// AddFile creates or replaces a file under parent
func (f *Fake) AddFile(parent, name string, size int64) models.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addFileLocked(models.NormalizePath(parent), name, size)
}

func (f *Fake) addFileLocked(parent, name string, size int64) models.File {
	f.ensureDirLocked(parent)
	p := models.JoinPath(parent, name)
	file := models.File{
		ID:             p,
		Name:           name,
		Path:           p,
		SizeBytes:      size,
		LastModifiedAt: f.modified,
		FileType:       strings.TrimPrefix(path.Ext(name), "."),
	}
	dir := f.dirs[parent]
	for i := range dir.Files {
		if dir.Files[i].Path == p {
			dir.Files[i] = file
			return file
		}
	}
	dir.Files = append(dir.Files, file)
	return file
}

// SetListing scripts the raw List answer for p, overriding the tree
func (f *Fake) SetListing(p string, l *models.Listing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[models.NormalizePath(p)] = l
}

// SetSearch scripts the result for a normalized query
func (f *Fake) SetSearch(query string, payload *models.DirectoryPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches[models.NormalizeQuery(query)] = payload
}

// FailOn makes op fail with err for the addressed item. An empty item matches all.
func (f *Fake) FailOn(op, item string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key(op, item)] = err
}

// Recover removes a scripted failure
func (f *Fake) Recover(op, item string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, key(op, item))
}

// Block holds op for the addressed item until the returned release is called
// or the call's context ends. release is safe to call more than once.
func (f *Fake) Block(op, item string) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[key(op, item)] = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gates[key(op, item)] == gate {
				delete(f.gates, key(op, item))
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// SetUploadSteps replaces the progress percentages reported for each upload
func (f *Fake) SetUploadSteps(steps ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadSteps = append([]int(nil), steps...)
}

// Started delivers each call as it begins
func (f *Fake) Started() <-chan Call {
	return f.started
}

// Calls returns recorded calls for op, or all calls when op is empty
func (f *Fake) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Payload returns a copy of the folder contents at p
func (f *Fake) Payload(p string) *models.DirectoryPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[models.NormalizePath(p)].Clone()
}

// enter records the call, then waits on a gate and returns any scripted error
func (f *Fake) enter(ctx context.Context, c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	gate := f.gates[key(c.Op, c.Path)]
	err := f.errs[key(c.Op, c.Path)]
	if err == nil {
		err = f.errs[key(c.Op, "")]
	}
	f.mu.Unlock()

	select {
	case f.started <- c:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func notFound(op, p string) error {
	return &gateway.Error{Kind: gateway.KindNotFound, Op: op, Status: 404, Err: fmt.Errorf("%s does not exist", p)}
}

// List implements gateway.Gateway
func (f *Fake) List(ctx context.Context, p string, force bool) (*models.Listing, error) {
	p = models.NormalizePath(p)
	if err := f.enter(ctx, Call{Op: OpList, Path: p, Force: force}); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.listings[p]; ok {
		cp := *l
		return &cp, nil
	}
	dir, ok := f.dirs[p]
	if !ok {
		return nil, notFound(OpList, p)
	}
	payload := f.withChildCountsLocked(dir)
	return &models.Listing{Configured: true, Folders: payload.Folders, Files: payload.Files}, nil
}

func (f *Fake) withChildCountsLocked(dir *models.DirectoryPayload) *models.DirectoryPayload {
	payload := dir.Clone()
	for i := range payload.Folders {
		if child, ok := f.dirs[payload.Folders[i].Path]; ok {
			payload.Folders[i].ChildCount = child.Total()
		}
	}
	return payload
}

// Search implements gateway.Gateway. Unscripted queries match names in the whole tree.
func (f *Fake) Search(ctx context.Context, query string) (*models.DirectoryPayload, error) {
	q := models.NormalizeQuery(query)
	if err := f.enter(ctx, Call{Op: OpSearch, Path: q}); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if payload, ok := f.searches[q]; ok {
		return payload.Clone(), nil
	}

	keys := make([]string, 0, len(f.dirs))
	for k := range f.dirs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &models.DirectoryPayload{Folders: []models.Folder{}, Files: []models.File{}}
	for _, k := range keys {
		for _, folder := range f.dirs[k].Folders {
			if strings.Contains(strings.ToLower(folder.Name), q) {
				out.Folders = append(out.Folders, folder)
			}
		}
		for _, file := range f.dirs[k].Files {
			if strings.Contains(strings.ToLower(file.Name), q) {
				out.Files = append(out.Files, file)
			}
		}
	}
	return out, nil
}

// Upload implements gateway.Gateway. Progress is reported at the configured
// steps; a scripted failure is returned after the first step.
func (f *Fake) Upload(ctx context.Context, dir, name string, size int64, r io.Reader, onProgress gateway.ProgressFunc) error {
	dir = models.NormalizePath(dir)
	target := models.JoinPath(dir, name)

	f.mu.Lock()
	steps := append([]int(nil), f.uploadSteps...)
	f.mu.Unlock()

	err := f.enter(ctx, Call{Op: OpUpload, Path: target, Arg: name})
	if err != nil {
		if onProgress != nil && len(steps) > 0 && steps[0] < 100 {
			onProgress(steps[0])
		}
		return err
	}

	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return fmt.Errorf("failed to read upload body: %w", err)
	}
	if onProgress != nil {
		for _, s := range steps {
			onProgress(s)
		}
	}
	if size <= 0 {
		size = n
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dirs[dir]; !ok {
		return notFound(OpUpload, dir)
	}
	f.addFileLocked(dir, name, size)
	return nil
}

// Delete implements gateway.Gateway
func (f *Fake) Delete(ctx context.Context, id string, t models.EntryType, parentPath string) error {
	if err := f.enter(ctx, Call{Op: OpDelete, Path: id, Arg: string(t)}); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	parent := models.ParentPath(id)
	if !f.removeEntryLocked(parent, id) {
		return notFound(OpDelete, id)
	}
	if t == models.EntryTypeFolder {
		for k := range f.dirs {
			if models.IsWithin(k, id) {
				delete(f.dirs, k)
			}
		}
	}
	return nil
}

// Rename implements gateway.Gateway
func (f *Fake) Rename(ctx context.Context, id, newName string, t models.EntryType, parentPath string) error {
	if err := f.enter(ctx, Call{Op: OpRename, Path: id, Arg: newName}); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	parent := models.ParentPath(id)
	newPath := models.JoinPath(parent, newName)
	if f.existsLocked(parent, newPath) {
		return &gateway.Error{Kind: gateway.KindOperationFailed, Op: OpRename, Status: 409, Err: fmt.Errorf("%s already exists", newPath)}
	}
	return f.relocateLocked(id, parent, newName, true)
}

// MoveOrCopy implements gateway.Gateway
func (f *Fake) MoveOrCopy(ctx context.Context, id, destPath string, op models.TransferOp) error {
	destPath = models.NormalizePath(destPath)
	if err := f.enter(ctx, Call{Op: OpMoveOrCopy, Path: id, Arg: string(op) + ":" + destPath}); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dirs[destPath]; !ok {
		return notFound(string(op), destPath)
	}
	return f.relocateLocked(id, destPath, models.BaseName(id), op == models.OpMove)
}

// relocateLocked places the item id under newParent as newName, removing the
// original when move is set
func (f *Fake) relocateLocked(id, newParent, newName string, move bool) error {
	oldParent := models.ParentPath(id)
	dir, ok := f.dirs[oldParent]
	if !ok {
		return notFound("relocate", id)
	}
	newPath := models.JoinPath(newParent, newName)
	rewrite := func(p string) string {
		return newPath + strings.TrimPrefix(p, id)
	}

	for _, folder := range dir.Folders {
		if folder.Path != id {
			continue
		}
		for k, payload := range snapshotDirs(f.dirs) {
			if !models.IsWithin(k, id) {
				continue
			}
			moved := payload.Clone()
			for i := range moved.Folders {
				moved.Folders[i].Path = rewrite(moved.Folders[i].Path)
				moved.Folders[i].ID = moved.Folders[i].Path
			}
			for i := range moved.Files {
				moved.Files[i].Path = rewrite(moved.Files[i].Path)
				moved.Files[i].ID = moved.Files[i].Path
			}
			if move {
				delete(f.dirs, k)
			}
			f.dirs[rewrite(k)] = moved
		}
		if move {
			f.removeEntryLocked(oldParent, id)
		}
		f.addFolderLocked(newParent, newName)
		return nil
	}

	for _, file := range dir.Files {
		if file.Path != id {
			continue
		}
		if move {
			f.removeEntryLocked(oldParent, id)
		}
		f.addFileLocked(newParent, newName, file.SizeBytes)
		return nil
	}
	return notFound("relocate", id)
}

func snapshotDirs(dirs map[string]*models.DirectoryPayload) map[string]*models.DirectoryPayload {
	out := make(map[string]*models.DirectoryPayload, len(dirs))
	for k, v := range dirs {
		out[k] = v
	}
	return out
}

func (f *Fake) existsLocked(parent, p string) bool {
	dir, ok := f.dirs[parent]
	if !ok {
		return false
	}
	for _, folder := range dir.Folders {
		if folder.Path == p {
			return true
		}
	}
	for _, file := range dir.Files {
		if file.Path == p {
			return true
		}
	}
	return false
}

func (f *Fake) removeEntryLocked(parent, id string) bool {
	dir, ok := f.dirs[parent]
	if !ok {
		return false
	}
	for i := range dir.Folders {
		if dir.Folders[i].Path == id {
			dir.Folders = append(dir.Folders[:i], dir.Folders[i+1:]...)
			return true
		}
	}
	for i := range dir.Files {
		if dir.Files[i].Path == id {
			dir.Files = append(dir.Files[:i], dir.Files[i+1:]...)
			return true
		}
	}
	return false
}

// CreateFolder implements gateway.Gateway
func (f *Fake) CreateFolder(ctx context.Context, parentPath, name string) error {
	parentPath = models.NormalizePath(parentPath)
	target := models.JoinPath(parentPath, name)
	if err := f.enter(ctx, Call{Op: OpCreateFolder, Path: target, Arg: name}); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dirs[parentPath]; !ok {
		return notFound(OpCreateFolder, parentPath)
	}
	if f.existsLocked(parentPath, target) {
		return &gateway.Error{Kind: gateway.KindOperationFailed, Op: OpCreateFolder, Status: 409, Err: fmt.Errorf("%s already exists", target)}
	}
	f.addFolderLocked(parentPath, name)
	return nil
}

// BrowseSubfolders implements gateway.Gateway
func (f *Fake) BrowseSubfolders(ctx context.Context, p string) ([]models.Folder, error) {
	p = models.NormalizePath(p)
	if err := f.enter(ctx, Call{Op: OpSubfolders, Path: p}); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	dir, ok := f.dirs[p]
	if !ok {
		return nil, notFound(OpSubfolders, p)
	}
	return f.withChildCountsLocked(dir).Folders, nil
}

var _ gateway.Gateway = (*Fake)(nil)
