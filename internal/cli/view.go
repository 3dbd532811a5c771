package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/portalworks/docbrowse/internal/browser"
	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/listview"
	"github.com/portalworks/docbrowse/internal/models"
)

// browse navigates to dir and waits for a cached view to be revalidated
func (s *session) browse(ctx context.Context, dir string) (browser.Snapshot, error) {
	sub := s.subscription()
	if err := s.ctl.Navigate(ctx, dir); err != nil {
		return s.ctl.Snapshot(), err
	}
	snap := s.ctl.Snapshot()
	return s.settle(ctx, sub, snap)
}

// settle follows snapshots of the current load until it leaves the
// revalidating state. Older generations still buffered are skipped.
func (s *session) settle(ctx context.Context, sub <-chan browser.Snapshot, snap browser.Snapshot) (browser.Snapshot, error) {
	for snap.State == browser.StateCacheHitRevalidating {
		select {
		case next, ok := <-sub:
			if !ok {
				return snap, nil
			}
			if next.Generation >= snap.Generation {
				snap = next
			}
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
	if snap.State == browser.StateError {
		return snap, snap.Err
	}
	return snap, nil
}

func (s *session) subscription() <-chan browser.Snapshot {
	if s.sub == nil {
		s.sub = s.ctl.Subscribe()
	}
	return s.sub
}

// renderSnapshot prints the header and the current frame of snap. row is
// the first row shown when the list is virtualized.
func renderSnapshot(w io.Writer, r *listview.Renderer, snap browser.Snapshot, row int) error {
	if snap.State == browser.StateError {
		fmt.Fprintln(w, describeError(snap.ErrorKind, snap.Err))
		return nil
	}

	switch {
	case snap.SearchActive:
		fmt.Fprintf(w, "Search %q\n", snap.SearchQuery)
	default:
		fmt.Fprintln(w, formatBreadcrumbs(snap.Breadcrumbs))
	}
	if snap.SearchError != nil {
		fmt.Fprintf(w, "Search failed: %v\n", snap.SearchError)
	}
	if snap.FromCache && snap.CachedAt != nil && !snap.SearchActive {
		fmt.Fprintf(w, "(cached %s)\n", humanize.Time(*snap.CachedAt))
	}
	if snap.RevalidateError != nil {
		fmt.Fprintf(w, "(refresh failed, showing cached listing: %v)\n", snap.RevalidateError)
	}

	r.SetPayload(snap.View(), snap.Loading(), snap.SearchActive)
	r.SetPage(snap.Page)
	if r.Mode() == listview.Virtualized {
		r.Scroll(rowOffset(row))
	}
	return listview.Format(w, r.Frame())
}

func formatBreadcrumbs(crumbs []browser.Breadcrumb) string {
	names := make([]string, len(crumbs))
	for i, c := range crumbs {
		names[i] = c.Name
	}
	return strings.Join(names, " > ")
}

// describeError turns a controller error into the message shown for each state
func describeError(kind gateway.Kind, err error) string {
	switch kind {
	case gateway.KindNotConfigured:
		return "The document store is not configured. Set backend and its settings in docbrowse.yaml or DOCBROWSE_* variables."
	case gateway.KindNeedsAuth:
		return "Sign-in required: the upstream session is missing or expired."
	case gateway.KindNotFound:
		return "This folder no longer exists."
	case gateway.KindAccessDenied:
		return "You do not have access to this folder."
	default:
		if err == nil {
			return "Something went wrong."
		}
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}

// findEntry looks name up in the current directory listing
func findEntry(snap browser.Snapshot, name string) (models.Entry, error) {
	dir := snap.Directory
	if dir != nil {
		for _, f := range dir.Folders {
			if f.Name == name {
				return f, nil
			}
		}
		for _, f := range dir.Files {
			if f.Name == name {
				return f, nil
			}
		}
	}
	return nil, gateway.NewError(gateway.KindNotFound, "lookup", fmt.Errorf("%s not found in %s", name, snap.CurrentPath))
}

// resolvePath interprets p relative to cwd. ".." moves up one level.
func resolvePath(cwd, p string) string {
	if strings.HasPrefix(p, "/") {
		return models.NormalizePath(p)
	}
	out := models.NormalizePath(cwd)
	for _, part := range strings.Split(p, "/") {
		switch part {
		case "", ".":
		case "..":
			out = models.ParentPath(out)
		default:
			out = models.JoinPath(out, part)
		}
	}
	return out
}

// rowOffset converts a row index to the viewport offset in pixels
func rowOffset(row int) int {
	return row * constants.RowHeight
}
