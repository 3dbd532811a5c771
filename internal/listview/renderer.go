package listview

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/portalworks/docbrowse/internal/models"
)

// Frame is what one render pass materializes
type Frame struct {
	Mode    Mode
	Loading bool
	Total   int
	Rows    []models.Entry

	// Paginated
	Page      int
	PageCount int

	// Virtualized
	Window Window
}

// Empty reports whether a ready frame has nothing to show
func (f Frame) Empty() bool {
	return !f.Loading && f.Total == 0
}

// Renderer holds the presentation state of one list. It is not safe for concurrent use.
type Renderer struct {
	seq      Sequence
	search   bool
	loading  bool
	page     int
	viewport Viewport
}

// NewRenderer returns an empty renderer with the default viewport
func NewRenderer() *Renderer {
	return &Renderer{page: 1, viewport: DefaultViewport()}
}

// SetData replaces the rendered items. The scroll offset is kept only when the mode stays virtualized.
func (r *Renderer) SetData(folders []models.Folder, files []models.File, loading, search bool) {
	before := r.Mode()
	r.seq = NewSequence(folders, files)
	r.loading = loading
	r.search = search
	if r.Mode() != before || before == Paginated {
		r.viewport.Offset = 0
	}
}

// SetPayload is SetData for a payload
func (r *Renderer) SetPayload(p *models.DirectoryPayload, loading, search bool) {
	if p == nil {
		r.SetData(nil, nil, loading, search)
		return
	}
	r.SetData(p.Folders, p.Files, loading, search)
}

// SetPage selects the page rendered in paginated mode
func (r *Renderer) SetPage(n int) {
	r.page = n
}

// SetViewport changes the viewport height and row metrics, keeping the offset
func (r *Renderer) SetViewport(vp Viewport) {
	offset := r.viewport.Offset
	r.viewport = vp
	r.viewport.Offset = offset
}

// Scroll moves the viewport to offset pixels and returns the new window.
// Only the window is recomputed.
func (r *Renderer) Scroll(offset int) Window {
	r.viewport.Offset = offset
	return ComputeWindow(r.seq.Len(), r.viewport)
}

// Mode returns the strategy for the current data
func (r *Renderer) Mode() Mode {
	return SelectMode(r.seq.Len(), r.search)
}

// Frame materializes the rows for the current mode
func (r *Renderer) Frame() Frame {
	total := r.seq.Len()
	f := Frame{Mode: r.Mode(), Loading: r.loading, Total: total}
	if r.loading && total == 0 {
		return f
	}

	switch f.Mode {
	case Virtualized:
		f.Window = ComputeWindow(total, r.viewport)
		f.Rows = r.seq.Slice(f.Window.Start, f.Window.End)
	default:
		p := Paginate(r.seq, r.page)
		r.page = p.Number
		f.Page, f.PageCount, f.Rows = p.Number, p.Count, p.Entries
	}
	return f
}

// Format writes a frame as an aligned table
func Format(w io.Writer, f Frame) error {
	if f.Loading && len(f.Rows) == 0 {
		_, err := fmt.Fprintln(w, "Loading...")
		return err
	}
	if f.Empty() {
		_, err := fmt.Fprintln(w, "(empty)")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tNAME\tSIZE\tMODIFIED\tBY")
	for _, e := range f.Rows {
		switch v := e.(type) {
		case models.Folder:
			fmt.Fprintf(tw, "dir\t%s/\t%d items\t%s\t\n", v.Name, v.ChildCount, formatTime(v.LastModifiedAt))
		case models.File:
			fmt.Fprintf(tw, "file\t%s\t%s\t%s\t%s\n", v.Name, humanize.IBytes(uint64(v.SizeBytes)), formatTime(v.LastModifiedAt), v.LastModifiedBy)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var err error
	switch f.Mode {
	case Virtualized:
		_, err = fmt.Fprintf(w, "rows %d-%d of %d\n", f.Window.Start+1, f.Window.End, f.Total)
	default:
		_, err = fmt.Fprintf(w, "page %d/%d, %d items\n", f.Page, f.PageCount, f.Total)
	}
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
