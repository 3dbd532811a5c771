// Package listview decides how a directory or search result is rendered and
// computes which rows are realized, so rendering cost stays bounded by the
// viewport instead of the result size.
package listview

import (
	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/models"
)

// Mode is the rendering strategy for a result set
type Mode int

const (
	Paginated Mode = iota
	Virtualized
)

func (m Mode) String() string {
	if m == Virtualized {
		return "virtualized"
	}
	return "paginated"
}

// SelectMode picks pagination for search results and for listings of at most
// LargeListThreshold items, and virtualization above that.
func SelectMode(total int, search bool) Mode {
	if search || total <= constants.LargeListThreshold {
		return Paginated
	}
	return Virtualized
}

// Sequence is a read-only view of folders followed by files, indexed without copying
type Sequence struct {
	folders []models.Folder
	files   []models.File
}

// NewSequence views folders ++ files
func NewSequence(folders []models.Folder, files []models.File) Sequence {
	return Sequence{folders: folders, files: files}
}

// SequenceOf views a payload. A nil payload is empty.
func SequenceOf(p *models.DirectoryPayload) Sequence {
	if p == nil {
		return Sequence{}
	}
	return NewSequence(p.Folders, p.Files)
}

// Len returns the combined item count
func (s Sequence) Len() int {
	return len(s.folders) + len(s.files)
}

// At returns the i-th entry. Folders come first.
func (s Sequence) At(i int) models.Entry {
	if i < len(s.folders) {
		return s.folders[i]
	}
	return s.files[i-len(s.folders)]
}

// Slice returns entries [start, end) clamped to the sequence bounds
func (s Sequence) Slice(start, end int) []models.Entry {
	start, end = clamp(start, 0, s.Len()), clamp(end, 0, s.Len())
	if start >= end {
		return nil
	}
	out := make([]models.Entry, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, s.At(i))
	}
	return out
}

// PageCount returns the number of pages for total items, at least 1
func PageCount(total int) int {
	if total <= 0 {
		return 1
	}
	return (total + constants.PageSize - 1) / constants.PageSize
}

// Page is one page of a paginated list
type Page struct {
	Number  int
	Count   int
	Entries []models.Entry
	HasPrev bool
	HasNext bool
}

// Paginate returns page n (1-based, clamped) of seq
func Paginate(seq Sequence, n int) Page {
	count := PageCount(seq.Len())
	n = clamp(n, 1, count)
	start := (n - 1) * constants.PageSize
	return Page{
		Number:  n,
		Count:   count,
		Entries: seq.Slice(start, start+constants.PageSize),
		HasPrev: n > 1,
		HasNext: n < count,
	}
}

// Viewport describes the visible area of a virtualized list in pixels
type Viewport struct {
	Height    int
	RowHeight int
	Overscan  int
	Offset    int
}

// DefaultViewport returns the viewport used before the caller has measured one
func DefaultViewport() Viewport {
	return Viewport{
		Height:    constants.DefaultViewportHeight,
		RowHeight: constants.RowHeight,
		Overscan:  constants.Overscan,
	}
}

// Window is the realized range of a virtualized list plus the spacer heights
// that keep the scroll extent equal to total * RowHeight.
type Window struct {
	Start        int
	End          int
	TopSpacer    int
	BottomSpacer int
}

// Rows returns the number of realized rows
func (w Window) Rows() int {
	return w.End - w.Start
}

// ComputeWindow returns the rows to realize for total items in vp
func ComputeWindow(total int, vp Viewport) Window {
	if total <= 0 {
		return Window{}
	}
	rowHeight := vp.RowHeight
	if rowHeight <= 0 {
		rowHeight = constants.RowHeight
	}
	height := vp.Height
	if height < 0 {
		height = 0
	}
	offset := clamp(vp.Offset, 0, maxOffset(total, rowHeight, height))

	first := offset / rowHeight
	visible := (height + rowHeight - 1) / rowHeight
	start := clamp(first-vp.Overscan, 0, total)
	end := clamp(first+visible+vp.Overscan, start, total)

	return Window{
		Start:        start,
		End:          end,
		TopSpacer:    start * rowHeight,
		BottomSpacer: (total - end) * rowHeight,
	}
}

// maxOffset is the furthest scroll position that still fills the viewport
func maxOffset(total, rowHeight, height int) int {
	m := total*rowHeight - height
	if m < 0 {
		return 0
	}
	return m
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
