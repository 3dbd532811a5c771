package listview

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/models"
)

func makeEntries(folders, files int) ([]models.Folder, []models.File) {
	var fo []models.Folder
	var fi []models.File
	for i := 0; i < folders; i++ {
		fo = append(fo, models.Folder{ID: fmt.Sprintf("d%d", i), Name: fmt.Sprintf("dir%03d", i)})
	}
	for i := 0; i < files; i++ {
		fi = append(fi, models.File{ID: fmt.Sprintf("f%d", i), Name: fmt.Sprintf("file%03d.txt", i), SizeBytes: 2048})
	}
	return fo, fi
}

func TestSelectModeBoundary(t *testing.T) {
	tests := []struct {
		total  int
		search bool
		want   Mode
	}{
		{0, false, Paginated},
		{99, false, Paginated},
		{100, false, Paginated},
		{101, false, Virtualized},
		{5000, false, Virtualized},
		{101, true, Paginated},
		{5000, true, Paginated},
	}

	for _, tt := range tests {
		if got := SelectMode(tt.total, tt.search); got != tt.want {
			t.Errorf("SelectMode(%d, %v) = %v, expected %v", tt.total, tt.search, got, tt.want)
		}
	}
}

func TestSequenceOrdersFoldersFirst(t *testing.T) {
	folders, files := makeEntries(2, 3)
	seq := NewSequence(folders, files)

	require.Equal(t, 5, seq.Len())
	assert.True(t, seq.At(0).IsFolder())
	assert.True(t, seq.At(1).IsFolder())
	assert.Equal(t, "file000.txt", seq.At(2).EntryName())
	assert.Equal(t, "file002.txt", seq.At(4).EntryName())

	assert.Len(t, seq.Slice(1, 3), 2)
	assert.Len(t, seq.Slice(-5, 50), 5)
	assert.Nil(t, seq.Slice(4, 2))
	assert.Zero(t, SequenceOf(nil).Len())
}

func TestPaginate(t *testing.T) {
	folders, files := makeEntries(10, 110)
	seq := NewSequence(folders, files)

	p := Paginate(seq, 1)
	if p.Count != 3 {
		t.Errorf("Expected 3 pages, got %d", p.Count)
	}
	if len(p.Entries) != constants.PageSize {
		t.Errorf("Expected %d entries, got %d", constants.PageSize, len(p.Entries))
	}
	assert.False(t, p.HasPrev)
	assert.True(t, p.HasNext)

	last := Paginate(seq, 3)
	assert.Len(t, last.Entries, 20)
	assert.True(t, last.HasPrev)
	assert.False(t, last.HasNext)

	assert.Equal(t, 3, Paginate(seq, 99).Number, "page above the count clamps to the last page")
	assert.Equal(t, 1, Paginate(seq, -1).Number)

	empty := Paginate(Sequence{}, 1)
	assert.Equal(t, 1, empty.Count)
	assert.Empty(t, empty.Entries)
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 1, PageCount(0))
	assert.Equal(t, 1, PageCount(50))
	assert.Equal(t, 2, PageCount(51))
	assert.Equal(t, 2, PageCount(100))
}

func TestComputeWindow(t *testing.T) {
	vp := Viewport{Height: 440, RowHeight: 44, Overscan: 2}

	w := ComputeWindow(1000, vp)
	assert.Equal(t, 0, w.Start)
	assert.Equal(t, 12, w.End)
	assert.Equal(t, 0, w.TopSpacer)
	assert.Equal(t, (1000-12)*44, w.BottomSpacer)

	vp.Offset = 44 * 500
	w = ComputeWindow(1000, vp)
	assert.Equal(t, 498, w.Start)
	assert.Equal(t, 512, w.End)
	assert.Equal(t, 498*44, w.TopSpacer)
	assert.Equal(t, 1000*44, w.TopSpacer+w.Rows()*44+w.BottomSpacer, "scroll extent must be preserved")

	vp.Offset = 1 << 30
	w = ComputeWindow(1000, vp)
	assert.Equal(t, 1000, w.End)
	assert.Equal(t, 0, w.BottomSpacer)

	assert.Equal(t, Window{}, ComputeWindow(0, vp))
}

func TestRendererHundredPaginates(t *testing.T) {
	folders, files := makeEntries(20, 80)
	r := NewRenderer()
	r.SetData(folders, files, false, false)

	f := r.Frame()
	if f.Mode != Paginated {
		t.Fatalf("Expected paginated mode for 100 items, got %v", f.Mode)
	}
	assert.Equal(t, 2, f.PageCount)
	assert.Len(t, f.Rows, 50)

	r.SetPage(2)
	f = r.Frame()
	assert.Equal(t, 2, f.Page)
	assert.Equal(t, "file079.txt", f.Rows[len(f.Rows)-1].EntryName())
}

func TestRendererHundredOneVirtualizes(t *testing.T) {
	folders, files := makeEntries(1, 100)
	r := NewRenderer()
	r.SetData(folders, files, false, false)

	f := r.Frame()
	if f.Mode != Virtualized {
		t.Fatalf("Expected virtualized mode for 101 items, got %v", f.Mode)
	}
	assert.Less(t, len(f.Rows), 101, "only the window is realized")
	assert.Equal(t, f.Window.Rows(), len(f.Rows))

	w := r.Scroll(constants.RowHeight * 60)
	assert.Greater(t, w.Start, 0)
	f = r.Frame()
	assert.Equal(t, w, f.Window)
	assert.Equal(t, w.Start, indexOf(t, folders, files, f.Rows[0]))
}

func TestRendererSearchAlwaysPaginates(t *testing.T) {
	folders, files := makeEntries(0, 300)
	r := NewRenderer()
	r.SetData(folders, files, false, true)

	f := r.Frame()
	assert.Equal(t, Paginated, f.Mode)
	assert.Equal(t, 6, f.PageCount)
}

func TestRendererLoadingFrame(t *testing.T) {
	r := NewRenderer()
	r.SetData(nil, nil, true, false)

	f := r.Frame()
	assert.True(t, f.Loading)
	assert.Empty(t, f.Rows)
	assert.False(t, f.Empty())

	var buf bytes.Buffer
	require.NoError(t, Format(&buf, f))
	assert.Equal(t, "Loading...\n", buf.String())
}

func TestFormat(t *testing.T) {
	folders, files := makeEntries(1, 2)
	r := NewRenderer()
	r.SetData(folders, files, false, false)

	var buf bytes.Buffer
	require.NoError(t, Format(&buf, r.Frame()))
	out := buf.String()

	assert.Contains(t, out, "dir000/")
	assert.Contains(t, out, "file001.txt")
	assert.Contains(t, out, "2.0 KiB")
	assert.True(t, strings.HasSuffix(out, "page 1/1, 3 items\n"), out)

	buf.Reset()
	require.NoError(t, Format(&buf, Frame{}))
	assert.Equal(t, "(empty)\n", buf.String())
}

func indexOf(t *testing.T, folders []models.Folder, files []models.File, e models.Entry) int {
	t.Helper()
	seq := NewSequence(folders, files)
	for i := 0; i < seq.Len(); i++ {
		if seq.At(i).EntryID() == e.EntryID() {
			return i
		}
	}
	t.Fatalf("entry %s not found", e.EntryID())
	return -1
}
