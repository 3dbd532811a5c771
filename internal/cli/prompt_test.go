package cli

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/portalworks/docbrowse/internal/browser"
	"github.com/portalworks/docbrowse/internal/gateway"
	"github.com/portalworks/docbrowse/internal/listview"
	"github.com/portalworks/docbrowse/internal/models"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"", nil},
		{"ls", []string{"ls"}},
		{"  cd   Projects  ", []string{"cd", "Projects"}},
		{`rename "old name.txt" "new name.txt"`, []string{"rename", "old name.txt", "new name.txt"}},
		{"mv a\t/b", []string{"mv", "a", "/b"}},
		{`cd ""`, []string{"cd", ""}},
	}

	for _, tt := range tests {
		got, err := splitArgs(tt.line)
		if err != nil {
			t.Errorf("splitArgs(%q) returned error: %v", tt.line, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitArgs(%q) = %q, expected %q", tt.line, got, tt.want)
		}
	}

	if _, err := splitArgs(`rm "half`); err == nil {
		t.Error("Expected an error for an unterminated quote")
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"maybe\n", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		got, err := confirm(newLineReader(strings.NewReader(tt.input)), &out, "Delete?")
		if err != nil {
			t.Errorf("confirm(%q) returned error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, expected %v", tt.input, got, tt.want)
		}
		if out.String() != "Delete? [y/N]: " {
			t.Errorf("Expected prompt text, got %q", out.String())
		}
	}

	_, err := confirm(newLineReader(strings.NewReader("")), io.Discard, "Delete?")
	if !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF at end of input, got %v", err)
	}
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		cwd, p, want string
	}{
		{"/", "Projects", "/Projects"},
		{"/Projects", "2025", "/Projects/2025"},
		{"/Projects/2025", "..", "/Projects"},
		{"/Projects/2025", "../../Archive", "/Archive"},
		{"/", "..", "/"},
		{"/Projects", "/Inbox/", "/Inbox"},
		{"/Projects", "./a/./b", "/Projects/a/b"},
	}

	for _, tt := range tests {
		if got := resolvePath(tt.cwd, tt.p); got != tt.want {
			t.Errorf("resolvePath(%q, %q) = %q, expected %q", tt.cwd, tt.p, got, tt.want)
		}
	}
}

func TestFindEntry(t *testing.T) {
	snap := browser.Snapshot{
		NavigationState: browser.NavigationState{CurrentPath: "/Projects"},
		Directory: &models.DirectoryPayload{
			Folders: []models.Folder{{ID: "f1", Name: "2025", Path: "/Projects/2025"}},
			Files:   []models.File{{ID: "d1", Name: "plan.txt", Path: "/Projects/plan.txt"}},
		},
	}

	entry, err := findEntry(snap, "plan.txt")
	if err != nil {
		t.Fatalf("Expected plan.txt, got error %v", err)
	}
	if entry.EntryPath() != "/Projects/plan.txt" {
		t.Errorf("Expected /Projects/plan.txt, got %s", entry.EntryPath())
	}

	if _, err := findEntry(snap, "2025"); err != nil {
		t.Errorf("Expected folder 2025, got error %v", err)
	}

	_, err = findEntry(snap, "missing")
	if gateway.KindOf(err) != gateway.KindNotFound {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestDescribeError(t *testing.T) {
	if got := describeError(gateway.KindNeedsAuth, nil); !strings.Contains(got, "Sign-in required") {
		t.Errorf("Unexpected NeedsAuth message: %s", got)
	}
	if got := describeError(gateway.KindUnknown, errors.New("boom")); got != "Something went wrong: boom" {
		t.Errorf("Unexpected fallback message: %s", got)
	}
}

func TestRenderSnapshotShowsCacheState(t *testing.T) {
	var buf bytes.Buffer
	snap := browser.Snapshot{
		State:           browser.StateReady,
		Breadcrumbs:     []browser.Breadcrumb{{Name: "Root", Path: "/"}, {Name: "Docs", Path: "/Docs"}},
		Directory:       &models.DirectoryPayload{Files: []models.File{{Name: "a.txt", Path: "/Docs/a.txt"}}},
		RevalidateError: errors.New("timeout"),
		Page:            1,
	}

	if err := renderSnapshot(&buf, listview.NewRenderer(), snap, 0); err != nil {
		t.Fatalf("renderSnapshot failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Root > Docs", "refresh failed", "a.txt", "page 1/1, 1 items"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}
