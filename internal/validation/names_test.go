package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/portalworks/docbrowse/internal/models"
)

// TestValidateName tests the remote naming rules
func TestValidateName(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expectValid bool
		want        string
	}{
		// Valid names
		{name: "simple", input: "file.txt", expectValid: true, want: "file.txt"},
		{name: "with_dots", input: "file.v1.2.3.txt", expectValid: true, want: "file.v1.2.3.txt"},
		{name: "hidden_file", input: ".hidden", expectValid: true, want: ".hidden"},
		{name: "spaces_inside", input: "Quarterly report", expectValid: true, want: "Quarterly report"},
		{name: "leading_space_trimmed", input: "  Budget", expectValid: true, want: "Budget"},
		{name: "trailing_space_trimmed", input: "Report ", expectValid: true, want: "Report"},
		{name: "unicode", input: "Übersicht 2025", expectValid: true, want: "Übersicht 2025"},
		{name: "max_length", input: strings.Repeat("a", 255), expectValid: true, want: strings.Repeat("a", 255)},

		// Invalid names
		{name: "empty", input: ""},
		{name: "blank", input: "   "},
		{name: "dot", input: "."},
		{name: "parent_dir", input: ".."},
		{name: "slash", input: "a/b"},
		{name: "backslash", input: `a\b`},
		{name: "colon", input: "a:b"},
		{name: "star", input: "a*"},
		{name: "question", input: "what?"},
		{name: "quote", input: `say "hi"`},
		{name: "angle", input: "<tag>"},
		{name: "pipe", input: "a|b"},
		{name: "control", input: "bad\x07name"},
		{name: "null_byte", input: "file\x00.txt"},
		{name: "trailing_dot", input: "name."},
		{name: "trailing_dot_before_space", input: "name. "},
		{name: "too_long", input: strings.Repeat("a", 256)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateName(tc.input)

			if tc.expectValid {
				if err != nil {
					t.Errorf("Expected name %q to be valid, but got error: %v", tc.input, err)
				}
				if got != tc.want {
					t.Errorf("Expected %q, got %q", tc.want, got)
				}
				return
			}
			if err == nil {
				t.Errorf("Expected name %q to be invalid, but validation passed", tc.input)
			} else if !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected error to wrap ErrInvalid, got %v", err)
			}
		})
	}
}

func TestValidateDestination(t *testing.T) {
	folder := models.Folder{ID: "/Projects", Name: "Projects", Path: "/Projects"}
	file := models.File{ID: "/Projects/a.txt", Name: "a.txt", Path: "/Projects/a.txt"}

	testCases := []struct {
		name        string
		item        models.Entry
		dest        string
		expectValid bool
	}{
		{name: "folder_into_itself", item: folder, dest: "/Projects"},
		{name: "folder_into_descendant", item: folder, dest: "/Projects/2024/Q1"},
		{name: "folder_into_sibling_with_prefix", item: folder, dest: "/Projects-archive", expectValid: true},
		{name: "folder_to_root", item: folder, dest: "/", expectValid: true},
		{name: "file_anywhere", item: file, dest: "/Projects", expectValid: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDestination(tc.item, tc.dest)
			if tc.expectValid && err != nil {
				t.Errorf("Expected destination %s to be valid, got %v", tc.dest, err)
			}
			if !tc.expectValid && err == nil {
				t.Errorf("Expected destination %s to be rejected", tc.dest)
			}
		})
	}
}
