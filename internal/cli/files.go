package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portalworks/docbrowse/internal/browser"
	"github.com/portalworks/docbrowse/internal/fileops"
	"github.com/portalworks/docbrowse/internal/listview"
	"github.com/portalworks/docbrowse/internal/models"
	"github.com/portalworks/docbrowse/internal/progress"
)

// withSession opens a session for one command and closes it afterwards
func withSession(cmd *cobra.Command, prefetch bool, fn func(ctx context.Context, s *session) error) error {
	ctx := GetContext()
	s, err := openSession(ctx, cmd.OutOrStdout(), prefetch)
	if err != nil {
		return err
	}
	defer s.Close()

	err = fn(ctx, s)
	s.flushNotifications()
	return err
}

// newLsCmd creates the 'ls' command.
func newLsCmd() *cobra.Command {
	var (
		page int
		row  int
	)

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a folder",
		Long: `List the folders and files at path (default: root).

Folders with up to 100 items are shown a page of 50 at a time (--page).
Larger folders are shown as a window of rows starting at --row.

Examples:
  docbrowse ls
  docbrowse ls /Projects/2025 --page 2
  docbrowse ls /Archive --row 400`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := models.RootPath
			if len(args) == 1 {
				dir = args[0]
			}
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				return s.list(ctx, dir, page, row)
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page to show for paginated folders")
	cmd.Flags().IntVar(&row, "row", 0, "First row to show for large folders")
	return cmd
}

func (s *session) list(ctx context.Context, dir string, page, row int) error {
	spinner := progress.StartSpinner("Loading " + models.NormalizePath(dir))
	snap, err := s.browse(ctx, dir)
	spinner.Stop()
	if err != nil && snap.State != browser.StateError {
		return err
	}

	s.ctl.SetPage(page)
	snap = s.ctl.Snapshot()

	if err := renderSnapshot(s.out, listview.NewRenderer(), snap, row); err != nil {
		return err
	}
	if snap.State == browser.StateError {
		return snap.Err
	}
	return nil
}

// newSearchCmd creates the 'search' command.
func newSearchCmd() *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the repository by name",
		Long: `Search the whole repository for folders and files matching query.

Results are always paginated, 50 per page.

Examples:
  docbrowse search budget
  docbrowse search "quarterly report" --page 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				return s.search(ctx, args[0], page)
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page of results to show")
	return cmd
}

func (s *session) search(ctx context.Context, query string, page int) error {
	spinner := progress.StartSpinner(fmt.Sprintf("Searching %q", query))
	s.ctl.SetSearchQuery(query)
	s.ctl.Wait()
	spinner.Stop()

	s.ctl.SetPage(page)
	snap := s.ctl.Snapshot()
	if err := renderSnapshot(s.out, listview.NewRenderer(), snap, 0); err != nil {
		return err
	}
	return snap.SearchError
}

// newUploadCmd creates the 'upload' command.
func newUploadCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "upload <file> [file...]",
		Short: "Upload files into a folder",
		Long: `Upload local files into a remote folder, one at a time.

A failed file does not stop the batch. A summary is printed at the end.

Examples:
  docbrowse upload report.pdf --to /Projects/2025
  docbrowse upload *.csv --to /Data`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := uploadSources(args)
			if err != nil {
				return err
			}
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				if _, err := s.browse(ctx, target); err != nil {
					return err
				}
				return s.upload(ctx, target, files)
			})
		},
	}

	cmd.Flags().StringVarP(&target, "to", "t", models.RootPath, "Destination folder")
	return cmd
}

func uploadSources(paths []string) ([]fileops.UploadSource, error) {
	files := make([]fileops.UploadSource, 0, len(paths))
	for _, p := range paths {
		src, err := fileops.FileSource(p)
		if err != nil {
			return nil, err
		}
		files = append(files, src)
	}
	return files, nil
}

// openItem browses to the parent of p and returns the entry named by its last element
func (s *session) openItem(ctx context.Context, p string) (models.Entry, error) {
	p = models.NormalizePath(p)
	if p == models.RootPath {
		return nil, fmt.Errorf("the root folder cannot be changed")
	}
	snap, err := s.browse(ctx, models.ParentPath(p))
	if err != nil {
		return nil, err
	}
	return findEntry(snap, models.BaseName(p))
}

// newRmCmd creates the 'rm' command.
func newRmCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long: `Delete a file or folder. Folders are deleted with their contents.

Examples:
  docbrowse rm /Projects/old-draft.docx
  docbrowse rm /Projects/Archive --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				item, err := s.openItem(ctx, args[0])
				if err != nil {
					return err
				}
				if !yes {
					ok, err := confirm(newLineReader(cmd.InOrStdin()), s.out, fmt.Sprintf("Delete %s?", item.EntryPath()))
					if err != nil || !ok {
						fmt.Fprintln(s.out, "Cancelled")
						return nil
					}
				}
				if err := s.pipe.BeginDelete(item); err != nil {
					return err
				}
				return s.pipe.ConfirmDelete(ctx)
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// newRenameCmd creates the 'rename' command.
func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <path> <new-name>",
		Short: "Rename a file or folder",
		Long: `Rename a file or folder in place. Renaming to the current name does nothing.

Example:
  docbrowse rename /Projects/draft.docx final.docx`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				item, err := s.openItem(ctx, args[0])
				if err != nil {
					return err
				}
				if err := s.pipe.BeginRename(item); err != nil {
					return err
				}
				return s.pipe.ConfirmRename(ctx, args[1])
			})
		},
	}
}

// newTransferCmd creates the 'mv' or 'cp' command.
func newTransferCmd(use string) *cobra.Command {
	op, verb := models.OpMove, "Move"
	if use == "cp" {
		op, verb = models.OpCopy, "Copy"
	}

	return &cobra.Command{
		Use:   use + " <path> <dest-folder>",
		Short: verb + " a file or folder into another folder",
		Long: verb + ` a file or folder into dest-folder. A folder cannot be placed
inside itself.

Example:
  docbrowse ` + use + ` /Inbox/invoice.pdf /Finance/2025`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				item, err := s.openItem(ctx, args[0])
				if err != nil {
					return err
				}
				if err := s.pipe.BeginMoveOrCopy(item, op); err != nil {
					return err
				}
				return s.pipe.ConfirmMoveOrCopy(ctx, args[1])
			})
		},
	}
}

// newMkdirCmd creates the 'mkdir' command.
func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Long: `Create a folder. The parent folder must exist.

Example:
  docbrowse mkdir /Projects/2026`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := models.NormalizePath(args[0])
			if p == models.RootPath {
				return fmt.Errorf("a folder name is required")
			}
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				parent := models.ParentPath(p)
				if _, err := s.browse(ctx, parent); err != nil {
					return err
				}
				if err := s.pipe.BeginCreateFolder(parent); err != nil {
					return err
				}
				return s.pipe.ConfirmCreateFolder(ctx, models.BaseName(p))
			})
		},
	}
}
