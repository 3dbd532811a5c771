package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/portalworks/docbrowse/internal/browser"
	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/fileops"
	"github.com/portalworks/docbrowse/internal/listview"
	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/metrics"
	"github.com/portalworks/docbrowse/internal/models"
)

const shellHelp = `Navigation:
  ls                     show the current folder
  cd <folder|path|..>    open a folder
  back                   go to the previous folder
  root                   go to the root folder
  crumb <n>              jump to breadcrumb n (0 is Root)
  reload                 refetch the current folder
  page <n> | next | prev change page, or scroll large folders

Search:
  search <text>          search the repository
  clear                  leave search results

Operations:
  upload <file>...       upload local files into the current folder
  mkdir <name>           create a folder
  rename <name> <new>    rename an item
  rm <name>              delete an item
  mv <name> [dest]       move an item (no dest opens the folder picker)
  cp <name> [dest]       copy an item (no dest opens the folder picker)
  retry [arg]            retry the pending operation after a failure
  cancel                 discard the pending operation
  ops                    show the pending operation and last upload

Folder picker (after mv/cp without dest):
  cd <folder>, up, ls, ok, cancel

  help, exit`

// newShellCmd creates the 'shell' command.
func newShellCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Browse interactively",
		Long: `Start an interactive session that keeps one browsing state alive.
Folders are served from the cache first and refreshed in the background,
and subfolders are prefetched so opening them is instant.

Type 'help' inside the shell for commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			out := cmd.OutOrStdout()
			s, err := openSession(ctx, out, true)
			if err != nil {
				return err
			}
			defer s.Close()

			addr := metricsAddr
			if addr == "" {
				addr = s.cfg.Metrics.Listen
			}
			if addr != "" {
				srv := startMetricsServer(addr, s.metrics, s.logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			return newShell(s, newLineReader(cmd.InOrStdin()), out).run(ctx)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "Serve Prometheus metrics on this address (e.g. :9102)")
	return cmd
}

// startMetricsServer serves /metrics until shut down
func startMetricsServer(addr string, m *metrics.Metrics, log *logging.Logger) *nethttp.Server {
	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &nethttp.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("Metrics listener stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}

type shell struct {
	s   *session
	in  lineReader
	out io.Writer

	r       *listview.Renderer
	row     int
	gen     uint64
	picking bool
}

func newShell(s *session, in lineReader, out io.Writer) *shell {
	return &shell{s: s, in: in, out: out, r: listview.NewRenderer()}
}

func (sh *shell) prompt() string {
	if sh.picking {
		return fmt.Sprintf("pick:%s> ", sh.s.picker.Snapshot().Path)
	}
	return fmt.Sprintf("docbrowse:%s> ", sh.s.ctl.CurrentPath())
}

// run reads commands until exit or end of input
func (sh *shell) run(ctx context.Context) error {
	sh.navigate(ctx, models.RootPath)

	for ctx.Err() == nil {
		fmt.Fprint(sh.out, sh.prompt())
		line, err := sh.in.ReadLine()
		if err != nil {
			fmt.Fprintln(sh.out)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		args, err := splitArgs(line)
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		quit, err := sh.exec(ctx, args)
		sh.s.flushNotifications()
		if err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	return nil
}

func need(args []string, n int, usage string) error {
	if len(args) < n+1 {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

// exec runs one command and reports whether the shell should exit
func (sh *shell) exec(ctx context.Context, args []string) (bool, error) {
	if sh.picking {
		if handled, err := sh.execPicker(ctx, args); handled {
			return false, err
		}
	}

	ctl := sh.s.ctl
	switch args[0] {
	case "exit", "quit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(sh.out, shellHelp)

	case "ls":
		return false, sh.show()
	case "cd":
		if err := need(args, 1, "cd <folder|path|..>"); err != nil {
			return false, err
		}
		sh.navigate(ctx, resolvePath(ctl.CurrentPath(), args[1]))
	case "back":
		sh.follow(ctx, ctl.GoBack(ctx))
	case "root":
		sh.follow(ctx, ctl.GoToRoot(ctx))
	case "crumb":
		if err := need(args, 1, "crumb <n>"); err != nil {
			return false, err
		}
		i, err := strconv.Atoi(args[1])
		if err != nil {
			return false, fmt.Errorf("invalid breadcrumb %q", args[1])
		}
		sh.follow(ctx, ctl.NavigateBreadcrumb(ctx, i))
	case "reload":
		sh.follow(ctx, ctl.Reload(ctx, true))

	case "page":
		if err := need(args, 1, "page <n>"); err != nil {
			return false, err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return false, fmt.Errorf("invalid page %q", args[1])
		}
		ctl.SetPage(n)
		return false, sh.show()
	case "next", "prev":
		sh.turn(args[0] == "next")
		return false, sh.show()

	case "search":
		if err := need(args, 1, "search <text>"); err != nil {
			return false, err
		}
		ctl.SetSearchQuery(strings.Join(args[1:], " "))
		ctl.Wait()
		return false, sh.show()
	case "clear":
		ctl.ClearSearch()
		return false, sh.show()

	case "upload":
		if err := need(args, 1, "upload <file>..."); err != nil {
			return false, err
		}
		files, err := uploadSources(args[1:])
		if err != nil {
			return false, err
		}
		if err := sh.s.upload(ctx, ctl.CurrentPath(), files); err != nil {
			return false, err
		}
		sh.s.flushNotifications()
		return false, sh.show()
	case "mkdir":
		if err := need(args, 1, "mkdir <name>"); err != nil {
			return false, err
		}
		if err := sh.s.pipe.BeginCreateFolder(ctl.CurrentPath()); err != nil {
			return false, err
		}
		return false, sh.afterOp(sh.s.pipe.ConfirmCreateFolder(ctx, args[1]))
	case "rename":
		if err := need(args, 2, "rename <name> <new-name>"); err != nil {
			return false, err
		}
		item, err := findEntry(ctl.Snapshot(), args[1])
		if err != nil {
			return false, err
		}
		if err := sh.s.pipe.BeginRename(item); err != nil {
			return false, err
		}
		return false, sh.afterOp(sh.s.pipe.ConfirmRename(ctx, args[2]))
	case "rm":
		if err := need(args, 1, "rm <name>"); err != nil {
			return false, err
		}
		return false, sh.remove(ctx, args[1])
	case "mv", "cp":
		if err := need(args, 1, args[0]+" <name> [dest]"); err != nil {
			return false, err
		}
		return false, sh.transfer(ctx, args)
	case "retry":
		return false, sh.retry(ctx, args[1:])
	case "cancel":
		sh.s.pipe.Cancel()
		fmt.Fprintln(sh.out, "Cancelled")
	case "ops":
		sh.printOps()

	default:
		return false, fmt.Errorf("unknown command %q (type 'help')", args[0])
	}
	return false, nil
}

// navigate opens p and renders the result
func (sh *shell) navigate(ctx context.Context, p string) {
	_, err := sh.s.browse(ctx, p)
	sh.follow(ctx, err)
}

// follow renders the current folder after a navigation call
func (sh *shell) follow(ctx context.Context, err error) {
	if errors.Is(err, browser.ErrOperationPending) {
		fmt.Fprintln(sh.out, "Finish or cancel the pending operation first ('ops', 'retry', 'cancel').")
		return
	}
	if err != nil && !isStateError(sh.s.ctl.Snapshot(), err) {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
		return
	}
	snap, _ := sh.s.settle(ctx, sh.s.subscription(), sh.s.ctl.Snapshot())
	sh.render(snap)
}

func isStateError(snap browser.Snapshot, err error) bool {
	return snap.State == browser.StateError && errors.Is(err, snap.Err)
}

func (sh *shell) show() error {
	return sh.render(sh.s.ctl.Snapshot())
}

func (sh *shell) render(snap browser.Snapshot) error {
	if snap.Generation != sh.gen {
		sh.gen = snap.Generation
		sh.row = 0
	}
	return renderSnapshot(sh.out, sh.r, snap, sh.row)
}

// turn moves one page in paginated mode or one screen in virtualized mode
func (sh *shell) turn(forward bool) {
	snap := sh.s.ctl.Snapshot()
	if listview.SelectMode(snap.View().Total(), snap.SearchActive) == listview.Paginated {
		if forward {
			sh.s.ctl.NextPage()
		} else {
			sh.s.ctl.PrevPage()
		}
		return
	}

	screen := constants.DefaultViewportHeight / constants.RowHeight
	if forward {
		sh.row += screen
	} else {
		sh.row -= screen
	}
	if last := snap.View().Total() - screen; sh.row > last {
		sh.row = last
	}
	if sh.row < 0 {
		sh.row = 0
	}
}

func (sh *shell) afterOp(err error) error {
	if err != nil {
		if _, pending := sh.s.pipe.Pending(); pending {
			fmt.Fprintln(sh.out, "The operation is still pending: 'retry' to try again or 'cancel'.")
		}
		return err
	}
	return sh.show()
}

func (sh *shell) remove(ctx context.Context, name string) error {
	item, err := findEntry(sh.s.ctl.Snapshot(), name)
	if err != nil {
		return err
	}
	if err := sh.s.pipe.BeginDelete(item); err != nil {
		return err
	}
	ok, err := confirm(sh.in, sh.out, fmt.Sprintf("Delete %s?", item.EntryPath()))
	if err != nil || !ok {
		sh.s.pipe.Cancel()
		fmt.Fprintln(sh.out, "Cancelled")
		return nil
	}
	return sh.afterOp(sh.s.pipe.ConfirmDelete(ctx))
}

func (sh *shell) transfer(ctx context.Context, args []string) error {
	op := models.OpMove
	if args[0] == "cp" {
		op = models.OpCopy
	}
	ctl := sh.s.ctl
	item, err := findEntry(ctl.Snapshot(), args[1])
	if err != nil {
		return err
	}
	if err := sh.s.pipe.BeginMoveOrCopy(item, op); err != nil {
		return err
	}

	if len(args) > 2 {
		return sh.afterOp(sh.s.pipe.ConfirmMoveOrCopy(ctx, resolvePath(ctl.CurrentPath(), args[2])))
	}

	sh.picking = true
	fmt.Fprintf(sh.out, "Choose a destination for %s ('ok' to confirm, 'cancel' to abort)\n", item.EntryName())
	err = sh.s.picker.Browse(ctx, ctl.CurrentPath())
	sh.printPicker()
	return err
}

// execPicker handles commands while the destination picker is open
func (sh *shell) execPicker(ctx context.Context, args []string) (bool, error) {
	picker := sh.s.picker
	switch args[0] {
	case "cd":
		if err := need(args, 1, "cd <folder|..>"); err != nil {
			return true, err
		}
		var err error
		if args[1] == ".." {
			err = picker.Up(ctx)
		} else {
			err = picker.Enter(ctx, args[1])
		}
		sh.printPicker()
		return true, err
	case "up":
		err := picker.Up(ctx)
		sh.printPicker()
		return true, err
	case "ls":
		sh.printPicker()
		return true, nil
	case "ok":
		err := sh.s.pipe.ConfirmMoveOrCopy(ctx, picker.Selected())
		if err == nil {
			sh.picking = false
		}
		return true, sh.afterOp(err)
	case "cancel":
		sh.s.pipe.Cancel()
		sh.picking = false
		fmt.Fprintln(sh.out, "Cancelled")
		return true, nil
	}
	return false, nil
}

func (sh *shell) printPicker() {
	snap := sh.s.picker.Snapshot()
	fmt.Fprintln(sh.out, formatBreadcrumbs(snap.Breadcrumbs))
	switch {
	case snap.Loading:
		fmt.Fprintln(sh.out, "Loading...")
	case snap.Err != nil:
		fmt.Fprintln(sh.out, describeError(snap.ErrorKind, snap.Err))
	case len(snap.Folders) == 0:
		fmt.Fprintln(sh.out, "(no subfolders)")
	default:
		for _, f := range snap.Folders {
			fmt.Fprintf(sh.out, "  %s/\n", f.Name)
		}
	}
}

// retry confirms the pending operation again
func (sh *shell) retry(ctx context.Context, args []string) error {
	op, ok := sh.s.pipe.Pending()
	if !ok {
		return fileops.ErrNoPendingOperation
	}
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}

	var err error
	switch op.Kind {
	case fileops.OpDelete:
		err = sh.s.pipe.ConfirmDelete(ctx)
	case fileops.OpRename:
		if arg == "" {
			return fmt.Errorf("usage: retry <new-name>")
		}
		err = sh.s.pipe.ConfirmRename(ctx, arg)
	case fileops.OpMoveOrCopy:
		dest := sh.s.picker.Selected()
		if arg != "" {
			dest = resolvePath(sh.s.ctl.CurrentPath(), arg)
		}
		err = sh.s.pipe.ConfirmMoveOrCopy(ctx, dest)
		if err == nil {
			sh.picking = false
		}
	case fileops.OpCreateFolder:
		if arg == "" {
			return fmt.Errorf("usage: retry <name>")
		}
		err = sh.s.pipe.ConfirmCreateFolder(ctx, arg)
	}
	return sh.afterOp(err)
}

func (sh *shell) printOps() {
	if op, ok := sh.s.pipe.Pending(); ok {
		target := op.ParentPath
		if op.Item != nil {
			target = op.Item.EntryPath()
		}
		label := op.Kind.String()
		if op.Kind == fileops.OpMoveOrCopy {
			label = string(op.Transfer)
		}
		fmt.Fprintf(sh.out, "Pending: %s %s\n", label, target)
	} else {
		fmt.Fprintln(sh.out, "No pending operation")
	}
	if dropped := sh.s.bus.GetDroppedEventCount(); dropped > 0 {
		fmt.Fprintf(sh.out, "! %d events were dropped by slow subscribers\n", dropped)
	}

	batch := sh.s.pipe.CurrentBatch()
	if batch == nil || batch.Dismissed() {
		return
	}
	sum := batch.Summary()
	fmt.Fprintf(sh.out, "Last upload to %s: %d of %d succeeded", batch.Path, sum.Succeeded, sum.Total)
	if sum.Failed > 0 {
		fmt.Fprintf(sh.out, ", %d failed", sum.Failed)
	}
	fmt.Fprintln(sh.out)
	tasks := batch.Tasks()
	for i := range tasks {
		t := &tasks[i]
		line := fmt.Sprintf("  %-8s %3d%%  %s", t.Status, t.Progress, t.FileName)
		if t.Error != nil {
			line += ": " + t.Error.Error()
		}
		fmt.Fprintln(sh.out, line)
	}
}
