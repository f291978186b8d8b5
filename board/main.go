// Command board is a terminal client of the task service. It keeps a local
// copy of the board so it can show the last known state while offline.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/board/boardcache"
	"taskboard/board/drag"
	"taskboard/board/remote"
	"taskboard/task-api/domain"
)

var Version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %v", err)
	}
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg    Config
	out    io.Writer
	client *remote.Client
	board  *boardcache.Board
	logger *log.Logger
	close  func() error
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:           "board",
		Short:         "Kanban board client for the task service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.close != nil {
				return a.close()
			}
			return nil
		},
	}
	root.SetOut(out)
	bindFlags(root.PersistentFlags())

	root.AddCommand(a.showCmd())
	root.AddCommand(a.syncCmd())
	root.AddCommand(a.moveCmd())
	root.AddCommand(a.createCmd())
	root.AddCommand(a.commentCmd())
	root.AddCommand(a.deleteCmd())
	root.AddCommand(a.historyCmd())
	root.AddCommand(a.whoamiCmd())
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger := log.New()
	logger.SetOutput(cmd.ErrOrStderr())
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	a.logger = logger

	store, closeStore, err := openCache(cfg)
	if err != nil {
		return err
	}
	a.close = closeStore
	a.client = remote.New(cfg.APIURL,
		remote.WithToken(cfg.Token),
		remote.WithOwner(cfg.Owner),
		remote.WithTimeout(cfg.Timeout),
		remote.WithLogger(logger),
	)
	a.board = boardcache.New(store, a.client,
		boardcache.WithFetchTimeout(cfg.Timeout),
		boardcache.WithLogger(logger),
	)
	return nil
}

// load hydrates the board, printing a warning when only a partial view is available.
func (a *app) load(ctx context.Context) error {
	src, err := a.board.Load(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrRemoteUnavailable) {
			return err
		}
		fmt.Fprintf(a.out, "warning: %v; showing an empty board\n", err)
	}
	a.logger.WithField("source", src.String()).Debug("board loaded")
	return nil
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the board from the local cache, fetching it when the cache is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd.Context()); err != nil {
				return err
			}
			renderBoard(a.out, a.board.Snapshot())
			a.warnDegraded()
			return nil
		},
	}
}

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local board with the task service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.load(ctx); err != nil {
				return err
			}
			changed, err := a.board.Refresh(ctx)
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintln(a.out, "board updated")
			} else {
				fmt.Fprintln(a.out, "board already up to date")
			}
			renderBoard(a.out, a.board.Snapshot())
			a.warnDegraded()
			return nil
		},
	}
}

func (a *app) moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <column> [index]",
		Short: "Move a task to a column (todo, inProgress, done), optionally at a position",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			to, err := parseColumn(args[1])
			if err != nil {
				return err
			}
			index := 0
			if len(args) == 3 {
				if index, err = strconv.Atoi(args[2]); err != nil {
					return fmt.Errorf("invalid index %q", args[2])
				}
			}
			if err := a.load(ctx); err != nil {
				return err
			}

			snap := a.board.Snapshot()
			from, srcIndex, ok := snap.Find(args[0])
			if !ok {
				return fmt.Errorf("%w: task %s is not on the board; run board sync", domain.ErrNotFound, args[0])
			}

			engine := drag.NewEngine(a.board, a.client, drag.WithCommitTimeout(a.cfg.Timeout))
			if err := engine.PointerDown(args[0], from, srcIndex, drag.Point{}, drag.Point{}); err != nil {
				return err
			}
			dest := snap.Column(to)
			if len(dest) == 0 {
				engine.EnterColumn(to, 0)
			} else {
				over := ""
				if index >= 0 && index < len(dest) {
					over = dest[index].ID
				}
				engine.PointerEnter(to, index, over)
			}
			moved, err := engine.PointerUp(ctx)
			if err != nil {
				return err
			}
			if !moved {
				fmt.Fprintln(a.out, "task is already there")
				return nil
			}

			engine.Wait()
			select {
			case f := <-engine.Failures():
				return fmt.Errorf("moved locally but the task service did not accept it: %w", f)
			default:
			}
			fmt.Fprintf(a.out, "moved %s to %s\n", args[0], to)
			return nil
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var (
		description string
		priority    string
		status      string
		assignee    string
		due         string
		key         string
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in := domain.NewTask{
				Title:       strings.Join(args, " "),
				Description: description,
				Priority:    priority,
			}
			if status != "" {
				st, err := parseColumn(status)
				if err != nil {
					return err
				}
				in.Status = st
			}
			if assignee != "" {
				in.Assignee = &assignee
			}
			if due != "" {
				d, err := parseDue(due)
				if err != nil {
					return err
				}
				in.DueDate = &d
			}
			if key == "" {
				key = uuid.NewString()
			}

			task, err := a.client.CreateTask(ctx, in, key)
			if err != nil {
				return err
			}
			if err := a.load(ctx); err != nil {
				return err
			}
			a.board.Upsert(ctx, task)
			fmt.Fprintf(a.out, "created %s\n", task.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "priority label (default Medium)")
	cmd.Flags().StringVarP(&status, "status", "s", "", "initial column (default todo)")
	cmd.Flags().StringVarP(&assignee, "assignee", "a", "", "assignee user id")
	cmd.Flags().StringVar(&due, "due", "", "due date, YYYY-MM-DD or RFC 3339")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "retry key; generated when empty")
	return cmd
}

func (a *app) commentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <id> <text>",
		Short: "Comment on a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			comment, err := a.client.AddComment(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if err := a.load(ctx); err != nil {
				return err
			}
			if task, err := a.client.GetTask(ctx, args[0]); err == nil {
				a.board.Upsert(ctx, task)
			}
			fmt.Fprintf(a.out, "comment %s added\n", comment.ID)
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.client.DeleteTask(ctx, args[0]); err != nil {
				return err
			}
			if err := a.load(ctx); err != nil {
				return err
			}
			a.board.Remove(ctx, args[0])
			fmt.Fprintf(a.out, "deleted %s\n", args[0])
			return nil
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Print the activity log of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.client.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderActivities(a.out, task)
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the user identified by the configured token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.client.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s <%s> (%s)\n", u.Name, u.Email, u.ID)
			return nil
		},
	}
}

func (a *app) warnDegraded() {
	if a.board.Degraded() {
		fmt.Fprintln(a.out, "warning: local cache is not writable; changes are kept in memory only")
	}
}

func parseColumn(raw string) (domain.Status, error) {
	switch strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(raw)) {
	case "todo":
		return domain.StatusTodo, nil
	case "inprogress", "doing":
		return domain.StatusInProgress, nil
	case "done":
		return domain.StatusDone, nil
	}
	return "", fmt.Errorf("%w: unknown column %q", domain.ErrValidation, raw)
}

func parseDue(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid due date %q", domain.ErrValidation, raw)
	}
	return t, nil
}
