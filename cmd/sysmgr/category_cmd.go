package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/sysmgr/internal/batch"
	"github.com/breeze-rmm/sysmgr/internal/engine"
	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/privilege"
)

// batchFailedError means the batch ran but at least one item failed.
type batchFailedError struct {
	failed, total int
}

func (e *batchFailedError) Error() string {
	return fmt.Sprintf("%d of %d items failed", e.failed, e.total)
}

var categoryAliases = map[inventory.Category][]string{
	inventory.Services:  {"service", "svc"},
	inventory.Tasks:     {"task"},
	inventory.Processes: {"process", "ps"},
}

func categoryCmd(c inventory.Category) *cobra.Command {
	cmd := &cobra.Command{
		Use:     string(c),
		Aliases: categoryAliases[c],
		Short:   fmt.Sprintf("List and control %s", c),
	}

	var listFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %s", c),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := current.startEngine(cmd.Context())
			if err := refreshAndFilter(cmd, eng, c, listFilter); err != nil {
				return err
			}
			v, err := eng.View(cmd.Context(), c)
			if err != nil {
				return err
			}
			return current.renderer().View(v)
		},
	}
	list.Flags().StringVarP(&listFilter, "filter", "f", "", "show only items containing this text")
	cmd.AddCommand(list)

	for _, a := range batch.ActionsFor(c) {
		cmd.AddCommand(actionCmd(c, a))
	}
	return cmd
}

func actionCmd(c inventory.Category, a batch.Action) *cobra.Command {
	var (
		all    bool
		filter string
	)
	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s [%s...]", a, strings.ToUpper(c.Singular())),
		Short: fmt.Sprintf("%s the given %s", a.Title(), c),
		Long: fmt.Sprintf(`%s the given %s. With --all every item matching --filter is targeted.
Items are identified by %s.`, a.Title(), c, keyDescription(c)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("name the items to act on or pass --all")
			}
			if w := privilege.Warning(c, a, privilege.IsElevated()); w != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			eng := current.startEngine(cmd.Context())
			return runAction(cmd, eng, current.renderer(), c, a, all, filter, args)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "act on every listed item")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "with --all, only items containing this text")
	return cmd
}

func keyDescription(c inventory.Category) string {
	switch c {
	case inventory.Services:
		return "service name"
	case inventory.Tasks:
		return `full task path, for example \Microsoft\Windows\Defrag\ScheduledDefrag`
	}
	return "process id"
}

// runAction refreshes, narrows and selects, then runs one batch. An empty
// selection is not a failure: the executor has already said so on the
// status line.
func runAction(cmd *cobra.Command, eng engineAPI, r renderer, c inventory.Category, a batch.Action, all bool, filter string, keys []string) error {
	ctx := cmd.Context()
	if err := refreshAndFilter(cmd, eng, c, filter); err != nil {
		return err
	}
	if all {
		if _, err := eng.SelectAll(ctx, c, true); err != nil {
			return err
		}
	}
	res, err := eng.ExecuteBatch(ctx, c, a, keys...)
	if errors.Is(err, batch.ErrNoSelection) {
		return nil
	}
	if err != nil {
		return err
	}
	return renderBatch(r, res)
}

func refreshAndFilter(cmd *cobra.Command, eng engineAPI, c inventory.Category, filter string) error {
	if _, err := eng.Refresh(cmd.Context(), c); err != nil {
		return err
	}
	if filter == "" {
		return nil
	}
	_, err := eng.SetFilter(cmd.Context(), c, filter)
	return err
}

// renderBatch prints the report and turns item failures into an error so
// the exit status reflects them.
func renderBatch(r renderer, res *engine.BatchResult) error {
	if err := r.Report(res.Report, res.State); err != nil {
		return err
	}
	if n := res.Report.Failed(); n > 0 {
		return &batchFailedError{failed: n, total: len(res.Report.Outcomes)}
	}
	return nil
}

var openFolderCmd = &cobra.Command{
	Use:   "open-folder CATEGORY KEY",
	Short: "Open the folder holding an item's executable",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ok := inventory.ParseCategory(args[0])
		if !ok {
			return fmt.Errorf("unknown category %q", args[0])
		}
		eng := current.startEngine(cmd.Context())
		if _, err := eng.Refresh(cmd.Context(), c); err != nil {
			return err
		}
		dir, err := eng.OpenFolder(cmd.Context(), c, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), dir)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Load every category and report which could not be read",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng := current.startEngine(cmd.Context())
		// Failures land in the health checks.
		_, _ = eng.RefreshAll(cmd.Context())
		return current.renderer().Health(eng.HealthOverall(), eng.Health())
	},
}
