package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/sysmgr/internal/batch"
	"github.com/breeze-rmm/sysmgr/internal/config"
	"github.com/breeze-rmm/sysmgr/internal/engine"
	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/health"
	"github.com/breeze-rmm/sysmgr/internal/logging"
	"github.com/breeze-rmm/sysmgr/internal/privilege"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive operator console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng := current.startEngine(ctx)
		cats := eng.Categories()
		if len(cats) == 0 {
			return errors.New("no categories enabled")
		}
		con := &console{
			eng:      eng,
			in:       current.in,
			out:      cmd.OutOrStdout(),
			render:   current.renderer(),
			category: cats[0],
			elevated: privilege.IsElevated(),
		}
		if current.loader.Watch(con.applyConfig) {
			log.Debug("watching config file", "file", current.loader.FileUsed())
		}
		// Failures are already on the status line.
		_, _ = eng.RefreshAll(ctx)
		return con.run(ctx)
	},
}

// engineAPI is the slice of the engine the console drives.
type engineAPI interface {
	Categories() []inventory.Category
	Refresh(ctx context.Context, c inventory.Category) (inventory.ViewState, error)
	RefreshAll(ctx context.Context) (map[inventory.Category]inventory.ViewState, error)
	SetFilter(ctx context.Context, c inventory.Category, query string) (inventory.ViewState, error)
	SetSelected(ctx context.Context, c inventory.Category, key string, selected bool) (inventory.ViewState, error)
	SelectAll(ctx context.Context, c inventory.Category, selected bool) (inventory.ViewState, error)
	View(ctx context.Context, c inventory.Category) (engine.View, error)
	ExecuteBatch(ctx context.Context, c inventory.Category, a batch.Action, keys ...string) (*engine.BatchResult, error)
	OpenFolder(ctx context.Context, c inventory.Category, key string) (string, error)
	SetControlTimeout(d time.Duration)
	Health() []health.Check
	HealthOverall() health.Status
}

type console struct {
	eng      engineAPI
	in       *lineReader
	out      io.Writer
	render   renderer
	category inventory.Category
	elevated bool
}

const consoleHelp = `Commands:
  use CATEGORY            switch to services, tasks or processes
  refresh [all]           reload the current category, or every category
  list                    show the filtered view
  filter [TEXT]           filter by text; no text clears the filter
  select KEY...           select items (quote keys containing spaces)
  unselect KEY...         clear the selection of items
  select-all              select every visible item
  select-none             clear the selection of every visible item
  ACTION [KEY...]         run an action on KEYs, or on the visible selection
  open KEY                open the folder holding the item's executable
  timeout SECONDS         change the per-item control timeout
  health                  show whether each category could be loaded
  help                    show this text
  quit                    leave the console
`

func (c *console) run(ctx context.Context) error {
	fmt.Fprint(c.out, consoleHelp)
	c.printActions()
	for {
		fmt.Fprintf(c.out, "%s> ", c.category)
		line, err := c.in.ReadLine(ctx)
		if err != nil {
			fmt.Fprintln(c.out)
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if quit := c.exec(ctx, line); quit {
			return nil
		}
	}
}

func (c *console) printActions() {
	names := make([]string, 0, 5)
	for _, a := range batch.ActionsFor(c.category) {
		names = append(names, string(a))
	}
	fmt.Fprintf(c.out, "Actions for %s: %s\n", c.category, strings.Join(names, ", "))
}

// exec runs one console line and reports whether the operator asked to quit.
func (c *console) exec(ctx context.Context, line string) bool {
	args, err := splitArgs(line)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return false
	}
	if len(args) == 0 {
		return false
	}
	cmd, rest := strings.ToLower(args[0]), args[1:]

	if err := c.dispatch(ctx, cmd, rest, line); err != nil {
		if errors.Is(err, errQuit) {
			return true
		}
		c.reportError(err)
	}
	return false
}

var errQuit = errors.New("quit")

func (c *console) dispatch(ctx context.Context, cmd string, args []string, line string) error {
	switch cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		fmt.Fprint(c.out, consoleHelp)
		c.printActions()
		return nil
	case "use":
		if len(args) != 1 {
			return errors.New("usage: use CATEGORY")
		}
		return c.use(args[0])
	case "refresh":
		if len(args) == 1 && args[0] == "all" {
			_, err := c.eng.RefreshAll(ctx)
			return err
		}
		_, err := c.eng.Refresh(ctx, c.category)
		return err
	case "list", "ls", "view":
		v, err := c.eng.View(ctx, c.category)
		if err != nil {
			return err
		}
		return c.render.View(v)
	case "filter":
		st, err := c.eng.SetFilter(ctx, c.category, rawRest(line))
		if err == nil {
			fmt.Fprintln(c.out, st)
		}
		return err
	case "select", "unselect":
		if len(args) == 0 {
			return fmt.Errorf("usage: %s KEY...", cmd)
		}
		var st inventory.ViewState
		for _, key := range args {
			var err error
			if st, err = c.eng.SetSelected(ctx, c.category, key, cmd == "select"); err != nil {
				return err
			}
		}
		fmt.Fprintln(c.out, st)
		return nil
	case "select-all", "select-none":
		st, err := c.eng.SelectAll(ctx, c.category, cmd == "select-all")
		if err == nil {
			fmt.Fprintln(c.out, st)
		}
		return err
	case "open":
		if len(args) != 1 {
			return errors.New("usage: open KEY")
		}
		_, err := c.eng.OpenFolder(ctx, c.category, args[0])
		return err
	case "timeout":
		if len(args) != 1 {
			return errors.New("usage: timeout SECONDS")
		}
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs < 1 {
			return fmt.Errorf("invalid timeout %q", args[0])
		}
		c.eng.SetControlTimeout(time.Duration(secs) * time.Second)
		fmt.Fprintf(c.out, "Control timeout set to %ds\n", secs)
		return nil
	case "health":
		return c.render.Health(c.eng.HealthOverall(), c.eng.Health())
	}

	if cat, ok := inventory.ParseCategory(cmd); ok && len(args) == 0 {
		return c.use(string(cat))
	}
	if action, ok := batch.ParseAction(cmd); ok {
		if w := privilege.Warning(c.category, action, c.elevated); w != "" {
			fmt.Fprintf(c.out, "warning: %s\n", w)
		}
		res, err := c.eng.ExecuteBatch(ctx, c.category, action, args...)
		if err != nil {
			return err
		}
		return c.render.Report(res.Report, res.State)
	}
	return fmt.Errorf("unknown command %q (type help)", cmd)
}

func (c *console) use(name string) error {
	cat, ok := inventory.ParseCategory(name)
	if !ok {
		return fmt.Errorf("unknown category %q", name)
	}
	for _, enabled := range c.eng.Categories() {
		if enabled == cat {
			c.category = cat
			c.printActions()
			return nil
		}
	}
	return fmt.Errorf("%s: %w", cat, engine.ErrUnknownCategory)
}

// reportError prints failures the status line has not already shown.
func (c *console) reportError(err error) {
	switch {
	case errors.Is(err, batch.ErrNoSelection):
		// The executor already asked for a selection.
	case errors.Is(err, batch.ErrDeclined):
		fmt.Fprintln(c.out, "Cancelled.")
	default:
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}

// applyConfig receives reloaded configuration from the file watcher.
func (c *console) applyConfig(cfg *config.Config, err error) {
	if err != nil {
		log.Warn("config reload failed", logging.KeyError, err.Error())
		return
	}
	for _, w := range cfg.ValidateTiered().Warnings {
		log.Warn("config validation", logging.KeyError, w.Error())
	}
	c.eng.SetControlTimeout(cfg.ControlTimeout())
	log.Info("config reloaded", "controlTimeout", cfg.ControlTimeout().String())
}

// rawRest returns everything after the first word of line, unsplit.
func rawRest(line string) string {
	line = strings.TrimSpace(line)
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return ""
	}
	return strings.Trim(strings.TrimSpace(line[i:]), `"`)
}

// splitArgs splits a console line on whitespace. Double quotes group words
// so task paths with spaces can be passed as one key; backslashes are kept
// literally.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		inWord  bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			inWord = true
		case !inQuote && (r == ' ' || r == '\t'):
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inQuote {
		return nil, errors.New("unterminated quote")
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}
