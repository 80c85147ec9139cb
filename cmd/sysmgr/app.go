package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/sysmgr/internal/audit"
	"github.com/breeze-rmm/sysmgr/internal/batch"
	"github.com/breeze-rmm/sysmgr/internal/config"
	"github.com/breeze-rmm/sysmgr/internal/engine"
	"github.com/breeze-rmm/sysmgr/internal/logging"
	"github.com/breeze-rmm/sysmgr/internal/platform"
	"github.com/breeze-rmm/sysmgr/internal/status"
)

var log = logging.L("cli")

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	loader *config.Loader
	cfg    *config.Config
	in     *lineReader
	out    io.Writer
	errOut io.Writer

	logCloser io.Closer
	trail     *audit.Logger
	eng       *engine.Engine
}

var current *app

func setup(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile, cmd.Flags())
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	w, closer, err := logging.Output(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, w)

	result := cfg.ValidateTiered()
	for _, warn := range result.Warnings {
		log.Warn("config validation", logging.KeyError, warn.Error())
	}
	if result.HasFatals() {
		_ = closer.Close()
		return fmt.Errorf("invalid config: %w", errors.Join(result.Fatals...))
	}
	if used := loader.FileUsed(); used != "" {
		log.Debug("config loaded", "file", used)
	}

	var trail *audit.Logger
	if cfg.AuditFile != "" {
		if trail, err = audit.Open(cfg.AuditFile, cfg.AuditMaxSizeMB, cfg.AuditMaxBackups); err != nil {
			_ = closer.Close()
			return fmt.Errorf("failed to open audit trail: %w", err)
		}
	}

	current = &app{
		loader:    loader,
		cfg:       cfg,
		in:        newLineReader(cmd.InOrStdin()),
		out:       cmd.OutOrStdout(),
		errOut:    cmd.ErrOrStderr(),
		logCloser: closer,
		trail:     trail,
	}
	return nil
}

func teardown() {
	if current == nil {
		return
	}
	if current.eng != nil {
		if err := current.eng.Close(); err != nil {
			log.Warn("engine close", logging.KeyError, err.Error())
		}
	}
	if n := current.trail.DroppedCount(); n > 0 {
		log.Warn("audit entries dropped", "count", n)
	}
	if err := current.trail.Close(); err != nil {
		log.Warn("audit close", logging.KeyError, err.Error())
	}
	if current.logCloser != nil {
		_ = current.logCloser.Close()
	}
	current = nil
}

// startEngine starts the interaction loop over the native platform on first use.
func (a *app) startEngine(ctx context.Context) *engine.Engine {
	if a.eng != nil {
		return a.eng
	}
	reporter := status.Multi(status.LogReporter{}, newStatusPrinter(a.errOut))
	var confirmer batch.Confirmer = batch.AutoConfirm
	if !a.cfg.AssumeYes {
		confirmer = &promptConfirmer{in: a.in, out: a.errOut}
	}
	a.eng = engine.FromPlatform(ctx, platform.Native(), a.cfg, batch.Options{
		Confirmer: confirmer,
		Reporter:  reporter,
		Audit:     a.trail,
	})
	return a.eng
}

func (a *app) renderer() renderer {
	return newRenderer(a.cfg.OutputFormat, a.out)
}
