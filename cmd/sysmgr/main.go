package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/sysmgr/internal/config"
	"github.com/breeze-rmm/sysmgr/internal/inventory"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "sysmgr",
	Short: "Services, scheduled tasks and processes manager",
	Long: `sysmgr - inventory and batch control of background services, scheduled tasks
and running processes on the local machine`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sysmgr v%s\n", version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-file", "", "also write logs to this file, rotated by size")
	pf.BoolP("yes", "y", false, "do not ask for confirmation before a batch")
	pf.StringP("output", "o", "", "output format: table, yaml, json")
	pf.Int("timeout", 0, "seconds each service state change may take")
	pf.String("audit-file", "", "append a hash-chained record of every batch to this file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(openFolderCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(configCmd)
	for _, c := range inventory.Categories {
		rootCmd.AddCommand(categoryCmd(c))
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	teardown()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		var failed *batchFailedError
		if errors.As(err, &failed) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
