package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Mosberg/entomology/internal/admin"
	"github.com/Mosberg/entomology/internal/app"
	"github.com/Mosberg/entomology/internal/core/observability/log"
	"github.com/Mosberg/entomology/internal/injector"
)

// errInvalidConfiguration makes validate and check exit non-zero after printing the report.
var errInvalidConfiguration = errors.New("configuration is invalid")

var (
	settingsPath string
	adminAddr    string

	rootCmd = &cobra.Command{
		Use:           "entomology",
		Short:         "Run and administer the entomology mechanics runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start the runtime and serve the admin endpoints until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
	reloadCmd = &cobra.Command{
		Use:   "reload",
		Short: "Ask a running process to reload its configuration",
		Args:  cobra.NoArgs,
		RunE:  runReload,
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print telemetry and mechanic statistics of a running process",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration loaded by a running process",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration files offline without changing them",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "config", "c", "", "settings file (YAML)")
	for _, cmd := range []*cobra.Command{reloadCmd, statsCmd, validateCmd} {
		cmd.Flags().StringVar(&adminAddr, "admin", "", "admin address of the running process (default from settings)")
	}
	rootCmd.AddCommand(runCmd, reloadCmd, statsCmd, validateCmd, checkCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	settings, err := app.LoadSettings(settingsPath)
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := injector.InitializeApp(ctx, settings)
	if err != nil {
		return err
	}
	defer cleanup()
	return a.Run(ctx)
}

func client() (*admin.Client, error) {
	addr := adminAddr
	if addr == "" {
		settings, err := app.LoadSettings(settingsPath)
		if err != nil {
			return nil, err
		}
		addr = settings.AdminAddr
	}
	if addr == "" {
		return nil, errors.New("no admin address configured")
	}
	return admin.NewClient(addr), nil
}

func runReload(cmd *cobra.Command, _ []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	if err := c.Reload(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration reloaded")
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	stats, err := c.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), stats)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	report, err := c.Validate(cmd.Context())
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.OK {
		return errInvalidConfiguration
	}
	return nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	settings, err := app.LoadSettings(settingsPath)
	if err != nil {
		return err
	}
	level, err := log.ParseLevel(settings.LogLevel)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report, checkErr := app.Check(ctx, settings, log.New(level))
	if report.Documents != nil {
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	}
	if checkErr != nil {
		return checkErr
	}
	if !report.OK {
		return errInvalidConfiguration
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
