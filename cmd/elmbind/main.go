// Package main implements the elmbind CLI.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"elmbind/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "elmbind",
	Short: "Call compiled Elm programs from Go",
	Long: `elmbind rewrites compiled Elm bundles into ES modules and runs them
with a single configuration value, returning the first value sent on
their output port.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setupCommand,
	PersistentPostRunE: teardownCommand,
}

// cleanups run after the command, in reverse order.
var cleanups []func()

func init() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(rewriteCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("trace", "", "write trace events to a file (- for stderr)")
	rootCmd.PersistentFlags().String("trace-level", "off", "trace level (off|command|stage|step)")
	rootCmd.PersistentFlags().String("trace-format", "auto", "trace format (auto|text|ndjson)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		runCleanups()
		printError(err)
		os.Exit(1)
	}
}

func setupCommand(cmd *cobra.Command, _ []string) error {
	colorMode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return fmt.Errorf("failed to get color flag: %w", err)
	}
	if err := applyColorMode(colorMode); err != nil {
		return err
	}
	if err := setupLogging(cmd); err != nil {
		return err
	}
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, cleanup)
	return nil
}

func teardownCommand(*cobra.Command, []string) error {
	runCleanups()
	return nil
}

func runCleanups() {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
}

func setupLogging(cmd *cobra.Command) error {
	debug, err := cmd.Root().PersistentFlags().GetBool("debug")
	if err != nil {
		return fmt.Errorf("failed to get debug flag: %w", err)
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	level := zerolog.InfoLevel
	switch {
	case debug:
		level = zerolog.DebugLevel
	case quiet:
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        cmd.ErrOrStderr(),
		NoColor:    color.NoColor,
		TimeFormat: "15:04:05.000",
	}).Level(level).With().Timestamp().Logger()
	cmd.SetContext(logger.WithContext(cmd.Context()))
	return nil
}

func applyColorMode(mode string) error {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		color.NoColor = !isTerminal(os.Stdout) || os.Getenv("NO_COLOR") != ""
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
	}
	return nil
}

func printError(err error) {
	red := color.New(color.FgRed, color.Bold)
	fmt.Fprintf(os.Stderr, "%s %v\n", red.Sprint("error:"), err)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
