package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"elmbind/internal/buildpipeline"
	"elmbind/internal/driver"
	"elmbind/internal/jsrt"
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] <module.mjs>",
	Short: "Run a rewritten module once and print its first output",
	Long: `Load a rewritten ES module, initialize the program at --init with the
--flags JSON value, and print the first value it sends on --port.`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().String("flags", "", "JSON flags, passed to init as {\"flags\": ...} (default null)")
	execCmd.Flags().String("config", "", "JSON value passed to init verbatim instead of --flags")
	execCmd.Flags().String("init", "", "accessor path of the initializer (default from elmbind.toml or Elm.Binding)")
	execCmd.Flags().String("port", "", "output port name (default from elmbind.toml or out)")
	execCmd.Flags().Duration("timeout", 0, "give up waiting for output after this long (0=wait forever)")
	execCmd.Flags().Bool("console", false, "forward console.log to stderr")
	execCmd.Flags().Bool("list", false, "print the module's exports and exit")
}

func runExec(cmd *cobra.Command, args []string) error {
	flagsJSON, err := cmd.Flags().GetString("flags")
	if err != nil {
		return fmt.Errorf("failed to get flags flag: %w", err)
	}
	configJSON, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	initPath, err := cmd.Flags().GetString("init")
	if err != nil {
		return fmt.Errorf("failed to get init flag: %w", err)
	}
	portName, err := cmd.Flags().GetString("port")
	if err != nil {
		return fmt.Errorf("failed to get port flag: %w", err)
	}
	console, err := cmd.Flags().GetBool("console")
	if err != nil {
		return fmt.Errorf("failed to get console flag: %w", err)
	}
	list, err := cmd.Flags().GetBool("list")
	if err != nil {
		return fmt.Errorf("failed to get list flag: %w", err)
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}

	manifest, err := loadManifest(cmd)
	if err != nil {
		return err
	}
	if initPath == "" {
		initPath = manifest.Config.Run.Init
	}
	if portName == "" {
		portName = manifest.Config.Run.Port
	}
	timeout, err := resolveTimeout(cmd, manifest.Config.Run.RunTimeout)
	if err != nil {
		return err
	}
	config, err := execConfig(flagsJSON, configJSON)
	if err != nil {
		return err
	}

	modulePath := args[0]
	// #nosec G304 -- the module path is the command argument
	moduleText, err := os.ReadFile(modulePath)
	if err != nil {
		return fmt.Errorf("failed to read module: %w", err)
	}

	ctx := cmd.Context()
	var timings buildpipeline.Timings
	start := time.Now()
	rt, err := jsrt.Load(ctx, filepath.Base(modulePath), moduleText, jsrt.Options{Console: console})
	if err != nil {
		return err
	}
	defer rt.Close()
	timings.Set(buildpipeline.StageLoad, time.Since(start))
	if list {
		names, err := rt.Exports(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}

	start = time.Now()
	future, err := driver.Run(ctx, rt, config, driver.Options{Path: initPath, Port: portName})
	if err != nil {
		return err
	}
	waitCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()
	value, err := future.Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("no value on port %q: %w", portName, err)
	}
	timings.Set(buildpipeline.StageRun, time.Since(start))
	zerolog.Ctx(ctx).Debug().Str("init", initPath).Str("port", portName).Int("bytes", len(value)).Msg("received output")

	if err := writeJSON(cmd, value); err != nil {
		return err
	}
	if showTimings {
		return printStageTimings(cmd.ErrOrStderr(), timings)
	}
	return nil
}

// execConfig builds the init configuration from --flags or --config.
func execConfig(flagsJSON, configJSON string) (json.RawMessage, error) {
	if configJSON != "" {
		if flagsJSON != "" {
			return nil, fmt.Errorf("--flags and --config are mutually exclusive")
		}
		return parseJSONFlag("--config", configJSON)
	}
	flags, err := parseJSONFlag("--flags", flagsJSON)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Flags json.RawMessage `json:"flags"`
	}{flags})
}

// parseJSONFlag validates a JSON flag value. An empty value is null.
func parseJSONFlag(name, value string) (json.RawMessage, error) {
	if value == "" {
		return json.RawMessage("null"), nil
	}
	if !json.Valid([]byte(value)) {
		return nil, fmt.Errorf("%s is not valid JSON: %s", name, value)
	}
	return json.RawMessage(value), nil
}

// resolveTimeout prefers --timeout over the manifest's [run].timeout.
func resolveTimeout(cmd *cobra.Command, fromManifest func() (time.Duration, error)) (time.Duration, error) {
	if f := cmd.Flags().Lookup("timeout"); f != nil && f.Changed {
		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return 0, fmt.Errorf("failed to get timeout flag: %w", err)
		}
		if timeout < 0 {
			return 0, fmt.Errorf("--timeout must not be negative")
		}
		return timeout, nil
	}
	return fromManifest()
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func writeJSON(cmd *cobra.Command, value json.RawMessage) error {
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(value)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
