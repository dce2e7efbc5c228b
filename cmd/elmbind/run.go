package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"elmbind/internal/buildpipeline"
	"elmbind/internal/elmc"
	"elmbind/internal/jsrt"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <Module.function>",
	Short: "Compile an Elm function and call it once",
	Long: `Generate a port module for an Elm function taking and returning
Json.Encode.Value, compile it with elm make, rewrite the bundle, and call the
function with the --input JSON value.`,
	Args: cobra.ExactArgs(1),
	RunE: runFunction,
}

func init() {
	runCmd.Flags().String("input", "", "JSON value passed to the function (default null)")
	runCmd.Flags().String("root", "", "directory holding the Elm sources (default from elmbind.toml or src)")
	runCmd.Flags().Duration("timeout", 0, "give up waiting for output after this long (0=wait forever)")
	runCmd.Flags().Bool("debug-files", false, "keep the generated binding, bundle and module")
	runCmd.Flags().Bool("no-optimize", false, "compile without --optimize")
	runCmd.Flags().Bool("print-commands", false, "print compiler commands")
	runCmd.Flags().Bool("cache", false, "use the rewrite cache")
	runCmd.Flags().Bool("console", false, "forward console.log to stderr")
}

func runFunction(cmd *cobra.Command, args []string) error {
	inputJSON, err := cmd.Flags().GetString("input")
	if err != nil {
		return fmt.Errorf("failed to get input flag: %w", err)
	}
	rootFlag, err := cmd.Flags().GetString("root")
	if err != nil {
		return fmt.Errorf("failed to get root flag: %w", err)
	}
	debugFiles, err := cmd.Flags().GetBool("debug-files")
	if err != nil {
		return fmt.Errorf("failed to get debug-files flag: %w", err)
	}
	noOptimize, err := cmd.Flags().GetBool("no-optimize")
	if err != nil {
		return fmt.Errorf("failed to get no-optimize flag: %w", err)
	}
	printCommands, err := cmd.Flags().GetBool("print-commands")
	if err != nil {
		return fmt.Errorf("failed to get print-commands flag: %w", err)
	}
	console, err := cmd.Flags().GetBool("console")
	if err != nil {
		return fmt.Errorf("failed to get console flag: %w", err)
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}

	manifest, err := loadManifest(cmd)
	if err != nil {
		return err
	}
	timeout, err := resolveTimeout(cmd, manifest.Config.Run.RunTimeout)
	if err != nil {
		return err
	}
	input, err := parseJSONFlag("--input", inputJSON)
	if err != nil {
		return err
	}
	dir := rootFlag
	if dir == "" {
		if dir, err = manifest.ElmRoot(); err != nil {
			return err
		}
	}
	if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
		return fmt.Errorf("source root %s is not a directory", dir)
	}
	store, err := openCache(cmd, manifest)
	if err != nil {
		return err
	}

	root := &buildpipeline.Root{
		Dir: dir,
		Compiler: elmc.Make{
			Binary:        manifest.Config.Elm.Compiler,
			PrintCommands: printCommands,
		},
		Optimize: manifest.Config.Elm.Optimize && !noOptimize,
		Debug:    debugFiles,
		Cache:    store,
		Runtime:  jsrt.Options{Console: console},
	}

	ctx := cmd.Context()
	fn, err := buildpipeline.Prepare[json.RawMessage, json.RawMessage](ctx, root, args[0])
	if err != nil {
		return err
	}
	defer fn.Close()

	callCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()
	out, err := fn.Call(callCtx, input)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd, out); err != nil {
		return err
	}
	if showTimings {
		return printStageTimings(cmd.ErrOrStderr(), fn.Timings)
	}
	return nil
}
