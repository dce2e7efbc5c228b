package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"elmbind/internal/buildpipeline"
	"elmbind/internal/project"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [flags] [bundle.js...]",
	Short: "Rewrite compiled Elm bundles into ES modules",
	Long: `Rewrite compiled Elm bundles into ES modules exporting Elm.

Without arguments the [rewrite] input of elmbind.toml is rewritten into its
output (binding.js into binding2.js by default). A single bundle may be
written to --output; several bundles are written next to their inputs as
<name>2.js, or into --out-dir.`,
	RunE: runRewrite,
}

func init() {
	rewriteCmd.Flags().StringP("output", "o", "", "output file for a single bundle")
	rewriteCmd.Flags().String("out-dir", "", "directory receiving rewritten modules")
	rewriteCmd.Flags().Int("jobs", 0, "max parallel rewrites (0=auto)")
	rewriteCmd.Flags().Bool("verify", false, "re-parse each module and check its export")
	rewriteCmd.Flags().Bool("cache", false, "use the rewrite cache")
	rewriteCmd.Flags().String("ui", "auto", "user interface (auto|on|off)")
}

func runRewrite(cmd *cobra.Command, args []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	outDir, err := cmd.Flags().GetString("out-dir")
	if err != nil {
		return fmt.Errorf("failed to get out-dir flag: %w", err)
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return fmt.Errorf("failed to get jobs flag: %w", err)
	}
	verify, err := cmd.Flags().GetBool("verify")
	if err != nil {
		return fmt.Errorf("failed to get verify flag: %w", err)
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	progress, err := parseProgressUI(uiValue)
	if err != nil {
		return err
	}
	if output != "" && len(args) > 1 {
		return fmt.Errorf("--output takes a single bundle, got %d", len(args))
	}
	if output != "" && outDir != "" {
		return fmt.Errorf("--output and --out-dir are mutually exclusive")
	}

	manifest, err := loadManifest(cmd)
	if err != nil {
		return err
	}
	inputs, output := rewriteTargets(manifest, args, output, outDir)
	store, err := openCache(cmd, manifest)
	if err != nil {
		return err
	}

	req := buildpipeline.RewriteRequest{
		Inputs: inputs,
		Output: output,
		OutDir: outDir,
		Jobs:   jobs,
		Verify: verify,
		Cache:  store,
	}
	var results []buildpipeline.RewriteResult
	if progress.enabled(quiet, len(inputs)) {
		results, err = runRewriteWithUI(cmd.Context(), "elmbind rewrite", req)
	} else {
		results, err = buildpipeline.RewriteFiles(cmd.Context(), req)
	}

	out := cmd.OutOrStdout()
	wd, _ := os.Getwd()
	var timings buildpipeline.Timings
	for _, r := range results {
		if r.Err != nil || r.Output == "" {
			continue
		}
		timings.Add(buildpipeline.StageRewrite, r.Elapsed)
		if quiet {
			continue
		}
		note := ""
		if r.Cached {
			note = " (cached)"
		}
		fmt.Fprintf(out, "wrote %s%s\n", formatPathForOutput(wd, r.Output), note)
		if r.Export != "" {
			fmt.Fprintf(out, "  export: %s\n", r.Export)
		}
	}
	if showTimings {
		if timingErr := printStageTimings(cmd.ErrOrStderr(), timings); timingErr != nil {
			return timingErr
		}
	}
	return err
}

// rewriteTargets resolves the inputs and the single-file output. With no
// arguments the manifest's [rewrite] input and output are used.
func rewriteTargets(manifest *project.Manifest, args []string, output, outDir string) ([]string, string) {
	if len(args) > 0 {
		return args, output
	}
	input := manifest.Resolve(manifest.Config.Rewrite.Input)
	if output == "" && outDir == "" {
		output = manifest.Resolve(manifest.Config.Rewrite.Output)
	}
	return []string{input}, output
}
