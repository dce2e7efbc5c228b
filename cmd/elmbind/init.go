package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"elmbind/internal/project"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default elmbind.toml",
	Long: `Write an elmbind.toml carrying the default settings into [path], or
the current directory when it is omitted. The directory is created when it
does not exist.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing elmbind.toml")
}

func runInit(cmd *cobra.Command, args []string) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}
	target := "."
	if len(args) > 0 && args[0] != "" {
		target = args[0]
	}
	target, err = filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", target, err)
	}

	if st, err := os.Stat(target); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := os.MkdirAll(target, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %q: %w", target, err)
		}
	} else if !st.IsDir() {
		return fmt.Errorf("%q is not a directory", target)
	}

	manifestPath := filepath.Join(target, project.ManifestName)
	if _, err := os.Stat(manifestPath); err == nil && !force {
		return fmt.Errorf("project already initialized: %s exists", manifestPath)
	}
	if err := os.WriteFile(manifestPath, []byte(project.Template()), 0o600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	rel := target
	if wd, err := os.Getwd(); err == nil {
		rel = formatPathForOutput(wd, target)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized elmbind project in %s\n", rel)
	fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", project.ManifestName)
	return nil
}
