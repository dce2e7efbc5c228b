package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"elmbind/internal/cache"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove cached rewrites",
	Long:  "Remove every entry of the rewrite cache used by the current project.",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func runClean(cmd *cobra.Command, _ []string) error {
	manifest, err := loadManifest(cmd)
	if err != nil {
		return err
	}
	dir, err := cacheDir(manifest)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(cmd.OutOrStdout(), "cache directory not found")
			return nil
		}
		return fmt.Errorf("failed to stat %q: %w", dir, err)
	}
	store, err := cache.Open(dir)
	if err != nil {
		return err
	}
	n, err := store.Len()
	if err != nil {
		return err
	}
	if err := store.DropAll(); err != nil {
		return fmt.Errorf("failed to clear cache %q: %w", dir, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached rewrites from %s\n", n, formatPathForOutput(manifest.Root, dir))
	return nil
}
