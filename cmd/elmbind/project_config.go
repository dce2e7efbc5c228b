package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"elmbind/internal/cache"
	"elmbind/internal/project"
)

// loadManifest returns the manifest above the working directory, or a
// manifest rooted at the working directory carrying the defaults.
func loadManifest(cmd *cobra.Command) (*project.Manifest, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	manifest, ok, err := project.LoadManifest(wd)
	if err != nil {
		return nil, err
	}
	if !ok {
		zerolog.Ctx(cmd.Context()).Debug().Msg("no " + project.ManifestName + " found, using defaults")
		return &project.Manifest{Root: wd, Config: project.DefaultConfig()}, nil
	}
	zerolog.Ctx(cmd.Context()).Debug().Str("path", manifest.Path).Msg("loaded manifest")
	return manifest, nil
}

// openCache opens the rewrite cache when --cache or [cache].enabled asks
// for it. A nil cache disables caching.
func openCache(cmd *cobra.Command, manifest *project.Manifest) (*cache.Cache, error) {
	enabled := manifest.Config.Cache.Enabled
	if f := cmd.Flags().Lookup("cache"); f != nil && f.Changed {
		flagValue, err := cmd.Flags().GetBool("cache")
		if err != nil {
			return nil, fmt.Errorf("failed to get cache flag: %w", err)
		}
		enabled = flagValue
	}
	if !enabled {
		return nil, nil
	}
	dir, err := cacheDir(manifest)
	if err != nil {
		return nil, err
	}
	return cache.Open(dir)
}

// cacheDir is [cache].dir inside a project, or the user cache directory
// when no manifest was found.
func cacheDir(manifest *project.Manifest) (string, error) {
	if manifest.Path == "" {
		return cache.DefaultDir("elmbind")
	}
	return manifest.CacheDir()
}

func formatPathForOutput(root, path string) string {
	if root == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
