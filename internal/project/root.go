package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ManifestName is the project configuration file looked up by the CLI.
const ManifestName = "elmbind.toml"

// FindManifest walks up from startDir to locate elmbind.toml.
func FindManifest(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, ManifestName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// resolveWithin resolves a manifest-relative path and rejects paths that
// escape the project root.
func resolveWithin(root, rel, key string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("invalid %s: empty path", key)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid %s %q: must be relative", key, rel)
	}
	path := filepath.Join(root, filepath.Clean(filepath.FromSlash(rel)))
	if !pathWithin(root, path) {
		return "", fmt.Errorf("invalid %s %q: escapes project root", key, rel)
	}
	return path, nil
}

func pathWithin(root, path string) bool {
	if root == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
