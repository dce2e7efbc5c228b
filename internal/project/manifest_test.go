package project_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elmbind/internal/project"
)

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, project.ManifestName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadManifestWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[run]\ninit = \"Elm.Main\"\ntimeout = \"2s\"\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	m, ok, err := project.LoadManifest(nested)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, root, m.Root)
	assert.Equal(t, "Elm.Main", m.Config.Run.Init)
	assert.Equal(t, project.DefaultPort, m.Config.Run.Port)
	assert.Equal(t, project.DefaultRewriteInput, m.Config.Rewrite.Input)
	assert.True(t, m.Config.Elm.Optimize)

	timeout, err := m.Config.Run.RunTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, timeout)

	elmRoot, err := m.ElmRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src"), elmRoot)
	assert.Equal(t, filepath.Join(root, "binding.js"), m.Resolve(m.Config.Rewrite.Input))
}

func TestLoadManifestMissing(t *testing.T) {
	m, ok, err := project.LoadManifest(t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)
}

func TestTemplateRoundTrips(t *testing.T) {
	path := writeManifest(t, t.TempDir(), project.Template())
	cfg, err := project.LoadConfig(path)
	require.NoError(t, err)

	want := project.DefaultConfig()
	assert.Equal(t, want, cfg)
}

func TestLoadConfigRejects(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		substr string
	}{
		{"syntax", "[elm\n", "failed to parse TOML"},
		{"unknown key", "[elm]\nroots = \"src\"\n", "unknown keys: elm.roots"},
		{"empty root", "[elm]\nroot = \"\"\n", "empty [elm].root"},
		{"empty port", "[run]\nport = \" \"\n", "empty [run].port"},
		{"bad timeout", "[run]\ntimeout = \"soon\"\n", "invalid [run].timeout"},
		{"negative timeout", "[run]\ntimeout = \"-1s\"\n", "must not be negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeManifest(t, t.TempDir(), tc.body)
			_, err := project.LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.substr)
		})
	}
}

func TestManifestPathsStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[elm]\nroot = \"../elsewhere\"\n[cache]\ndir = \"/tmp/cache\"\n")

	m, ok, err := project.LoadManifest(root)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = m.ElmRoot()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes project root")

	_, err = m.CacheDir()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be relative")
}

func TestCacheDirMustNotOverlapProject(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		substr string
	}{
		{"root", "[cache]\ndir = \".\"\n", "must not be the project root"},
		{"root with slash", "[cache]\ndir = \"./\"\n", "must not be the project root"},
		{"elm root", "[cache]\ndir = \"src\"\n", "overlaps [elm].root"},
		{"inside elm root", "[cache]\ndir = \"src/cache\"\n", "overlaps [elm].root"},
		{"around elm root", "[elm]\nroot = \"app/src\"\n[cache]\ndir = \"app\"\n", "overlaps [elm].root"},
		{"rewrite output", "[rewrite]\noutput = \"build/out.js\"\n[cache]\ndir = \"build\"\n", "contains [rewrite].output"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			writeManifest(t, root, tc.body)
			m, ok, err := project.LoadManifest(root)
			require.NoError(t, err)
			require.True(t, ok)

			_, err = m.CacheDir()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.substr)
		})
	}

	root := t.TempDir()
	writeManifest(t, root, "")
	m, _, err := project.LoadManifest(root)
	require.NoError(t, err)
	dir, err := m.CacheDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, project.DefaultCacheDir), dir)
}

func TestDigest(t *testing.T) {
	a := project.Sum([]byte("a"))
	b := project.Sum([]byte("b"))
	assert.False(t, a.IsZero())
	assert.True(t, project.Digest{}.IsZero())
	assert.NotEqual(t, project.Combine(a, b), project.Combine(b, a))
	assert.Len(t, a.String(), 64)
}
