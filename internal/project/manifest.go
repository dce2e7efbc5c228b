package project

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied when elmbind.toml is absent or leaves a key out.
const (
	DefaultElmRoot       = "src"
	DefaultCompiler      = "elm"
	DefaultRewriteInput  = "binding.js"
	DefaultRewriteOutput = "binding2.js"
	DefaultInitPath      = "Elm.Binding"
	DefaultPort          = "out"
	DefaultCacheDir      = ".elmbind-cache"
)

// Manifest is a loaded elmbind.toml.
type Manifest struct {
	Path   string
	Root   string
	Config Config
}

// Config mirrors the sections of elmbind.toml.
type Config struct {
	Elm     ElmConfig     `toml:"elm"`
	Rewrite RewriteConfig `toml:"rewrite"`
	Run     RunConfig     `toml:"run"`
	Cache   CacheConfig   `toml:"cache"`
}

// ElmConfig locates the Elm sources and the compiler.
type ElmConfig struct {
	// Root is the directory holding the .elm files (usually src), not the
	// one holding elm.json.
	Root     string `toml:"root"`
	Compiler string `toml:"compiler"`
	Optimize bool   `toml:"optimize"`
}

// RewriteConfig names the default rewrite input and output.
type RewriteConfig struct {
	Input  string `toml:"input"`
	Output string `toml:"output"`
}

// RunConfig selects the initializer and port, and bounds the wait.
type RunConfig struct {
	Init    string `toml:"init"`
	Port    string `toml:"port"`
	Timeout string `toml:"timeout"`
}

// CacheConfig controls the rewrite cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// DefaultConfig is the configuration used without a manifest.
func DefaultConfig() Config {
	return Config{
		Elm:     ElmConfig{Root: DefaultElmRoot, Compiler: DefaultCompiler, Optimize: true},
		Rewrite: RewriteConfig{Input: DefaultRewriteInput, Output: DefaultRewriteOutput},
		Run:     RunConfig{Init: DefaultInitPath, Port: DefaultPort},
		Cache:   CacheConfig{Dir: DefaultCacheDir},
	}
}

// RunTimeout parses [run].timeout; zero means wait indefinitely.
func (c RunConfig) RunTimeout() (time.Duration, error) {
	if strings.TrimSpace(c.Timeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(c.Timeout))
	if err != nil {
		return 0, fmt.Errorf("invalid [run].timeout %q: %w", c.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid [run].timeout %q: must not be negative", c.Timeout)
	}
	return d, nil
}

// LoadConfig decodes path on top of DefaultConfig. Unknown keys and
// empty values for defined keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	required := []struct {
		key   []string
		value string
	}{
		{[]string{"elm", "root"}, cfg.Elm.Root},
		{[]string{"elm", "compiler"}, cfg.Elm.Compiler},
		{[]string{"rewrite", "input"}, cfg.Rewrite.Input},
		{[]string{"rewrite", "output"}, cfg.Rewrite.Output},
		{[]string{"run", "init"}, cfg.Run.Init},
		{[]string{"run", "port"}, cfg.Run.Port},
		{[]string{"cache", "dir"}, cfg.Cache.Dir},
	}
	for _, r := range required {
		if meta.IsDefined(r.key...) && strings.TrimSpace(r.value) == "" {
			return Config{}, fmt.Errorf("%s: empty [%s].%s", path, r.key[0], r.key[1])
		}
	}
	if _, err := cfg.Run.RunTimeout(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadManifest finds and loads elmbind.toml starting at startDir.
func LoadManifest(startDir string) (*Manifest, bool, error) {
	manifestPath, ok, err := FindManifest(startDir)
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg, err := LoadConfig(manifestPath)
	if err != nil {
		return nil, true, err
	}
	return &Manifest{
		Path:   manifestPath,
		Root:   filepath.Dir(manifestPath),
		Config: cfg,
	}, true, nil
}

// ElmRoot resolves [elm].root against the project root.
func (m *Manifest) ElmRoot() (string, error) {
	p, err := resolveWithin(m.Root, m.Config.Elm.Root, "[elm].root")
	if err != nil {
		return "", fmt.Errorf("%s: %w", m.Path, err)
	}
	return p, nil
}

// CacheDir resolves [cache].dir against the project root. The cache must
// be a directory of its own: not the root, not overlapping [elm].root, and
// not holding the rewrite input or output.
func (m *Manifest) CacheDir() (string, error) {
	p, err := resolveWithin(m.Root, m.Config.Cache.Dir, "[cache].dir")
	if err != nil {
		return "", fmt.Errorf("%s: %w", m.Path, err)
	}
	if pathWithin(p, m.Root) {
		return "", fmt.Errorf("%s: invalid [cache].dir %q: must not be the project root", m.Path, m.Config.Cache.Dir)
	}
	if elmRoot, err := m.ElmRoot(); err == nil && (pathWithin(p, elmRoot) || pathWithin(elmRoot, p)) {
		return "", fmt.Errorf("%s: invalid [cache].dir %q: overlaps [elm].root", m.Path, m.Config.Cache.Dir)
	}
	for _, f := range []struct{ key, rel string }{
		{"[rewrite].input", m.Config.Rewrite.Input},
		{"[rewrite].output", m.Config.Rewrite.Output},
	} {
		if pathWithin(p, m.Resolve(f.rel)) {
			return "", fmt.Errorf("%s: invalid [cache].dir %q: contains %s", m.Path, m.Config.Cache.Dir, f.key)
		}
	}
	return p, nil
}

// Resolve joins a manifest-relative path such as [rewrite].input.
func (m *Manifest) Resolve(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(m.Root, filepath.FromSlash(rel))
}

// Template is the elmbind.toml written by `elmbind init`.
func Template() string {
	return `[elm]
# directory holding the .elm sources (not the one with elm.json)
root = "` + DefaultElmRoot + `"
compiler = "` + DefaultCompiler + `"
optimize = true

[rewrite]
input = "` + DefaultRewriteInput + `"
output = "` + DefaultRewriteOutput + `"

[run]
init = "` + DefaultInitPath + `"
port = "` + DefaultPort + `"
# timeout = "10s"

[cache]
enabled = false
dir = "` + DefaultCacheDir + `"
`
}
