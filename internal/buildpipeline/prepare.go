package buildpipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"elmbind/internal/binding"
	"elmbind/internal/bundle"
	"elmbind/internal/cache"
	"elmbind/internal/driver"
	"elmbind/internal/elmc"
	"elmbind/internal/elmtype"
	"elmbind/internal/jsrt"
	"elmbind/internal/trace"
)

// Root is a directory of Elm sources that functions are prepared from.
type Root struct {
	// Dir holds the .elm files (usually src), not the elm.json directory.
	Dir      string
	Compiler elmc.Compiler
	Optimize bool
	// Debug keeps the generated binding files and writes the rewritten
	// module next to them as <binding>-esm.mjs.
	Debug    bool
	Cache    *cache.Cache
	Progress ProgressSink
	Runtime  jsrt.Options
}

// NewRoot returns a Root compiling with `elm make --optimize`.
func NewRoot(dir string) *Root {
	return &Root{Dir: dir, Compiler: elmc.Make{}, Optimize: true}
}

// Function is a prepared Elm function taking I and producing O.
type Function[I, O any] struct {
	Binding binding.Spec
	Timings Timings
	Cached  bool

	rt       *jsrt.Runtime
	opts     driver.Options
	progress ProgressSink
}

type flagsConfig[I any] struct {
	Flags I `json:"flags"`
}

// Prepare generates, compiles, rewrites and loads a binding for ref, an
// Elm function such as "MyModule.MySubmodule.myFunction".
func Prepare[I, O any](ctx context.Context, root *Root, ref string) (*Function[I, O], error) {
	if root == nil || root.Dir == "" {
		return nil, errors.New("missing Elm source root")
	}
	compiler := root.Compiler
	if compiler == nil {
		compiler = elmc.Make{}
	}
	logger := zerolog.Ctx(ctx).With().Str("function", ref).Logger()
	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeCommand, "prepare", trace.CurrentSpan(ctx)).WithExtra("function", ref)
	ctx = trace.WithSpan(ctx, span)
	defer span.End("")

	fn, err := binding.ParseFunction(ref)
	if err != nil {
		return nil, err
	}
	input, err := elmtype.InputFor[I]()
	if err != nil {
		return nil, fmt.Errorf("input type: %w", err)
	}
	output, err := elmtype.For[O]()
	if err != nil {
		return nil, fmt.Errorf("output type: %w", err)
	}
	spec, err := binding.NewSpec(fn, input, output)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("seed", spec.Seed).Str("input", input).Str("output", output).Str("binding", spec.ModuleName()).Msg("inferred binding")

	f := &Function[I, O]{
		Binding:  spec,
		opts:     driver.Options{Path: bundle.ExportName + "." + spec.ModuleName(), Port: driver.DefaultPort},
		progress: root.Progress,
	}
	target := fn.String()

	stage := func(s Stage, run func() error) error {
		emitStage(root.Progress, target, s, StatusWorking, nil, 0)
		start := time.Now()
		err := run()
		elapsed := time.Since(start)
		f.Timings.Set(s, elapsed)
		if err != nil {
			emitStage(root.Progress, target, s, StatusError, err, elapsed)
			return err
		}
		status := StatusDone
		if s == StageRewrite && f.Cached {
			status = StatusCached
		}
		emitStage(root.Progress, target, s, status, nil, elapsed)
		return nil
	}

	sourcePath := filepath.Join(root.Dir, spec.FileName())
	jsName := spec.ModuleName() + ".js"
	jsPath := filepath.Join(root.Dir, jsName)

	if err := stage(StageGenerate, func() error {
		src, err := binding.Render(spec)
		if err != nil {
			return err
		}
		if err := os.WriteFile(sourcePath, src, 0o600); err != nil {
			return fmt.Errorf("failed to write binding %s: %w", sourcePath, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var compiled []byte
	if err := stage(StageCompile, func() error {
		compileErr := compiler.Compile(ctx, elmc.Request{
			Dir:      root.Dir,
			Source:   spec.FileName(),
			Output:   jsName,
			Optimize: root.Optimize,
		})
		if !root.Debug {
			removeTemp(logger, sourcePath)
		}
		if compileErr != nil {
			if !root.Debug {
				removeTemp(logger, jsPath)
			}
			return compileErr
		}
		data, readErr := os.ReadFile(jsPath)
		if !root.Debug {
			removeTemp(logger, jsPath)
		}
		if readErr != nil {
			return fmt.Errorf("failed to read compiled binding %s: %w", jsPath, readErr)
		}
		compiled = data
		return nil
	}); err != nil {
		return nil, err
	}

	var module []byte
	if err := stage(StageRewrite, func() error {
		var err error
		module, f.Cached, err = RewriteBundle(ctx, root.Cache, compiled)
		if err != nil {
			return err
		}
		if root.Debug {
			esmPath := filepath.Join(root.Dir, spec.ModuleName()+"-esm.mjs")
			if err := os.WriteFile(esmPath, module, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", esmPath, err)
			}
			logger.Debug().Str("path", esmPath).Msg("wrote rewritten module")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := stage(StageLoad, func() error {
		var err error
		f.rt, err = jsrt.Load(ctx, spec.ModuleName()+".mjs", module, root.Runtime)
		return err
	}); err != nil {
		return nil, err
	}
	return f, nil
}

// Call runs the function once with in as its flags. Calls must not overlap.
func (f *Function[I, O]) Call(ctx context.Context, in I) (O, error) {
	target := f.Binding.Function.String()
	emitStage(f.progress, target, StageRun, StatusWorking, nil, 0)
	start := time.Now()
	out, err := driver.Call[O](ctx, f.rt, flagsConfig[I]{Flags: in}, f.opts)
	elapsed := time.Since(start)
	f.Timings.Set(StageRun, elapsed)
	if err != nil {
		emitStage(f.progress, target, StageRun, StatusError, err, elapsed)
		return out, fmt.Errorf("%s: %w", target, err)
	}
	emitStage(f.progress, target, StageRun, StatusDone, nil, elapsed)
	return out, nil
}

// InitPath is the accessor used to instantiate the binding.
func (f *Function[I, O]) InitPath() string {
	return f.opts.Path
}

// Close releases the JavaScript runtime.
func (f *Function[I, O]) Close() {
	if f != nil && f.rt != nil {
		f.rt.Close()
	}
}

func removeTemp(logger zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("path", path).Msg("failed to remove temporary file")
	}
}
