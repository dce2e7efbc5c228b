// Package buildpipeline ties binding generation, compilation, rewriting and
// loading together, with stage timings and progress events.
package buildpipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"elmbind/internal/bundle"
	"elmbind/internal/cache"
	"elmbind/internal/project"
)

// RewriteBundle rewrites src, serving and filling c when it is non-nil.
// Cache failures are logged and never fail the rewrite.
func RewriteBundle(ctx context.Context, c *cache.Cache, src []byte) (module []byte, cached bool, err error) {
	logger := zerolog.Ctx(ctx)
	var key project.Digest
	if c != nil {
		key = cache.Key(src)
		entry, ok, getErr := c.Get(key)
		switch {
		case getErr != nil:
			logger.Warn().Err(getErr).Msg("ignoring unreadable rewrite cache entry")
		case ok:
			logger.Debug().Str("key", key.String()).Msg("rewrite cache hit")
			return entry.Module, true, nil
		}
	}

	module, err = bundle.Rewrite(ctx, src)
	if err != nil {
		return nil, false, err
	}
	if c != nil {
		expr, exprErr := bundle.ExportedExpression(ctx, module)
		if exprErr != nil {
			return nil, false, fmt.Errorf("rewritten module does not verify: %w", exprErr)
		}
		if putErr := c.Put(key, &cache.Entry{Source: project.Sum(src), Export: expr, Module: module}); putErr != nil {
			logger.Warn().Err(putErr).Msg("failed to store rewrite cache entry")
		}
	}
	return module, false, nil
}

// VerifyRewrite checks that module exports exactly the expression src
// passes to its terminal export call.
func VerifyRewrite(ctx context.Context, src, module []byte) (string, error) {
	doc, err := bundle.Parse(ctx, src)
	if err != nil {
		return "", err
	}
	defer doc.Close()
	want, err := doc.ExtractExport()
	if err != nil {
		return "", err
	}
	got, err := bundle.ExportedExpression(ctx, module)
	if err != nil {
		return "", err
	}
	if got != want {
		return "", fmt.Errorf("exported expression %q differs from bundle export %q", got, want)
	}
	return got, nil
}

// RewriteRequest configures a batch rewrite.
type RewriteRequest struct {
	Inputs []string
	// Output names the destination of a single input; ignored for batches.
	Output string
	// OutDir receives <base name> of every input. When both Output and
	// OutDir are empty, `x.js` is written next to its input as `x2.js`.
	OutDir   string
	Jobs     int
	Verify   bool
	Cache    *cache.Cache
	Progress ProgressSink
}

// RewriteResult reports one rewritten file.
type RewriteResult struct {
	Input   string
	Output  string
	Export  string
	Cached  bool
	Elapsed time.Duration
	Err     error
}

// OutputPath computes where input is written for req.
func (req *RewriteRequest) OutputPath(input string) string {
	if req.Output != "" && len(req.Inputs) == 1 {
		return req.Output
	}
	if req.OutDir != "" {
		return filepath.Join(req.OutDir, filepath.Base(input))
	}
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "2" + ext
}

// RewriteFiles rewrites every input concurrently. Results keep input order.
// A failed file does not stop the others; the returned error joins all
// per-file failures.
func RewriteFiles(ctx context.Context, req RewriteRequest) ([]RewriteResult, error) {
	if len(req.Inputs) == 0 {
		return nil, errors.New("no input bundles")
	}
	if err := checkOutputs(&req); err != nil {
		return nil, err
	}
	if req.OutDir != "" {
		if err := os.MkdirAll(req.OutDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	jobs := req.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	emitQueued(req.Progress, req.Inputs, StageRewrite)

	// Each goroutine owns its index; no lock needed.
	results := make([]RewriteResult, len(req.Inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(req.Inputs)))
	for i, input := range req.Inputs {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			results[i] = rewriteOne(gctx, &req, input)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Input, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

func rewriteOne(ctx context.Context, req *RewriteRequest, input string) RewriteResult {
	res := RewriteResult{Input: input, Output: req.OutputPath(input)}
	start := time.Now()
	emitStage(req.Progress, input, StageRewrite, StatusWorking, nil, 0)
	fail := func(err error) RewriteResult {
		res.Err = err
		res.Elapsed = time.Since(start)
		emitStage(req.Progress, input, StageRewrite, StatusError, err, res.Elapsed)
		return res
	}

	src, err := os.ReadFile(input)
	if err != nil {
		return fail(fmt.Errorf("failed to read bundle: %w", err))
	}
	module, cached, err := RewriteBundle(ctx, req.Cache, src)
	if err != nil {
		return fail(err)
	}
	res.Cached = cached
	if req.Verify {
		if res.Export, err = VerifyRewrite(ctx, src, module); err != nil {
			return fail(err)
		}
	}
	// #nosec G306 -- generated modules are meant to be read by other tools
	if err := os.WriteFile(res.Output, module, 0o644); err != nil {
		return fail(fmt.Errorf("failed to write module: %w", err))
	}

	res.Elapsed = time.Since(start)
	status := StatusDone
	if cached {
		status = StatusCached
	}
	emitStage(req.Progress, input, StageRewrite, status, nil, res.Elapsed)
	zerolog.Ctx(ctx).Debug().Str("input", input).Str("output", res.Output).Bool("cached", cached).Dur("elapsed", res.Elapsed).Msg("rewrote bundle")
	return res
}

// checkOutputs rejects requests where two inputs, or an input and an
// output, would share a path.
func checkOutputs(req *RewriteRequest) error {
	seen := make(map[string]string, len(req.Inputs))
	inputs := make(map[string]bool, len(req.Inputs))
	for _, in := range req.Inputs {
		inputs[filepath.Clean(in)] = true
	}
	for _, in := range req.Inputs {
		out := filepath.Clean(req.OutputPath(in))
		if inputs[out] {
			return fmt.Errorf("output %s would overwrite an input bundle", out)
		}
		if prev, ok := seen[out]; ok {
			return fmt.Errorf("inputs %s and %s both write %s", prev, in, out)
		}
		seen[out] = in
	}
	return nil
}
