package buildpipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elmbind/internal/binding"
	"elmbind/internal/buildpipeline"
	"elmbind/internal/elmc"
)

// fakeBundle mimics `elm make --optimize` output for a binding module whose
// program emits twice flags.n.
const fakeBundle = `(function(scope){
'use strict';
function _Platform_export(exports) { scope['Elm'] = exports; }
function _Platform_mergeExportsProd(obj, exports) { for (var name in exports) { obj[name] = exports[name]; } }
var $author$project$Binding$main = function (options) {
	var subs = [];
	setTimeout(function () { subs.forEach(function (s) { s(options.flags.n * 2); }); }, 0);
	return { ports: { out: { subscribe: function (f) { subs.push(f); } } } };
};
_Platform_export({'%s':{'init':$author$project$Binding$main}});}(this));
`

type fakeCompiler struct {
	mu      sync.Mutex
	reqs    []elmc.Request
	sources []string
	fail    error
}

func (c *fakeCompiler) Compile(_ context.Context, req elmc.Request) error {
	src, err := os.ReadFile(filepath.Join(req.Dir, req.Source))
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.sources = append(c.sources, string(src))
	c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	module := strings.TrimSuffix(req.Source, ".elm")
	return os.WriteFile(filepath.Join(req.Dir, req.Output), []byte(fmt.Sprintf(fakeBundle, module)), 0o600)
}

type recorder struct {
	mu     sync.Mutex
	events []buildpipeline.Event
}

func (r *recorder) OnEvent(e buildpipeline.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) statuses(target string) map[buildpipeline.Stage]buildpipeline.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[buildpipeline.Stage]buildpipeline.Status)
	for _, e := range r.events {
		if e.Target == target {
			out[e.Stage] = e.Status
		}
	}
	return out
}

type doubleIn struct {
	N int `json:"n"`
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPrepareAndCall(t *testing.T) {
	dir := t.TempDir()
	compiler := &fakeCompiler{}
	events := &recorder{}
	root := &buildpipeline.Root{Dir: dir, Compiler: compiler, Optimize: true, Progress: events}

	fn, err := buildpipeline.Prepare[doubleIn, int](context.Background(), root, "Math.double")
	require.NoError(t, err)
	defer fn.Close()

	require.Len(t, compiler.reqs, 1)
	req := compiler.reqs[0]
	assert.True(t, req.Optimize)
	assert.Equal(t, fn.Binding.FileName(), req.Source)
	assert.Contains(t, compiler.sources[0], "port out : Int -> Cmd msg")
	assert.Contains(t, compiler.sources[0], "main : Program ({ n : Int }) () Never")
	assert.Contains(t, compiler.sources[0], "out (Math.double flags)")
	assert.Equal(t, "Elm."+fn.Binding.ModuleName(), fn.InitPath())

	assert.Empty(t, dirNames(t, dir), "temporary binding files must be removed")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := fn.Call(ctx, doubleIn{N: 21})
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	for _, stage := range []buildpipeline.Stage{
		buildpipeline.StageGenerate, buildpipeline.StageCompile, buildpipeline.StageRewrite, buildpipeline.StageLoad, buildpipeline.StageRun,
	} {
		assert.True(t, fn.Timings.Has(stage), stage)
	}
	statuses := events.statuses("Math.double")
	for _, stage := range buildpipeline.Stages {
		assert.Equal(t, buildpipeline.StatusDone, statuses[stage], stage)
	}
	assert.Len(t, fn.Timings.Report().Phases, 5)
}

func TestPrepareDebugKeepsFiles(t *testing.T) {
	dir := t.TempDir()
	root := &buildpipeline.Root{Dir: dir, Compiler: &fakeCompiler{}, Debug: true}

	fn, err := buildpipeline.Prepare[doubleIn, int](context.Background(), root, "Math.double")
	require.NoError(t, err)
	defer fn.Close()

	name := fn.Binding.ModuleName()
	assert.ElementsMatch(t, []string{name + ".elm", name + ".js", name + "-esm.mjs"}, dirNames(t, dir))

	module, err := os.ReadFile(filepath.Join(dir, name+"-esm.mjs"))
	require.NoError(t, err)
	assert.Contains(t, string(module), "export const Elm = {'"+name+"':{'init':$author$project$Binding$main}};")
}

func TestPrepareCompileFailure(t *testing.T) {
	dir := t.TempDir()
	compiler := &fakeCompiler{fail: &elmc.CompileError{Source: "B.elm", Stderr: "-- NAMING ERROR"}}
	events := &recorder{}
	root := &buildpipeline.Root{Dir: dir, Compiler: compiler, Progress: events}

	_, err := buildpipeline.Prepare[int, int](context.Background(), root, "Math.double")
	var ce *elmc.CompileError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Empty(t, dirNames(t, dir))
	assert.Equal(t, buildpipeline.StatusError, events.statuses("Math.double")[buildpipeline.StageCompile])
}

func TestPrepareRejects(t *testing.T) {
	root := &buildpipeline.Root{Dir: t.TempDir(), Compiler: &fakeCompiler{}}

	_, err := buildpipeline.Prepare[int, int](context.Background(), root, "double")
	require.ErrorIs(t, err, binding.ErrInvalidCall)

	_, err = buildpipeline.Prepare[map[string]int, int](context.Background(), root, "Math.double")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input type")

	_, err = buildpipeline.Prepare[int, int](context.Background(), &buildpipeline.Root{}, "Math.double")
	require.Error(t, err)
}
