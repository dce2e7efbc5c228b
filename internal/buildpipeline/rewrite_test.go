package buildpipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elmbind/internal/buildpipeline"
	"elmbind/internal/bundle"
	"elmbind/internal/cache"
)

func copyFixture(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "bundle.js"))
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestRewriteFilesDefaultNaming(t *testing.T) {
	dir := t.TempDir()
	input := copyFixture(t, dir, "binding.js")

	results, err := buildpipeline.RewriteFiles(context.Background(), buildpipeline.RewriteRequest{Inputs: []string{input}, Verify: true})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, filepath.Join(dir, "binding2.js"), results[0].Output)
	assert.Equal(t, "{'Main':{'init':$author$project$Main$main}}", results[0].Export)

	out, err := os.ReadFile(results[0].Output)
	require.NoError(t, err)
	expr, err := bundle.ExportedExpression(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, results[0].Export, expr)
}

func TestRewriteFilesBatch(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	inputs := []string{
		copyFixture(t, dir, "a.js"),
		copyFixture(t, dir, "b.js"),
		filepath.Join(dir, "broken.js"),
	}
	require.NoError(t, os.WriteFile(inputs[2], []byte("console.log(1);"), 0o600))
	events := &recorder{}

	results, err := buildpipeline.RewriteFiles(context.Background(), buildpipeline.RewriteRequest{
		Inputs:   inputs,
		OutDir:   outDir,
		Jobs:     2,
		Progress: events,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, bundle.ErrMalformedBundle)
	assert.Contains(t, err.Error(), "broken.js")

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, inputs[i], r.Input)
	}
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, bundle.ErrMalformedBundle)

	assert.FileExists(t, filepath.Join(outDir, "a.js"))
	assert.FileExists(t, filepath.Join(outDir, "b.js"))
	assert.NoFileExists(t, filepath.Join(outDir, "broken.js"))

	assert.Equal(t, buildpipeline.StatusDone, events.statuses(inputs[0])[buildpipeline.StageRewrite])
	assert.Equal(t, buildpipeline.StatusError, events.statuses(inputs[2])[buildpipeline.StageRewrite])
}

func TestRewriteFilesUsesCache(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.Open(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	input := copyFixture(t, dir, "binding.js")
	req := buildpipeline.RewriteRequest{Inputs: []string{input}, Output: filepath.Join(dir, "module.mjs"), Cache: c}

	first, err := buildpipeline.RewriteFiles(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first[0].Cached)
	firstOut, err := os.ReadFile(first[0].Output)
	require.NoError(t, err)

	second, err := buildpipeline.RewriteFiles(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second[0].Cached)
	secondOut, err := os.ReadFile(second[0].Output)
	require.NoError(t, err)
	assert.Equal(t, firstOut, secondOut)
}

func TestRewriteFilesRejectsConflicts(t *testing.T) {
	dir := t.TempDir()
	a := copyFixture(t, dir, "a.js")
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	b := copyFixture(t, sub, "a.js")

	_, err := buildpipeline.RewriteFiles(context.Background(), buildpipeline.RewriteRequest{Inputs: []string{a, b}, OutDir: filepath.Join(dir, "out")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both write")

	_, err = buildpipeline.RewriteFiles(context.Background(), buildpipeline.RewriteRequest{Inputs: []string{a}, Output: a})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overwrite an input")

	_, err = buildpipeline.RewriteFiles(context.Background(), buildpipeline.RewriteRequest{})
	require.Error(t, err)
}

func TestVerifyRewriteDetectsMismatch(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("testdata", "bundle.js"))
	require.NoError(t, err)

	_, err = buildpipeline.VerifyRewrite(context.Background(), src, []byte("export const Elm = {};\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "differs from bundle export")
}
