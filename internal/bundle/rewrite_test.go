package bundle_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elmbind/internal/bundle"
)

const inlineBundle = `(function(scope){'use strict'; function _Platform_export(x){} function _Platform_mergeExports(a,b){} var ns = 1; _Platform_export({Foo:{init:function(f){return f;}}}); }(this));`

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestRewriteInlineBundle(t *testing.T) {
	out, err := bundle.Rewrite(context.Background(), []byte(inlineBundle))
	require.NoError(t, err)

	want := "/* -- (function(scope){ */" +
		"/* -- 'use strict'; */ " +
		"/*\nfunction _Platform_export(x){}\n*/ " +
		"/*\nfunction _Platform_mergeExports(a,b){}\n*/" +
		" var ns = 1; " +
		"/*\n_Platform_export({Foo:{init:function(f){return f;}}}); }(this));\n*/" +
		"\nexport const Elm = {Foo:{init:function(f){return f;}}};\n"
	assert.Equal(t, want, string(out))
}

func TestRewriteIdentifierExport(t *testing.T) {
	src := `(function(scope){'use strict'; function _Platform_export(x){} function _Platform_mergeExports(a,b){} var ns = {Foo:{init:function(f){return f;}}}; _Platform_export(ns); }(this));`
	out, err := bundle.Rewrite(context.Background(), []byte(src))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(out), "\nexport const Elm = ns;\n"), string(out))
	assert.Contains(t, string(out), "var ns = {Foo:{init:function(f){return f;}}};")
}

func TestRewriteOptimizedBundle(t *testing.T) {
	src := readFixture(t, "optimized.js")
	out, err := bundle.Rewrite(context.Background(), src)
	require.NoError(t, err)
	text := string(out)

	assert.True(t, strings.HasPrefix(text, "// -- (function(scope){\n// -- 'use strict';\n"), text[:60])
	for _, helper := range []string{
		"_Platform_export(exports)",
		"_Platform_mergeExportsProd(obj, exports)",
		"_Platform_export_UNUSED(exports)",
		"_Platform_mergeExportsDebug(moduleName, obj, exports)",
	} {
		assert.Contains(t, text, "/*\nfunction "+helper+"\n{", helper)
	}
	assert.Contains(t, text, "/*\n_Platform_export({'Main':{'init':$author$project$Main$main}});}(this));\n*/\n")

	const tail = "\nexport const Elm = {'Main':{'init':$author$project$Main$main}};\n"
	require.True(t, strings.HasSuffix(text, tail))

	// Commentary keeps every original byte: stripping the markers restores the input.
	restored := strings.TrimSuffix(text, tail)
	restored = strings.ReplaceAll(restored, "// -- ", "")
	restored = strings.ReplaceAll(restored, "/*\n", "")
	restored = strings.ReplaceAll(restored, "\n*/", "")
	assert.Equal(t, string(src), restored)
}

func TestRewriteExportMatchesCapturedExpression(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"optimized.js", "call_form.js"} {
		t.Run(name, func(t *testing.T) {
			src := readFixture(t, name)

			doc, err := bundle.Parse(ctx, src)
			require.NoError(t, err)
			expr, err := doc.ExtractExport()
			doc.Close()
			require.NoError(t, err)

			out, err := bundle.Rewrite(ctx, src)
			require.NoError(t, err)
			bound, err := bundle.ExportedExpression(ctx, out)
			require.NoError(t, err)
			assert.Equal(t, expr, bound)
		})
	}
}

func TestRewriteIsDeterministic(t *testing.T) {
	src := readFixture(t, "optimized.js")
	first, err := bundle.Rewrite(context.Background(), src)
	require.NoError(t, err)
	second, err := bundle.Rewrite(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRewriteDoesNotMutateInput(t *testing.T) {
	src := []byte(inlineBundle)
	_, err := bundle.Rewrite(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, inlineBundle, string(src))
}

func TestRewriteTwiceFailsAtExtraction(t *testing.T) {
	for _, src := range [][]byte{[]byte(inlineBundle), readFixture(t, "optimized.js")} {
		once, err := bundle.Rewrite(context.Background(), src)
		require.NoError(t, err)

		twice, err := bundle.Rewrite(context.Background(), once)
		require.Error(t, err)
		assert.Nil(t, twice)
		assert.True(t, errors.Is(err, bundle.ErrMalformedBundle))
		step, ok := bundle.FailedStep(err)
		require.True(t, ok)
		assert.Equal(t, bundle.StepExtractExport, step)
	}
}

func TestRewriteMalformed(t *testing.T) {
	const (
		helpers = `function _Platform_export(x){} function _Platform_mergeExports(a,b){}`
		call    = `_Platform_export({A:1});`
	)
	wrap := func(body string) string { return "(function(scope){" + body + "}(this));" }

	cases := []struct {
		name   string
		src    string
		step   bundle.Step
		reason string
	}{
		{"empty", "", bundle.StepExtractExport, "no top-level wrapper"},
		{"plain script", "console.log(1);", bundle.StepExtractExport, "no top-level wrapper"},
		{"no export call", wrap(`'use strict'; ` + helpers + ` var a = 1;`), bundle.StepExtractExport, "no terminal _Platform_export call"},
		{"two export calls", wrap(`'use strict'; ` + helpers + call + call), bundle.StepExtractExport, "found 2 _Platform_export calls"},
		{"export call not last", wrap(`'use strict'; ` + helpers + call + ` var a = 1;`), bundle.StepExtractExport, "not the last statement"},
		{"no arguments", wrap(`'use strict'; ` + helpers + `_Platform_export();`), bundle.StepExtractExport, "takes 0 arguments"},
		{"two arguments", wrap(`'use strict'; ` + helpers + `_Platform_export(a, b);`), bundle.StepExtractExport, "takes 2 arguments"},
		{"nested export call", wrap(`'use strict'; ` + helpers + ` function later(){ _Platform_export({B:2}); }` + call), bundle.StepExtractExport, "referenced outside the terminal export call"},
		{"export helper alias", wrap(`'use strict'; ` + helpers + ` var exp = _Platform_export;` + call), bundle.StepExtractExport, "referenced outside the terminal export call"},
		{"spread argument", wrap(`'use strict'; ` + helpers + `_Platform_export(...a);`), bundle.StepExtractExport, "spread element"},
		{"two wrappers", wrap(`'use strict'; ` + helpers + call) + wrap(`'use strict'; ` + helpers + call), bundle.StepExtractExport, "found 2 top-level wrapper"},
		{"no directive", wrap(helpers + call), bundle.StepDisableStrictDirective, "no 'use strict' directive"},
		{"two directives", wrap(`'use strict'; "use strict"; ` + helpers + call), bundle.StepDisableStrictDirective, "found 2 'use strict' directives"},
		{"no export helper", wrap(`'use strict'; function _Platform_mergeExports(a,b){}` + call), bundle.StepNeutralizeExportMachinery, "no _Platform_export helper"},
		{"no merge helper", wrap(`'use strict'; function _Platform_export(x){}` + call), bundle.StepNeutralizeExportMachinery, "no _Platform_mergeExports* helper"},
		{"duplicate helper", wrap(`'use strict'; ` + helpers + ` function _Platform_export(y){}` + call), bundle.StepNeutralizeExportMachinery, "defined more than once"},
		{"comment terminator in helper", wrap(`'use strict'; function _Platform_export(x){ /* keep */ } function _Platform_mergeExports(a,b){}` + call), bundle.StepNeutralizeExportMachinery, "block comment terminator"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := bundle.Rewrite(context.Background(), []byte(tc.src))
			require.Error(t, err)
			assert.Nil(t, out)

			var mb *bundle.MalformedBundleError
			require.True(t, errors.As(err, &mb), "got %T: %v", err, err)
			assert.Equal(t, tc.step, mb.Step)
			assert.Contains(t, mb.Reason, tc.reason)
			assert.Contains(t, err.Error(), string(tc.step))
		})
	}
}

func TestMalformedBundleErrorPosition(t *testing.T) {
	src := "(function(scope){\n'use strict';\nfunction _Platform_export(x){}\nfunction _Platform_mergeExports(a,b){}\n_Platform_export(a);\n_Platform_export(b);\n}(this));\n"
	_, err := bundle.Rewrite(context.Background(), []byte(src))

	var mb *bundle.MalformedBundleError
	require.True(t, errors.As(err, &mb))
	assert.Equal(t, 6, mb.Line)
	assert.Equal(t, 1, mb.Column)
	assert.Equal(t, "malformed bundle: extract-export: found 2 _Platform_export calls, expected exactly one (line 6, column 1)", err.Error())
}

func TestExportedExpressionRejectsBundle(t *testing.T) {
	_, err := bundle.ExportedExpression(context.Background(), []byte(inlineBundle))
	require.ErrorIs(t, err, bundle.ErrNoPublicExport)
}
