package bundle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"

	"elmbind/internal/trace"
)

// ErrNoPublicExport is returned by ExportedExpression when module text does
// not bind the public export exactly once.
var ErrNoPublicExport = errors.New("module has no public " + ExportName + " export")

// Rewrite converts bundle text into ES module text.
//
// The export expression is captured from the original text before the export
// machinery is neutralized. The same input always yields the same output, and
// on failure no output is returned.
func Rewrite(ctx context.Context, src []byte) ([]byte, error) {
	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeStage, "rewrite", trace.CurrentSpan(ctx)).
		WithExtra("bytes", fmt.Sprint(len(src)))
	logger := zerolog.Ctx(ctx)

	doc, err := Parse(ctx, src)
	if err != nil {
		span.End(err.Error())
		return nil, err
	}
	defer doc.Close()

	var expr string
	steps := []struct {
		step Step
		run  func() error
	}{
		{StepExtractExport, func() (err error) {
			expr, err = doc.ExtractExport()
			return err
		}},
		{StepDisableWrapperHeader, doc.DisableWrapperHeader},
		{StepDisableStrictDirective, doc.DisableStrictDirective},
		{StepNeutralizeExportMachinery, doc.NeutralizeExportMachinery},
		{StepEmitPublicExport, func() error { return doc.EmitPublicExport(expr) }},
	}
	for _, s := range steps {
		stepSpan := trace.Begin(tracer, trace.ScopeStep, string(s.step), span.ID())
		if err := s.run(); err != nil {
			stepSpan.End(err.Error())
			span.End("failed")
			logger.Debug().Str("step", string(s.step)).Err(err).Msg("rewrite step failed")
			return nil, err
		}
		dur := stepSpan.End("")
		logger.Debug().Str("step", string(s.step)).Dur("elapsed", dur).Msg("rewrite step done")
	}

	out := doc.Bytes()
	span.WithExtra("out_bytes", fmt.Sprint(len(out))).End("")
	return out, nil
}

// ExportedExpression parses module text and returns the expression bound by
// its top-level `export const Elm = ...;` statement.
func ExportedExpression(ctx context.Context, module []byte) (string, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, module)
	if err != nil {
		return "", fmt.Errorf("failed to parse module: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return "", fmt.Errorf("module text has syntax errors")
	}
	var values []*sitter.Node
	for _, stmt := range statements(root) {
		if stmt.Type() != "export_statement" {
			continue
		}
		decl := stmt.ChildByFieldName("declaration")
		if decl == nil || decl.Type() != "lexical_declaration" || decl.ChildCount() == 0 || decl.Child(0).Type() != "const" {
			continue
		}
		for _, declarator := range statements(decl) {
			if declarator.Type() != "variable_declarator" {
				continue
			}
			name := declarator.ChildByFieldName("name")
			value := declarator.ChildByFieldName("value")
			if name != nil && value != nil && name.Content(module) == ExportName {
				values = append(values, value)
			}
		}
	}
	if len(values) != 1 {
		return "", fmt.Errorf("%w (found %d bindings)", ErrNoPublicExport, len(values))
	}
	return values[0].Content(module), nil
}
