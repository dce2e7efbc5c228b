package bundle

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// ExportName is the binding the rewritten module exports.
const ExportName = "Elm"

const (
	exportHelper      = "_Platform_export"
	mergeHelperPrefix = "_Platform_mergeExports"
)

// ExtractExport returns the source text of the namespace expression passed
// to the terminal _Platform_export call. It must run before
// NeutralizeExportMachinery, which removes the anchor it relies on.
func (d *Document) ExtractExport() (string, error) {
	const step = StepExtractExport
	if d.neutralized {
		return "", d.malformed(step, "terminal export call has already been neutralized", nil)
	}
	_, call, err := d.terminalCall(step)
	if err != nil {
		return "", err
	}
	args := statements(call.ChildByFieldName("arguments"))
	if len(args) != 1 {
		return "", d.malformed(step, fmt.Sprintf("%s call takes %d arguments, expected exactly one", exportHelper, len(args)), call)
	}
	if args[0].Type() == "spread_element" {
		return "", d.malformed(step, "export argument is a spread element, not an expression", args[0])
	}
	expr := d.text(args[0])
	if strings.TrimSpace(expr) == "" {
		return "", d.malformed(step, "export argument is empty", args[0])
	}
	return expr, nil
}

// DisableWrapperHeader comments out `(function(scope){`. The wrapper's
// closing is left for NeutralizeExportMachinery.
func (d *Document) DisableWrapperHeader() error {
	const step = StepDisableWrapperHeader
	if d.headerDisabled {
		return d.malformed(step, "wrapper header has already been disabled", nil)
	}
	w, err := d.wrapper(step)
	if err != nil {
		return err
	}
	start, _, err := byteRange(w.stmt)
	if err != nil {
		return d.malformed(step, err.Error(), w.stmt)
	}
	header := string(d.src[start:w.headerEnd])
	replacement, ok := disableInline(header, d.endsLine(w.headerEnd))
	if !ok {
		return d.malformed(step, "wrapper header contains a block comment terminator", w.stmt)
	}
	if err := d.addEdit(step, start, w.headerEnd, replacement); err != nil {
		return err
	}
	d.headerDisabled = true
	return nil
}

// DisableStrictDirective comments out the single 'use strict' statement of
// the wrapper body. ES modules are strict already.
func (d *Document) DisableStrictDirective() error {
	const step = StepDisableStrictDirective
	if d.directiveDisabled {
		return d.malformed(step, "strict directive has already been disabled", nil)
	}
	w, err := d.wrapper(step)
	if err != nil {
		return err
	}
	var directives []*sitter.Node
	for _, stmt := range statements(w.body) {
		if d.isStrictDirective(stmt) {
			directives = append(directives, stmt)
		}
	}
	switch len(directives) {
	case 0:
		return d.malformed(step, "no 'use strict' directive in the wrapper body", w.body)
	case 1:
	default:
		return d.malformed(step, fmt.Sprintf("found %d 'use strict' directives, expected exactly one", len(directives)), directives[1])
	}
	stmt := directives[0]
	start, end, err := byteRange(stmt)
	if err != nil {
		return d.malformed(step, err.Error(), stmt)
	}
	replacement, ok := disableInline(d.text(stmt), d.endsLine(end))
	if !ok {
		return d.malformed(step, "directive contains a block comment terminator", stmt)
	}
	if err := d.addEdit(step, start, end, replacement); err != nil {
		return err
	}
	d.directiveDisabled = true
	return nil
}

// NeutralizeExportMachinery turns the export helpers and the terminal
// export call (through the wrapper's closing) into block comments.
func (d *Document) NeutralizeExportMachinery() error {
	const step = StepNeutralizeExportMachinery
	if d.neutralized {
		return d.malformed(step, "export machinery has already been neutralized", nil)
	}
	w, err := d.wrapper(step)
	if err != nil {
		return err
	}
	helpers, err := d.exportHelpers(step, w)
	if err != nil {
		return err
	}
	terminal, _, err := d.terminalCall(step)
	if err != nil {
		return err
	}

	type region struct {
		start, end int
		at         *sitter.Node
	}
	regions := make([]region, 0, len(helpers)+1)
	for _, fn := range helpers {
		start, end, err := byteRange(fn)
		if err != nil {
			return d.malformed(step, err.Error(), fn)
		}
		regions = append(regions, region{start: start, end: end, at: fn})
	}
	start, _, err := byteRange(terminal)
	if err != nil {
		return d.malformed(step, err.Error(), terminal)
	}
	_, closing, err := byteRange(w.stmt)
	if err != nil {
		return d.malformed(step, err.Error(), w.stmt)
	}
	regions = append(regions, region{start: start, end: closing, at: terminal})

	// Validate every region before recording any edit so a failure leaves
	// the document untouched.
	texts := make([]string, len(regions))
	for i, r := range regions {
		text, ok := blockComment(string(d.src[r.start:r.end]))
		if !ok {
			return d.malformed(step, "export machinery contains a block comment terminator", r.at)
		}
		texts[i] = text
	}
	for i, r := range regions {
		if err := d.addEdit(step, r.start, r.end, texts[i]); err != nil {
			return err
		}
	}
	d.neutralized = true
	return nil
}

// EmitPublicExport appends `export const Elm = <expr>;`.
func (d *Document) EmitPublicExport(expr string) error {
	const step = StepEmitPublicExport
	if d.emitted {
		return d.malformed(step, "public export has already been emitted", nil)
	}
	if strings.TrimSpace(expr) == "" {
		return d.malformed(step, "export expression is empty", nil)
	}
	d.tail = append(d.tail, "\nexport const "+ExportName+" = "+expr+";\n"...)
	d.emitted = true
	return nil
}

// terminalCall finds the `_Platform_export(...)` statement. It must be the
// only such call in the wrapper body and its last statement, and nothing
// else outside the helper definitions may refer to the helper.
func (d *Document) terminalCall(step Step) (stmt, call *sitter.Node, err error) {
	w, err := d.wrapper(step)
	if err != nil {
		return nil, nil, err
	}
	body := statements(w.body)
	var calls []*sitter.Node
	for _, s := range body {
		if d.isExportCall(s) {
			calls = append(calls, s)
		}
	}
	switch len(calls) {
	case 0:
		return nil, nil, d.malformed(step, fmt.Sprintf("no terminal %s call in the wrapper body", exportHelper), w.body)
	case 1:
	default:
		return nil, nil, d.malformed(step, fmt.Sprintf("found %d %s calls, expected exactly one", len(calls), exportHelper), calls[1])
	}
	if !sameNode(calls[0], body[len(body)-1]) {
		return nil, nil, d.malformed(step, fmt.Sprintf("%s call is not the last statement of the wrapper", exportHelper), calls[0])
	}
	// Any other use would survive the helper being commented out.
	for _, s := range body[:len(body)-1] {
		if d.isHelperDeclaration(s) {
			continue
		}
		if ref := d.findReference(s, exportHelper); ref != nil {
			return nil, nil, d.malformed(step, fmt.Sprintf("%s is referenced outside the terminal export call", exportHelper), ref)
		}
	}
	return calls[0], firstNamed(calls[0]), nil
}

func (d *Document) isHelperDeclaration(stmt *sitter.Node) bool {
	if stmt.Type() != "function_declaration" {
		return false
	}
	nameNode := stmt.ChildByFieldName("name")
	if nameNode == nil {
		return false
	}
	name := d.text(nameNode)
	return strings.HasPrefix(name, exportHelper) || strings.HasPrefix(name, mergeHelperPrefix)
}

// findReference returns the first identifier below n spelled name.
func (d *Document) findReference(n *sitter.Node, name string) *sitter.Node {
	switch n.Type() {
	case "identifier", "shorthand_property_identifier":
		if d.text(n) == name {
			return n
		}
		return nil
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child != nil {
			if ref := d.findReference(child, name); ref != nil {
				return ref
			}
		}
	}
	return nil
}

// exportHelpers returns the _Platform_export* and _Platform_mergeExports*
// function declarations of the wrapper body.
func (d *Document) exportHelpers(step Step, w *wrapper) ([]*sitter.Node, error) {
	var (
		helpers []*sitter.Node
		seen    = make(map[string]bool)
		exports int
		merges  int
	)
	for _, stmt := range statements(w.body) {
		if stmt.Type() != "function_declaration" {
			continue
		}
		nameNode := stmt.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := d.text(nameNode)
		isExport := strings.HasPrefix(name, exportHelper)
		isMerge := strings.HasPrefix(name, mergeHelperPrefix)
		if !isExport && !isMerge {
			continue
		}
		if seen[name] {
			return nil, d.malformed(step, fmt.Sprintf("helper %s is defined more than once", name), stmt)
		}
		seen[name] = true
		if name == exportHelper {
			exports++
		}
		if isMerge {
			merges++
		}
		helpers = append(helpers, stmt)
	}
	if exports == 0 {
		return nil, d.malformed(step, fmt.Sprintf("no %s helper definition in the wrapper body", exportHelper), w.body)
	}
	if merges == 0 {
		return nil, d.malformed(step, fmt.Sprintf("no %s* helper definition in the wrapper body", mergeHelperPrefix), w.body)
	}
	return helpers, nil
}

func (d *Document) isExportCall(stmt *sitter.Node) bool {
	if stmt.Type() != "expression_statement" {
		return false
	}
	call := firstNamed(stmt)
	if call == nil || call.Type() != "call_expression" {
		return false
	}
	callee := call.ChildByFieldName("function")
	return callee != nil && callee.Type() == "identifier" && d.text(callee) == exportHelper
}

func (d *Document) isStrictDirective(stmt *sitter.Node) bool {
	if stmt.Type() != "expression_statement" {
		return false
	}
	lit := firstNamed(stmt)
	if lit == nil || lit.Type() != "string" {
		return false
	}
	switch d.text(lit) {
	case `'use strict'`, `"use strict"`:
		return true
	}
	return false
}
