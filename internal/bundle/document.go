package bundle

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"fortio.org/safecast"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// Document is a parsed bundle with pending edits.
//
// Landmarks are always located in the original text; edits are recorded as
// byte ranges and applied by Bytes. A Document is not safe for concurrent use.
type Document struct {
	src  []byte
	tree *sitter.Tree

	wrap    *wrapper
	wrapErr landmarkError

	edits []edit
	tail  []byte

	headerDisabled    bool
	directiveDisabled bool
	neutralized       bool
	emitted           bool
}

// wrapper is the top-level `(function(scope){ ... }(this));` statement.
type wrapper struct {
	stmt      *sitter.Node // expression_statement holding the invocation
	body      *sitter.Node // statement_block of the wrapper function
	headerEnd int          // offset just past the body's opening brace
}

type edit struct {
	start, end int
	text       string
	step       Step
}

// landmarkError is a lookup failure before it is attributed to a step.
type landmarkError struct {
	reason string
	node   *sitter.Node
}

// Parse builds a Document from bundle text. It only fails when the parser
// itself fails; shape problems surface from the individual steps.
func Parse(ctx context.Context, src []byte) (*Document, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	src = bytes.Clone(src)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}
	doc := &Document{src: src, tree: tree}
	doc.wrap, doc.wrapErr = locateWrapper(tree.RootNode(), src)
	return doc, nil
}

// Close releases the syntax tree.
func (d *Document) Close() {
	if d == nil || d.tree == nil {
		return
	}
	d.tree.Close()
	d.tree = nil
}

// Bytes renders the original text with all recorded edits applied.
func (d *Document) Bytes() []byte {
	edits := make([]edit, len(d.edits))
	copy(edits, d.edits)
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var out bytes.Buffer
	out.Grow(len(d.src) + len(d.tail) + 256)
	pos := 0
	for _, e := range edits {
		out.Write(d.src[pos:e.start])
		out.WriteString(e.text)
		pos = e.end
	}
	out.Write(d.src[pos:])
	out.Write(d.tail)
	return out.Bytes()
}

func (d *Document) wrapper(step Step) (*wrapper, error) {
	if d.wrap == nil {
		return nil, d.malformed(step, d.wrapErr.reason, d.wrapErr.node)
	}
	return d.wrap, nil
}

func (d *Document) malformed(step Step, reason string, at *sitter.Node) *MalformedBundleError {
	err := &MalformedBundleError{Step: step, Reason: reason}
	if at != nil {
		err.Line, err.Column = position(at)
	}
	return err
}

func (d *Document) addEdit(step Step, start, end int, text string) error {
	for _, e := range d.edits {
		if start < e.end && e.start < end {
			return &MalformedBundleError{
				Step:   step,
				Reason: fmt.Sprintf("edit overlaps text already rewritten by %s", e.step),
			}
		}
	}
	d.edits = append(d.edits, edit{start: start, end: end, text: text, step: step})
	return nil
}

func (d *Document) text(n *sitter.Node) string {
	return n.Content(d.src)
}

// endsLine reports whether offset is at a line break or the end of input.
func (d *Document) endsLine(offset int) bool {
	return offset >= len(d.src) || d.src[offset] == '\n' || d.src[offset] == '\r'
}

func locateWrapper(root *sitter.Node, src []byte) (*wrapper, landmarkError) {
	var found []*wrapper
	for _, stmt := range statements(root) {
		if w := wrapperOf(stmt, src); w != nil {
			found = append(found, w)
		}
	}
	switch len(found) {
	case 1:
		return found[0], landmarkError{}
	case 0:
		reason := "no top-level wrapper function invocation found"
		if root.HasError() {
			reason += " (bundle has syntax errors)"
		}
		return nil, landmarkError{reason: reason}
	default:
		return nil, landmarkError{
			reason: fmt.Sprintf("found %d top-level wrapper invocations, expected exactly one", len(found)),
			node:   found[1].stmt,
		}
	}
}

// wrapperOf matches `(function(p){...}(arg));` and `(function(p){...})(arg);`.
func wrapperOf(stmt *sitter.Node, src []byte) *wrapper {
	if stmt.Type() != "expression_statement" {
		return nil
	}
	call := firstNamed(stmt)
	if call != nil && call.Type() == "parenthesized_expression" {
		call = firstNamed(call)
	}
	if call == nil || call.Type() != "call_expression" {
		return nil
	}
	fn := call.ChildByFieldName("function")
	if fn != nil && fn.Type() == "parenthesized_expression" {
		fn = firstNamed(fn)
	}
	if fn == nil || !isFunctionExpression(fn) {
		return nil
	}
	if args := call.ChildByFieldName("arguments"); args == nil || len(statements(args)) != 1 {
		return nil
	}
	if params := fn.ChildByFieldName("parameters"); params == nil || len(statements(params)) != 1 {
		return nil
	}
	body := fn.ChildByFieldName("body")
	if body == nil || body.Type() != "statement_block" {
		return nil
	}
	open, _, err := byteRange(body)
	if err != nil || open >= len(src) || src[open] != '{' {
		return nil
	}
	return &wrapper{stmt: stmt, body: body, headerEnd: open + 1}
}

// isFunctionExpression accepts both node names used by tree-sitter-javascript
// releases for `function (...) {...}` in expression position.
func isFunctionExpression(n *sitter.Node) bool {
	switch n.Type() {
	case "function_expression", "function":
		return true
	}
	return false
}

// statements returns the named, non-comment children of n.
func statements(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if child == nil || child.Type() == "comment" {
			continue
		}
		out = append(out, child)
	}
	return out
}

func firstNamed(n *sitter.Node) *sitter.Node {
	children := statements(n)
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func byteRange(n *sitter.Node) (start, end int, err error) {
	start, err = safecast.Conv[int](n.StartByte())
	if err != nil {
		return 0, 0, err
	}
	end, err = safecast.Conv[int](n.EndByte())
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func position(n *sitter.Node) (line, column int) {
	p := n.StartPoint()
	row, err := safecast.Conv[int](p.Row)
	if err != nil {
		return 0, 0
	}
	col, err := safecast.Conv[int](p.Column)
	if err != nil {
		return 0, 0
	}
	return row + 1, col + 1
}

// disableInline comments out an anchor in place: a line comment when the
// anchor ends its line, a block comment otherwise.
func disableInline(text string, endsLine bool) (string, bool) {
	if endsLine && !strings.ContainsAny(text, "\r\n") {
		return "// -- " + text, true
	}
	if strings.Contains(text, "*/") {
		return "", false
	}
	return "/* -- " + text + " */", true
}

// blockComment keeps text for inspection inside a block comment.
func blockComment(text string) (string, bool) {
	if strings.Contains(text, "*/") {
		return "", false
	}
	return "/*\n" + text + "\n*/", true
}
