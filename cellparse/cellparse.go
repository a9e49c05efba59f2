// Package cellparse implements the Cell Parser: a deterministic,
// pure function from cell source text to the five disjoint name sets
// of a CellAnalysis. It replaces the original ast.NodeVisitor-based
// walker with a tree-sitter concrete-syntax-tree visitor. Locally bound
// names (parameters, comprehension variables) are tracked per cell, not
// per scope: once a name is bound, its later occurrences anywhere in the
// cell are not recorded as references.
package cellparse

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// CellAnalysis holds the five disjoint name sets spec.md §3 defines for
// a single cell: definitions, references, imports (a subset of
// definitions), functions, and classes.
type CellAnalysis struct {
	Definitions map[string]struct{}
	References  map[string]struct{}
	Imports     map[string]struct{}
	Functions   map[string]struct{}
	Classes     map[string]struct{}
}

func newAnalysis() CellAnalysis {
	return CellAnalysis{
		Definitions: map[string]struct{}{},
		References:  map[string]struct{}{},
		Imports:     map[string]struct{}{},
		Functions:   map[string]struct{}{},
		Classes:     map[string]struct{}{},
	}
}

// strip removes any line whose first non-whitespace character is one of
// the REPL-style magic/shell prefixes (`%`, `!`, `?`), replacing it with
// a blank line so downstream byte offsets (used by Error Enrichment for
// line-anchoring) stay aligned with the original cell text.
func strip(source string) string {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		switch trimmed[0] {
		case '%', '!', '?':
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

// Analyze parses source and returns its CellAnalysis. It never errors:
// a syntax error yields an empty analysis, per spec.md §4.2/§7
// (ParseFailure is absorbed locally).
func Analyze(source string) CellAnalysis {
	analysis := newAnalysis()

	stripped := []byte(strip(source))

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, stripped)
	if err != nil || tree == nil {
		return analysis
	}
	root := tree.RootNode()
	if root == nil || root.HasError() {
		return analysis
	}

	v := &visitor{source: stripped, analysis: &analysis, skip: map[string]bool{}}
	v.visitBlock(root)

	for name := range analysis.References {
		if _, isDef := analysis.Definitions[name]; isDef {
			delete(analysis.References, name)
		}
		if _, isImport := analysis.Imports[name]; isImport {
			delete(analysis.References, name)
		}
		if _, isBuiltin := Builtins[name]; isBuiltin {
			delete(analysis.References, name)
		}
	}

	return analysis
}

type visitor struct {
	source   []byte
	analysis *CellAnalysis
	skip     map[string]bool // names already bound in this cell; later occurrences are not references
}

func (v *visitor) text(n *sitter.Node) string {
	return string(v.source[n.StartByte():n.EndByte()])
}

func (v *visitor) markDefinition(n *sitter.Node) {
	v.skip[v.text(n)] = true
	v.analysis.Definitions[v.text(n)] = struct{}{}
}

func (v *visitor) markLocalOnly(n *sitter.Node) {
	// Parameters and comprehension loop variables are locally scoped:
	// spec.md requires them excluded from references, but they are not
	// cell-level definitions either (they don't bind a name visible to
	// later cells), so they are only marked to suppress reference capture.
	v.skip[v.text(n)] = true
}

// visitBlock walks a sequence of statements (a module body or a block),
// handling the statement-level constructs the name-extraction table
// names, then recursing into expressions for reference collection.
func (v *visitor) visitBlock(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		v.visitStatement(node.NamedChild(i))
	}
}

func (v *visitor) visitStatement(n *sitter.Node) {
	switch n.Type() {
	case "expression_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v.visitAssignable(n.NamedChild(i))
		}
	case "for_statement":
		v.visitForStatement(n)
	case "with_statement":
		v.visitWithStatement(n)
	case "function_definition":
		v.visitFunctionDefinition(n)
	case "class_definition":
		v.visitClassDefinition(n)
	case "import_statement":
		v.visitImportStatement(n)
	case "import_from_statement":
		v.visitImportFromStatement(n)
	case "if_statement", "while_statement", "try_statement", "with_clause":
		v.visitChildrenAsStatementsOrExpressions(n)
	case "block":
		v.visitBlock(n)
	default:
		v.visitExpression(n)
	}
}

// visitChildrenAsStatementsOrExpressions recurses into compound
// statement children (conditions, clauses, nested blocks) uniformly.
func (v *visitor) visitChildrenAsStatementsOrExpressions(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "block" {
			v.visitBlock(child)
		} else {
			v.visitStatement(child)
		}
	}
}

// visitAssignable dispatches expression-statement-level nodes that may
// be assignments (including named expressions at top level) or plain
// expressions.
func (v *visitor) visitAssignable(n *sitter.Node) {
	switch n.Type() {
	case "assignment":
		v.visitAssignment(n)
	case "augmented_assignment":
		v.visitAugmentedAssignment(n)
	default:
		v.visitExpression(n)
	}
}

func (v *visitor) visitAssignment(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	typeNode := n.ChildByFieldName("type")

	if left != nil {
		v.markAssignmentTargets(left)
	}
	if typeNode != nil {
		v.visitExpression(typeNode)
	}
	if right != nil {
		// Chained assignment (a = b = 1) nests another assignment here.
		if right.Type() == "assignment" {
			v.visitAssignment(right)
		} else {
			v.visitExpression(right)
		}
	}
}

func (v *visitor) visitAugmentedAssignment(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left != nil {
		v.markAssignmentTargets(left)
	}
	if right != nil {
		v.visitExpression(right)
	}
}

// markAssignmentTargets recursively marks every identifier bound by an
// assignment target: a bare name, a starred name (`*rest`), or any
// nesting of tuple/list patterns produced by unpacking.
func (v *visitor) markAssignmentTargets(n *sitter.Node) {
	switch n.Type() {
	case "identifier":
		v.markDefinition(n)
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v.markAssignmentTargets(n.NamedChild(i))
		}
	case "list_splat_pattern", "splat_pattern":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v.markAssignmentTargets(n.NamedChild(i))
		}
	case "attribute", "subscript":
		// a.b = ... / a[0] = ... bind no new cell-level name; the base
		// object is a read.
		v.visitExpression(n)
	default:
		v.visitExpression(n)
	}
}

func (v *visitor) visitForStatement(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	body := n.ChildByFieldName("body")

	if left != nil {
		v.markAssignmentTargets(left)
	}
	if right != nil {
		v.visitExpression(right)
	}
	if body != nil {
		if body.Type() == "block" {
			v.visitBlock(body)
		} else {
			v.visitStatement(body)
		}
	}
	if alt := n.ChildByFieldName("alternative"); alt != nil {
		v.visitStatement(alt)
	}
}

func (v *visitor) visitWithStatement(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "with_clause" {
			v.visitWithClause(child)
		} else if child.Type() == "block" {
			v.visitBlock(child)
		}
	}
}

func (v *visitor) visitWithClause(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		item := n.NamedChild(i)
		if item.Type() != "with_item" {
			continue
		}
		value := item.NamedChild(0)
		if value == nil {
			continue
		}
		if value.Type() == "as_pattern" {
			target := value.ChildByFieldName("alias")
			expr := value.NamedChild(0)
			if expr != nil {
				v.visitExpression(expr)
			}
			if target != nil {
				v.markAssignmentTargets(target)
			}
		} else {
			v.visitExpression(value)
		}
	}
}

func (v *visitor) visitFunctionDefinition(n *sitter.Node) {
	name := n.ChildByFieldName("name")
	if name != nil {
		v.markDefinition(name)
		v.analysis.Functions[v.text(name)] = struct{}{}
	}

	if params := n.ChildByFieldName("parameters"); params != nil {
		v.markParameters(params)
	}

	if body := n.ChildByFieldName("body"); body != nil {
		v.visitBlock(body)
	}
}

// markParameters marks every parameter name as locally scoped (never a
// cell-level definition, never a reference).
func (v *visitor) markParameters(params *sitter.Node) {
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			v.markLocalOnly(p)
		case "typed_parameter", "default_parameter", "typed_default_parameter":
			if name := p.NamedChild(0); name != nil && name.Type() == "identifier" {
				v.markLocalOnly(name)
			}
			if def := p.ChildByFieldName("value"); def != nil {
				v.visitExpression(def)
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			if name := p.NamedChild(0); name != nil {
				v.markLocalOnly(name)
			}
		}
	}
}

func (v *visitor) visitClassDefinition(n *sitter.Node) {
	name := n.ChildByFieldName("name")
	if name != nil {
		v.markDefinition(name)
		v.analysis.Classes[v.text(name)] = struct{}{}
	}
	if bases := n.ChildByFieldName("superclasses"); bases != nil {
		v.visitExpression(bases)
	}
	if body := n.ChildByFieldName("body"); body != nil {
		v.visitBlock(body)
	}
}

func (v *visitor) visitImportStatement(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			// `import a.b.c` binds the top-level name `a`.
			top := child.NamedChild(0)
			if top != nil {
				v.markDefinition(top)
				v.analysis.Imports[v.text(top)] = struct{}{}
			}
		case "aliased_import":
			alias := child.ChildByFieldName("alias")
			if alias != nil {
				v.markDefinition(alias)
				v.analysis.Imports[v.text(alias)] = struct{}{}
			}
		}
	}
}

func (v *visitor) visitImportFromStatement(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "wildcard_import":
			// `from p import *` is ignored per spec.md §4.2.
		case "dotted_name":
			// The module path (field "module_name") binds nothing; every
			// other dotted_name is an imported name.
			if module := n.ChildByFieldName("module_name"); module != nil && module.StartByte() == child.StartByte() {
				continue
			}
			name := child.NamedChild(0)
			v.markDefinition(name)
			v.analysis.Imports[v.text(name)] = struct{}{}
		case "aliased_import":
			alias := child.ChildByFieldName("alias")
			if alias != nil {
				v.markDefinition(alias)
				v.analysis.Imports[v.text(alias)] = struct{}{}
			}
		case "identifier":
			v.markDefinition(child)
			v.analysis.Imports[v.text(child)] = struct{}{}
		}
	}
}

// visitExpression recurses into an arbitrary expression subtree,
// handling named expressions, comprehensions, keyword arguments, and
// lambda parameters specially, and recording every unclassified
// identifier as a reference.
func (v *visitor) visitExpression(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier":
		if !v.skip[v.text(n)] {
			v.analysis.References[v.text(n)] = struct{}{}
		}
		return
	case "named_expression":
		name := n.ChildByFieldName("name")
		value := n.ChildByFieldName("value")
		if name != nil {
			v.markDefinition(name)
		}
		v.visitExpression(value)
		return
	case "keyword_argument":
		// The keyword name is not a reference; only its value is.
		v.visitExpression(n.ChildByFieldName("value"))
		return
	case "lambda":
		if params := n.ChildByFieldName("parameters"); params != nil {
			v.markParameters(params)
		}
		v.visitExpression(n.ChildByFieldName("body"))
		return
	case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
		v.visitComprehension(n)
		return
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		v.visitExpression(n.NamedChild(i))
	}
}

// visitComprehension binds comprehension loop variables as local-only
// (per spec.md §4.2) before visiting the body and condition clauses.
func (v *visitor) visitComprehension(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		clause := n.NamedChild(i)
		if clause.Type() == "for_in_clause" {
			left := clause.ChildByFieldName("left")
			if left != nil {
				v.markAssignmentTargets(left)
				// Comprehension variables are locally scoped, not
				// cell-level definitions; undo the definition binding
				// but keep the skip so it is not later treated as a
				// reference either.
				v.unmarkAsDefinition(left)
			}
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		clause := n.NamedChild(i)
		switch clause.Type() {
		case "for_in_clause":
			if right := clause.ChildByFieldName("right"); right != nil {
				v.visitExpression(right)
			}
		case "if_clause":
			v.visitExpression(clause.NamedChild(0))
		default:
			v.visitExpression(clause)
		}
	}
}

func (v *visitor) unmarkAsDefinition(n *sitter.Node) {
	switch n.Type() {
	case "identifier":
		delete(v.analysis.Definitions, v.text(n))
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v.unmarkAsDefinition(n.NamedChild(i))
		}
	}
}
