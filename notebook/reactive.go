package notebook

import (
	"context"
	"os"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"cellwright/cwerr"
)

// ReactiveNotebook is the read-only, decorated-function notebook format.
// Cells are discovered by walking the top-level concrete syntax tree for
// functions decorated with an app-attached `cell` marker, matching the
// convention `@app.cell` or `@app.cell(...)`.
type ReactiveNotebook struct {
	path  string
	cells []Cell
}

var appAssignment = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*marimo\.App\(`)

func loadReactive(path string) (*ReactiveNotebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cwerr.New(cwerr.KindNotFound, "notebook.Load", err)
	}

	appVar := detectAppVar(string(data))

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, data)
	if err != nil || tree == nil {
		return nil, cwerr.New(cwerr.KindParseFailure, "notebook.Load", err)
	}

	root := tree.RootNode()
	var cells []Cell
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		fn, ok := cellFunctionDef(child, appVar, data)
		if !ok {
			continue
		}
		cells = append(cells, Cell{Kind: KindCode, Source: dedentBody(fn, data)})
	}

	return &ReactiveNotebook{path: path, cells: cells}, nil
}

// detectAppVar finds the variable bound to `marimo.App(...)`, e.g. `app`
// in `app = marimo.App()`. Falls back to "app", the conventional name,
// if no assignment is found.
func detectAppVar(source string) string {
	for _, line := range strings.Split(source, "\n") {
		if m := appAssignment.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return m[1]
		}
	}
	return "app"
}

// cellFunctionDef reports whether node is a `decorated_definition` whose
// decorator names `<appVar>.cell` (bare attribute or call-wrapped), and
// if so returns its wrapped function_definition node.
func cellFunctionDef(node *sitter.Node, appVar string, source []byte) (*sitter.Node, bool) {
	if node == nil || node.Type() != "decorated_definition" {
		return nil, false
	}

	var fn *sitter.Node
	isCellDecorator := false

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "decorator":
			if decoratorNamesCell(child, appVar, source) {
				isCellDecorator = true
			}
		case "function_definition":
			fn = child
		}
	}

	if !isCellDecorator || fn == nil {
		return nil, false
	}
	return fn, true
}

// decoratorNamesCell reports whether decorator's attribute target reads
// exactly `<appVar>.cell`, handling both `@app.cell` and the call-wrapped
// `@app.cell(...)` forms.
func decoratorNamesCell(decorator *sitter.Node, appVar string, source []byte) bool {
	if decorator.NamedChildCount() == 0 {
		return false
	}
	target := decorator.NamedChild(0)

	if target.Type() == "call" {
		if fn := target.ChildByFieldName("function"); fn != nil {
			target = fn
		}
	}

	if target.Type() != "attribute" {
		return false
	}
	obj := target.ChildByFieldName("object")
	attr := target.ChildByFieldName("attribute")
	if obj == nil || attr == nil {
		return false
	}
	return nodeText(obj, source) == appVar && nodeText(attr, source) == "cell"
}

// nodeText extracts a node's source text.
func nodeText(n *sitter.Node, source []byte) string {
	return string(source[n.StartByte():n.EndByte()])
}

// dedentBody extracts fn's body source and removes the common leading
// indentation, matching the original implementation's dedent-based cell
// body extraction.
func dedentBody(fn *sitter.Node, source []byte) string {
	body := fn.ChildByFieldName("body")
	if body == nil {
		return ""
	}
	// The body node starts at its first token, so widen it back to the
	// start of that line to keep the first line's indentation.
	start := body.StartByte()
	lineStart := start
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if strings.TrimSpace(string(source[lineStart:start])) == "" {
		start = lineStart
	}
	raw := string(source[start:body.EndByte()])
	lines := strings.Split(raw, "\n")

	minIndent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return strings.Join(lines, "\n")
	}
	for i, line := range lines {
		if len(line) >= minIndent {
			lines[i] = line[minIndent:]
		} else {
			lines[i] = strings.TrimLeft(line, " \t")
		}
	}
	return strings.Join(lines, "\n")
}

func (n *ReactiveNotebook) Cells() []Cell            { return n.cells }
func (n *ReactiveNotebook) CodeCells() []Cell         { return codeCells(n.cells) }
func (n *ReactiveNotebook) ExecutionOrder() []int     { return executionOrder(n.cells) }
func (n *ReactiveNotebook) InterpreterHint() string   { return "python" }

func (n *ReactiveNotebook) Get(index int) (Cell, error) {
	if err := checkBounds(len(n.cells), index); err != nil {
		return Cell{}, err
	}
	return n.cells[index], nil
}

func (n *ReactiveNotebook) Update(int, string) error { return readOnlyErr() }
func (n *ReactiveNotebook) Insert(int, Cell) error   { return readOnlyErr() }
func (n *ReactiveNotebook) Delete(int) error         { return readOnlyErr() }
func (n *ReactiveNotebook) Move(int, int) error      { return readOnlyErr() }
func (n *ReactiveNotebook) Save(string) error        { return readOnlyErr() }

func readOnlyErr() error {
	return cwerr.New(cwerr.KindReadOnlyNotebook, "notebook", errReactiveReadOnly)
}

var errReactiveReadOnly = &reactiveReadOnlyError{}

type reactiveReadOnlyError struct{}

func (e *reactiveReadOnlyError) Error() string {
	return "reactive notebooks are read-only"
}
