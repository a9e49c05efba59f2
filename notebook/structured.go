package notebook

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cellwright/atomicfile"
	"cellwright/cwerr"
)

// rawNotebook mirrors the on-disk Jupyter v4 cell schema. Source is kept
// as json.RawMessage because it legally appears as either a string or an
// array of strings; outputs and metadata are kept as raw bytes too so
// save() can round-trip a cell's extras byte-for-byte when its source
// did not change.
type rawNotebook struct {
	Cells         []rawCell       `json:"cells"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	NBFormat      int             `json:"nbformat,omitempty"`
	NBFormatMinor int             `json:"nbformat_minor,omitempty"`
}

type rawCell struct {
	CellType       string          `json:"cell_type"`
	Source         json.RawMessage `json:"source"`
	Outputs        json.RawMessage `json:"outputs,omitempty"`
	ExecutionCount *int            `json:"execution_count,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// StructuredNotebook is the read-write, Jupyter-shaped notebook format.
type StructuredNotebook struct {
	path     string
	raw      rawNotebook
	cells    []Cell
	original []rawCell // unmodified copy of raw.Cells, for byte-for-byte output preservation
	dirty    map[int]bool
}

func loadStructured(path string) (*StructuredNotebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cwerr.New(cwerr.KindNotFound, "notebook.Load", err)
		}
		return nil, cwerr.New(cwerr.KindCorruption, "notebook.Load", err)
	}

	var raw rawNotebook
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, cwerr.New(cwerr.KindCorruption, "notebook.Load", err)
	}

	cells := make([]Cell, len(raw.Cells))
	for i, rc := range raw.Cells {
		cells[i] = Cell{
			Kind:             Kind(rc.CellType),
			Source:           joinSource(rc.Source),
			ExecutionCounter: rc.ExecutionCount,
			Outputs:          parseOutputs(rc.Outputs),
		}
	}

	original := make([]rawCell, len(raw.Cells))
	copy(original, raw.Cells)

	return &StructuredNotebook{
		path:     path,
		raw:      raw,
		cells:    cells,
		original: original,
		dirty:    map[int]bool{},
	}, nil
}

// joinSource normalizes the Jupyter "string or array-of-strings" source
// representation into a single string.
func joinSource(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asLines []string
	if err := json.Unmarshal(raw, &asLines); err == nil {
		return strings.Join(asLines, "")
	}
	return ""
}

// rawOutput mirrors the Jupyter v4 output schema across its four
// output_type variants.
type rawOutput struct {
	OutputType string          `json:"output_type"`
	Name       string          `json:"name,omitempty"`
	Text       json.RawMessage `json:"text,omitempty"`
	Data       map[string]json.RawMessage `json:"data,omitempty"`
	EName      string          `json:"ename,omitempty"`
	EValue     string          `json:"evalue,omitempty"`
	Traceback  []string        `json:"traceback,omitempty"`
}

// parseOutputs flattens a cell's raw outputs array into []Output,
// tolerating any parse failure by returning no outputs for that cell.
func parseOutputs(raw json.RawMessage) []Output {
	if len(raw) == 0 {
		return nil
	}
	var rawOutputs []rawOutput
	if err := json.Unmarshal(raw, &rawOutputs); err != nil {
		return nil
	}
	outputs := make([]Output, 0, len(rawOutputs))
	for _, ro := range rawOutputs {
		o := Output{Type: ro.OutputType, Data: map[string]any{}}
		switch ro.OutputType {
		case "stream":
			o.Text = joinSource(ro.Text)
		case "execute_result", "display_data":
			if plain, ok := ro.Data["text/plain"]; ok {
				o.Text = joinSource(plain)
			}
			for k, v := range ro.Data {
				var decoded any
				if json.Unmarshal(v, &decoded) == nil {
					o.Data[k] = decoded
				}
			}
		case "error":
			o.Text = strings.Join(ro.Traceback, "\n")
			o.Data["ename"] = ro.EName
			o.Data["evalue"] = ro.EValue
		}
		outputs = append(outputs, o)
	}
	return outputs
}

func (n *StructuredNotebook) Cells() []Cell         { return n.cells }
func (n *StructuredNotebook) CodeCells() []Cell      { return codeCells(n.cells) }
func (n *StructuredNotebook) ExecutionOrder() []int  { return executionOrder(n.cells) }
func (n *StructuredNotebook) InterpreterHint() string {
	return interpreterHintFromMetadata(n.raw.Metadata)
}

func interpreterHintFromMetadata(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var m struct {
		KernelSpec struct {
			Language string `json:"language"`
		} `json:"kernelspec"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return m.KernelSpec.Language
}

func (n *StructuredNotebook) Get(index int) (Cell, error) {
	if err := checkBounds(len(n.cells), index); err != nil {
		return Cell{}, err
	}
	return n.cells[index], nil
}

func (n *StructuredNotebook) Update(index int, source string) error {
	if err := checkBounds(len(n.cells), index); err != nil {
		return err
	}
	n.cells[index].Source = source
	n.cells[index].ExecutionCounter = nil
	n.dirty[index] = true
	return nil
}

func (n *StructuredNotebook) Insert(index int, c Cell) error {
	if index < 0 || index > len(n.cells) {
		return cwerr.New(cwerr.KindIndexOutOfRange, "notebook.Insert",
			fmt.Errorf("insert index %d out of range for %d cells", index, len(n.cells)))
	}
	n.cells = append(n.cells, Cell{})
	copy(n.cells[index+1:], n.cells[index:])
	n.cells[index] = c

	n.original = append(n.original, rawCell{})
	copy(n.original[index+1:], n.original[index:])
	n.original[index] = rawCell{}

	n.reindexDirty(index, 1)
	n.dirty[index] = true
	return nil
}

func (n *StructuredNotebook) Delete(index int) error {
	if err := checkBounds(len(n.cells), index); err != nil {
		return err
	}
	n.cells = append(n.cells[:index], n.cells[index+1:]...)
	n.original = append(n.original[:index], n.original[index+1:]...)
	delete(n.dirty, index)
	n.reindexDirty(index, -1)
	return nil
}

func (n *StructuredNotebook) Move(from, to int) error {
	if err := checkBounds(len(n.cells), from); err != nil {
		return err
	}
	if err := checkBounds(len(n.cells), to); err != nil {
		return err
	}
	c := n.cells[from]
	orig := n.original[from]
	n.cells = append(n.cells[:from], n.cells[from+1:]...)
	n.original = append(n.original[:from], n.original[from+1:]...)

	n.cells = append(n.cells, Cell{})
	copy(n.cells[to+1:], n.cells[to:])
	n.cells[to] = c

	n.original = append(n.original, rawCell{})
	copy(n.original[to+1:], n.original[to:])
	n.original[to] = orig

	wasDirty := n.dirty[from]
	delete(n.dirty, from)
	n.reindexDirty(from+1, -1)
	n.reindexDirty(to, 1)
	if wasDirty {
		n.dirty[to] = true
	}
	return nil
}

// reindexDirty shifts recorded dirty-cell indices at or after at by delta,
// so a structural mutation doesn't leave stale dirty markers on the wrong
// position.
func (n *StructuredNotebook) reindexDirty(at, delta int) {
	shifted := map[int]bool{}
	for idx := range n.dirty {
		if idx >= at {
			shifted[idx+delta] = true
		} else {
			shifted[idx] = true
		}
	}
	n.dirty = shifted
}

// Save writes the notebook back to path (or the load path if path is
// empty), preserving each unmodified cell's outputs byte-for-byte and
// clearing outputs only for cells whose source changed.
func (n *StructuredNotebook) Save(path string) error {
	if path == "" {
		path = n.path
	}

	out := rawNotebook{
		Metadata:      n.raw.Metadata,
		NBFormat:      n.raw.NBFormat,
		NBFormatMinor: n.raw.NBFormatMinor,
	}
	if out.NBFormat == 0 {
		out.NBFormat = 4
	}

	out.Cells = make([]rawCell, len(n.cells))
	for i, c := range n.cells {
		srcJSON, _ := json.Marshal(c.Source)
		rc := rawCell{
			CellType:       string(c.Kind),
			Source:         srcJSON,
			ExecutionCount: c.ExecutionCounter,
		}
		if !n.dirty[i] && i < len(n.original) {
			rc.Outputs = n.original[i].Outputs
			rc.Metadata = n.original[i].Metadata
		}
		out.Cells[i] = rc
	}

	data, err := json.MarshalIndent(out, "", " ")
	if err != nil {
		return cwerr.New(cwerr.KindCorruption, "notebook.Save", err)
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return cwerr.New(cwerr.KindCorruption, "notebook.Save", err)
	}
	return nil
}
