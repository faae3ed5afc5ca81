package iop

// Cell is a nullable text value
type Cell struct {
	Value string
	Null  bool
}

// RowBuffer is a reusable ordered sequence of nullable cells holding one record.
// Readers reset and refill the same buffer for every record, so a consumer
// must Clone a row it wants to keep past the next read.
type RowBuffer struct {
	cells []Cell
}

// NewRowBuffer creates a RowBuffer with capacity for n cells
func NewRowBuffer(n int) *RowBuffer {
	return &RowBuffer{cells: make([]Cell, 0, n)}
}

// RowFromStrings creates a RowBuffer of non-null values
func RowFromStrings(values ...string) *RowBuffer {
	row := NewRowBuffer(len(values))
	for _, val := range values {
		row.Append(val, false)
	}
	return row
}

// Reset clears the row, keeping the allocated cells
func (r *RowBuffer) Reset() {
	r.cells = r.cells[:0]
}

// Len returns the number of cells
func (r *RowBuffer) Len() int {
	return len(r.cells)
}

// Append adds a cell
func (r *RowBuffer) Append(value string, null bool) {
	if null {
		value = ""
	}
	r.cells = append(r.cells, Cell{Value: value, Null: null})
}

// AppendNull adds a null cell
func (r *RowBuffer) AppendNull() {
	r.Append("", true)
}

// Get returns the value at i. ok is false for a null cell.
func (r *RowBuffer) Get(i int) (value string, ok bool) {
	cell := r.cells[i]
	return cell.Value, !cell.Null
}

// IsNull returns true if the cell at i is null
func (r *RowBuffer) IsNull(i int) bool {
	return r.cells[i].Null
}

// Set sets the cell at i, padding with null cells when i is past the end
func (r *RowBuffer) Set(i int, value string, null bool) {
	for len(r.cells) <= i {
		r.AppendNull()
	}
	if null {
		value = ""
	}
	r.cells[i] = Cell{Value: value, Null: null}
}

// Cell returns the cell at i
func (r *RowBuffer) Cell(i int) Cell {
	return r.cells[i]
}

// Strings returns the values, with nullToken in place of null cells
func (r *RowBuffer) Strings(nullToken string) []string {
	return r.appendStrings(make([]string, 0, len(r.cells)), nullToken)
}

func (r *RowBuffer) appendStrings(dst []string, nullToken string) []string {
	for _, cell := range r.cells {
		if cell.Null {
			dst = append(dst, nullToken)
		} else {
			dst = append(dst, cell.Value)
		}
	}
	return dst
}

// Values returns the values as `any`, nil for null cells
func (r *RowBuffer) Values() []any {
	values := make([]any, len(r.cells))
	for i, cell := range r.cells {
		if !cell.Null {
			values[i] = cell.Value
		}
	}
	return values
}

// Clone returns a deep copy
func (r *RowBuffer) Clone() *RowBuffer {
	return &RowBuffer{cells: append(make([]Cell, 0, len(r.cells)), r.cells...)}
}
