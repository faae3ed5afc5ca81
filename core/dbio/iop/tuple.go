package iop

// SchemaReader yields the records of a split in resolved field order
type SchemaReader struct {
	*SplitRecordReader
	schema *ResolvedSchema
	tuple  *RowBuffer
}

// NewSchemaReader wraps reader so rows are projected onto schema
func NewSchemaReader(reader *SplitRecordReader, schema *ResolvedSchema) *SchemaReader {
	return &SchemaReader{
		SplitRecordReader: reader,
		schema:            schema,
		tuple:             NewRowBuffer(len(schema.Names)),
	}
}

// Next advances to the next record
func (sr *SchemaReader) Next() bool {
	if !sr.SplitRecordReader.Next() {
		return false
	}
	sr.schema.Project(sr.SplitRecordReader.Row(), sr.tuple)
	return true
}

// Row returns the current record in field order. The buffer is reused.
func (sr *SchemaReader) Row() *RowBuffer {
	return sr.tuple
}

// Fields returns the field names of the rows
func (sr *SchemaReader) Fields() []string {
	return sr.schema.Names
}

// SchemaWriter places tuples into header-ordered rows and writes them
type SchemaWriter struct {
	*SplitRecordWriter
	schema *SinkSchema
	row    *RowBuffer
}

// NewSchemaWriter wraps writer so tuples are placed according to schema
func NewSchemaWriter(writer *SplitRecordWriter, schema *SinkSchema) *SchemaWriter {
	return &SchemaWriter{
		SplitRecordWriter: writer,
		schema:            schema,
		row:               NewRowBuffer(len(schema.Columns)),
	}
}

// Write writes a tuple given in sink field order
func (sw *SchemaWriter) Write(tuple *RowBuffer) error {
	sw.schema.Place(tuple, sw.row)
	return sw.SplitRecordWriter.Write(sw.row)
}
