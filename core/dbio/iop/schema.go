package iop

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/flarco/g"
	"github.com/samber/lo"
)

// DeclaredFields is the schema a caller asserts for a dataset.
// The zero value is Unknown.
type DeclaredFields struct {
	names []string
	known bool
}

// UnknownFields returns the Unknown sentinel
func UnknownFields() DeclaredFields {
	return DeclaredFields{}
}

// KnownFields returns declared fields with the given names
func KnownFields(names ...string) DeclaredFields {
	return DeclaredFields{names: append([]string{}, names...), known: true}
}

// Known returns false for the Unknown sentinel
func (df DeclaredFields) Known() bool {
	return df.known
}

// Names returns the declared names
func (df DeclaredFields) Names() []string {
	return append([]string{}, df.names...)
}

func (df DeclaredFields) cacheKey() string {
	if !df.known {
		return "<unknown>"
	}
	return g.Marshal(df.names)
}

// FieldIndexMap maps a column name to its position
type FieldIndexMap map[string]int

// NewFieldIndexMap maps each name to its position.
// On duplicate names, the first position wins.
func NewFieldIndexMap(names []string) FieldIndexMap {
	fim := make(FieldIndexMap, len(names))
	for i, name := range names {
		if _, ok := fim[name]; !ok {
			fim[name] = i
		}
	}
	return fim
}

// Resolve returns the position of name
func (fim FieldIndexMap) Resolve(name string) (pos int, ok bool) {
	pos, ok = fim[name]
	return
}

// MustResolve returns the position of name, panicking if absent.
// Names are validated during schema resolution.
func (fim FieldIndexMap) MustResolve(name string) int {
	pos, ok := fim[name]
	if !ok {
		panic(g.F("field %s is not mapped", name))
	}
	return pos
}

// PositionalNames generates names col0..colN-1
func PositionalNames(n int) []string {
	return lo.Times(n, func(i int) string { return g.F("col%d", i) })
}

// ResolvedSchema is the validated mapping from effective field names to file columns
type ResolvedSchema struct {
	Names   []string      `json:"names"`
	Index   FieldIndexMap `json:"index"`
	Columns int           `json:"columns"` // column count of the file
}

// Project copies src (in file column order) into dst in field order
func (rs *ResolvedSchema) Project(src, dst *RowBuffer) {
	dst.Reset()
	for _, name := range rs.Names {
		pos := rs.Index.MustResolve(name)
		if pos >= src.Len() {
			dst.AppendNull()
			continue
		}
		cell := src.Cell(pos)
		dst.Append(cell.Value, cell.Null)
	}
}

// SinkSchema is the resolved output layout
type SinkSchema struct {
	Fields  []string      `json:"fields"`  // tuple field order
	Columns []string      `json:"columns"` // output column order, empty for positional output
	Index   FieldIndexMap `json:"index"`   // output column position by field name
	Header  []string      `json:"header"`  // header record to write, empty for none
	format  FormatSpec
}

// Format returns the writer format, carrying the header to write
func (ss *SinkSchema) Format() FormatSpec {
	return ss.format.WithHeader(ss.Header)
}

// Place copies a tuple (in field order) into dst, at the output column of
// each field. Columns without a value are null.
func (ss *SinkSchema) Place(tuple, dst *RowBuffer) {
	dst.Reset()
	if len(ss.Columns) == 0 {
		for i := 0; i < tuple.Len(); i++ {
			cell := tuple.Cell(i)
			dst.Append(cell.Value, cell.Null)
		}
		return
	}

	for range ss.Columns {
		dst.AppendNull()
	}
	for i, name := range ss.Fields {
		if i >= tuple.Len() {
			break
		}
		cell := tuple.Cell(i)
		dst.Set(ss.Index.MustResolve(name), cell.Value, cell.Null)
	}
}

// Sampler returns the first physical record of a file
type Sampler interface {
	SampleRecord(ctx context.Context) ([]string, error)
}

// SamplerFunc adapts a function to a Sampler
type SamplerFunc func(ctx context.Context) ([]string, error)

func (f SamplerFunc) SampleRecord(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// FileSampler reads the first record of a file through its own stream,
// independent of any split reader
type FileSampler struct {
	Opener FileOpener
	Codecs CodecLookup
	Path   string
	Format FormatSpec
}

// SampleRecord returns the first record, or io.EOF for an empty file
func (fs *FileSampler) SampleRecord(ctx context.Context) (fields []string, err error) {
	file, err := fs.Opener.OpenFile(ctx, fs.Path)
	if err != nil {
		return nil, g.Error(err, "could not open %s for sampling", fs.Path)
	}
	defer file.Close()

	var reader io.Reader = file
	if fs.Codecs != nil {
		if codec := fs.Codecs.CodecFor(fs.Path); codec != nil {
			if reader, err = codec.NewReader(file); err != nil {
				return nil, g.Error(err, "could not decompress %s for sampling", fs.Path)
			}
			defer closeIfCloser(reader)
		}
	}

	decoder, err := newCharsetDecoder(fs.Format.Charset)
	if err != nil {
		return nil, err
	}

	_, raw, err := newRecordFramer(reader, 0, fs.Format).Next()
	if err != nil {
		return nil, err
	}

	if raw, err = decoder.Decode(raw); err != nil {
		return nil, err
	}

	fields, err = NewTokenizer(fs.Format).Parse(raw)
	if err != nil {
		return nil, &RecordParseError{Path: fs.Path, Record: 0, Offset: 0, Err: err}
	}
	if fs.Format.IgnoreSurroundingSpaces {
		fields = trimCells(fields)
	}
	return fields, nil
}

// SchemaResolver reconciles declared fields with the file's header information.
// Results are cached per declared fields, so resolving again returns the same schema.
type SchemaResolver struct {
	format  FormatSpec
	sampler Sampler
	sources map[string]*ResolvedSchema
	sinks   map[string]*SinkSchema
	mux     sync.Mutex
}

// NewSchemaResolver creates a SchemaResolver. The sampler is only
// used for source resolution.
func NewSchemaResolver(format FormatSpec, sampler Sampler) *SchemaResolver {
	return &SchemaResolver{
		format:  format,
		sampler: sampler,
		sources: map[string]*ResolvedSchema{},
		sinks:   map[string]*SinkSchema{},
	}
}

func validateDeclared(fields DeclaredFields) error {
	if !fields.Known() {
		return nil
	}
	if len(fields.names) == 0 {
		return NewConfigurationError("declared fields cannot be empty")
	}
	if dups := lo.FindDuplicates(fields.names); len(dups) > 0 {
		return NewConfigurationError("declared fields have duplicate names: %s", strings.Join(dups, ", "))
	}
	return nil
}

// ResolveSource determines the effective field names of the file
func (sr *SchemaResolver) ResolveSource(ctx context.Context, fields DeclaredFields) (rs *ResolvedSchema, err error) {
	if err = validateDeclared(fields); err != nil {
		return nil, err
	}

	sr.mux.Lock()
	defer sr.mux.Unlock()
	if rs, ok := sr.sources[fields.cacheKey()]; ok {
		return rs, nil
	}

	if sr.sampler == nil {
		return nil, NewConfigurationError("no sampler provided for source schema resolution")
	}

	sample, err := sr.sampler.SampleRecord(ctx)
	if err == io.EOF {
		return nil, NewSchemaMismatchError(nil, "file has no record to derive the schema from")
	} else if err != nil {
		return nil, g.Error(err, "could not read sample record")
	}

	rs, err = resolveSource(sr.format, fields, sample)
	if err != nil {
		return nil, err
	}

	g.Debug("resolved source schema: %s", g.Marshal(rs.Names))
	sr.sources[fields.cacheKey()] = rs
	return rs, nil
}

func resolveSource(format FormatSpec, fields DeclaredFields, sample []string) (*ResolvedSchema, error) {
	numCols := len(sample)
	declared := fields.Names()

	missingFrom := func(header []string) error {
		if missing := lo.Without(declared, header...); len(missing) > 0 {
			return NewSchemaMismatchError(missing, "declared fields %s not found in header %s", g.Marshal(declared), g.Marshal(header))
		}
		return nil
	}

	switch {
	case format.HasHeader():
		header := format.Header
		if len(header) != numCols {
			return nil, NewSchemaMismatchError(nil, "header has %d columns but the first record has %d", len(header), numCols)
		}
		if !fields.Known() {
			return &ResolvedSchema{Names: append([]string{}, header...), Index: NewFieldIndexMap(header), Columns: numCols}, nil
		}
		if err := missingFrom(header); err != nil {
			return nil, err
		}
		return &ResolvedSchema{Names: declared, Index: NewFieldIndexMap(header), Columns: numCols}, nil

	case !fields.Known() && !format.SkipHeaderRecord:
		names := PositionalNames(numCols)
		return &ResolvedSchema{Names: names, Index: NewFieldIndexMap(names), Columns: numCols}, nil

	case !fields.Known() && format.SkipHeaderRecord:
		if dups := lo.FindDuplicates(sample); len(dups) > 0 {
			return nil, NewSchemaMismatchError(nil, "header record has duplicate column names: %s", strings.Join(dups, ", "))
		}
		names := append([]string{}, sample...)
		return &ResolvedSchema{Names: names, Index: NewFieldIndexMap(names), Columns: numCols}, nil

	case format.SkipHeaderRecord:
		if err := missingFrom(sample); err != nil {
			return nil, err
		}
		return &ResolvedSchema{Names: declared, Index: NewFieldIndexMap(sample), Columns: numCols}, nil

	default:
		if len(declared) != numCols {
			return nil, NewSchemaMismatchError(nil, "%d fields declared but the first record has %d columns", len(declared), numCols)
		}
		return &ResolvedSchema{Names: declared, Index: NewFieldIndexMap(declared), Columns: numCols}, nil
	}
}

// ResolveSink determines the header to write and where each field is placed
func (sr *SchemaResolver) ResolveSink(fields DeclaredFields) (ss *SinkSchema, err error) {
	if err = validateDeclared(fields); err != nil {
		return nil, err
	}

	sr.mux.Lock()
	defer sr.mux.Unlock()
	if ss, ok := sr.sinks[fields.cacheKey()]; ok {
		return ss, nil
	}

	ss, err = resolveSink(sr.format, fields)
	if err != nil {
		return nil, err
	}

	g.Debug("resolved sink schema: columns=%s header=%s", g.Marshal(ss.Columns), g.Marshal(ss.Header))
	sr.sinks[fields.cacheKey()] = ss
	return ss, nil
}

func resolveSink(format FormatSpec, fields DeclaredFields) (*SinkSchema, error) {
	ss := &SinkSchema{format: format}
	declared := fields.Names()

	switch {
	case format.HasHeader():
		ss.Columns = append([]string{}, format.Header...)
		ss.Fields = lo.Ternary(fields.Known(), declared, ss.Columns)
		if missing := lo.Without(ss.Fields, ss.Columns...); len(missing) > 0 {
			return nil, NewSchemaMismatchError(missing, "sink fields %s not found in header %s", g.Marshal(declared), g.Marshal(format.Header))
		}
	case fields.Known():
		ss.Columns = declared
		ss.Fields = declared
	case !format.SkipHeaderRecord:
		return nil, NewConfigurationError("cannot write a header: sink fields are unknown and no header is configured")
	}

	ss.Index = NewFieldIndexMap(ss.Columns)
	if !format.SkipHeaderRecord {
		ss.Header = ss.Columns
	}
	return ss, nil
}
