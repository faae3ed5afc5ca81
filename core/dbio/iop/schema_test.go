package iop

import (
	"context"
	"strings"
	"testing"

	"github.com/flarco/g"
	"github.com/stretchr/testify/assert"
)

func staticSampler(record ...string) Sampler {
	return SamplerFunc(func(ctx context.Context) ([]string, error) {
		return record, nil
	})
}

func TestResolveSourceDecisionTable(t *testing.T) {
	ctx := context.Background()
	sample := staticSampler("id", "name", "age")

	type testCase struct {
		name     string
		header   []string
		skip     bool
		fields   DeclaredFields
		names    []string
		index    FieldIndexMap
		mismatch bool
	}

	cases := []testCase{
		{
			name:  "unknown, no header, no skip",
			names: []string{"col0", "col1", "col2"},
			index: FieldIndexMap{"col0": 0, "col1": 1, "col2": 2},
		},
		{
			name:  "unknown, no header, skip",
			skip:  true,
			names: []string{"id", "name", "age"},
			index: FieldIndexMap{"id": 0, "name": 1, "age": 2},
		},
		{
			name:   "known, no header, skip",
			skip:   true,
			fields: KnownFields("age", "id"),
			names:  []string{"age", "id"},
			index:  FieldIndexMap{"id": 0, "name": 1, "age": 2},
		},
		{
			name:     "known, no header, skip, missing field",
			skip:     true,
			fields:   KnownFields("age", "email"),
			mismatch: true,
		},
		{
			name:   "known, no header, no skip",
			fields: KnownFields("a", "b", "c"),
			names:  []string{"a", "b", "c"},
			index:  FieldIndexMap{"a": 0, "b": 1, "c": 2},
		},
		{
			name:     "known, no header, no skip, count mismatch",
			fields:   KnownFields("a", "b"),
			mismatch: true,
		},
		{
			name:   "unknown, header",
			header: []string{"x", "y", "z"},
			names:  []string{"x", "y", "z"},
			index:  FieldIndexMap{"x": 0, "y": 1, "z": 2},
		},
		{
			name:     "unknown, header, count mismatch",
			header:   []string{"x", "y"},
			mismatch: true,
		},
		{
			name:   "known, header",
			header: []string{"x", "y", "z"},
			fields: KnownFields("z", "x"),
			names:  []string{"z", "x"},
			index:  FieldIndexMap{"x": 0, "y": 1, "z": 2},
		},
		{
			name:     "known, header, missing field",
			header:   []string{"x", "y", "z"},
			fields:   KnownFields("z", "w"),
			mismatch: true,
		},
	}

	for _, c := range cases {
		format := DefaultFormatSpec().WithHeader(c.header).WithSkipHeaderRecord(c.skip)
		resolver := NewSchemaResolver(format, sample)
		rs, err := resolver.ResolveSource(ctx, c.fields)
		if c.mismatch {
			assert.True(t, IsSchemaMismatch(err), c.name)
			continue
		}
		if !assert.NoError(t, err, c.name) {
			continue
		}
		assert.Equal(t, c.names, rs.Names, c.name)
		assert.Equal(t, c.index, rs.Index, c.name)
		assert.Equal(t, 3, rs.Columns, c.name)
	}
}

func TestResolveSourceMissingListed(t *testing.T) {
	format := DefaultFormatSpec().WithSkipHeaderRecord(true)
	resolver := NewSchemaResolver(format, staticSampler("id", "name"))
	_, err := resolver.ResolveSource(context.Background(), KnownFields("id", "email", "phone"))
	if assert.Error(t, err) {
		mismatch, ok := err.(*SchemaMismatchError)
		if assert.True(t, ok) {
			assert.Equal(t, []string{"email", "phone"}, mismatch.Missing)
		}
	}
}

func TestResolveSourceIdempotent(t *testing.T) {
	calls := 0
	sampler := SamplerFunc(func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	})

	resolver := NewSchemaResolver(DefaultFormatSpec().WithSkipHeaderRecord(true), sampler)
	rs1, err := resolver.ResolveSource(context.Background(), UnknownFields())
	g.AssertNoError(t, err)
	rs2, err := resolver.ResolveSource(context.Background(), UnknownFields())
	g.AssertNoError(t, err)
	assert.Same(t, rs1, rs2)
	assert.Equal(t, 1, calls)

	// a fresh resolver over the same inputs yields an equal schema
	rs3, err := NewSchemaResolver(DefaultFormatSpec().WithSkipHeaderRecord(true), sampler).ResolveSource(context.Background(), UnknownFields())
	g.AssertNoError(t, err)
	assert.Equal(t, rs1, rs3)
}

func TestResolveSourceEmptyFile(t *testing.T) {
	data := ""
	sampler := &FileSampler{Opener: memFS{"f.csv": []byte(data)}, Path: "f.csv", Format: DefaultFormatSpec()}
	_, err := NewSchemaResolver(DefaultFormatSpec(), sampler).ResolveSource(context.Background(), UnknownFields())
	assert.True(t, IsSchemaMismatch(err))

	_, err = NewSchemaResolver(DefaultFormatSpec(), sampler).ResolveSource(context.Background(), KnownFields("a", "a"))
	assert.True(t, IsConfigurationError(err))
}

func TestResolveSourceReorderedRead(t *testing.T) {
	data := "id,name\n1,Alice\n2,Bob\n"
	fs := memFS{"f.csv": []byte(data)}
	format := DefaultFormatSpec().WithHeader([]string{"id", "name"}).WithSkipHeaderRecord(true)

	sampler := &FileSampler{Opener: fs, Path: "f.csv", Format: format}
	rs, err := NewSchemaResolver(format, sampler).ResolveSource(context.Background(), KnownFields("name", "id"))
	g.AssertNoError(t, err)
	assert.Equal(t, FieldIndexMap{"id": 0, "name": 1}, rs.Index)

	planner := NewSplitPlanner(fs, nil, SyncModeLine)
	opened, err := planner.Open(context.Background(), Split{"f.csv", 0, int64(len(data))})
	g.AssertNoError(t, err)
	reader, err := NewSplitRecordReader(context.Background(), opened, format, ReaderOptions{Strict: true, ExpectedColumns: rs.Columns})
	g.AssertNoError(t, err)

	sr := NewSchemaReader(reader, rs)
	defer sr.Close()

	rows := []string{}
	for sr.Next() {
		rows = append(rows, strings.Join(sr.Row().Strings(""), "|"))
	}
	g.AssertNoError(t, sr.Err())
	assert.Equal(t, []string{"Alice|1", "Bob|2"}, rows)
	assert.Equal(t, []string{"name", "id"}, sr.Fields())
}

func TestResolveSourcePositionalFirstRecordIsData(t *testing.T) {
	data := "a,b,c\nd,e,f\n"
	fs := memFS{"f.csv": []byte(data)}
	format := DefaultFormatSpec()

	rs, err := NewSchemaResolver(format, &FileSampler{Opener: fs, Path: "f.csv", Format: format}).
		ResolveSource(context.Background(), UnknownFields())
	g.AssertNoError(t, err)
	assert.Equal(t, []string{"col0", "col1", "col2"}, rs.Names)

	planner := NewSplitPlanner(fs, nil, SyncModeLine)
	res := readSplit(t, planner, Split{"f.csv", 0, int64(len(data))}, format, ReaderOptions{Strict: true, ExpectedColumns: rs.Columns})
	g.AssertNoError(t, res.err)
	assert.Equal(t, []string{"a|b|c", "d|e|f"}, res.rows)
}

func TestResolveSink(t *testing.T) {
	// header and fields: placed by name, padded with nulls
	format := DefaultFormatSpec().WithHeader([]string{"id", "name", "age"}).WithNullString("NULL")
	ss, err := NewSchemaResolver(format, nil).ResolveSink(KnownFields("age", "id"))
	g.AssertNoError(t, err)
	assert.Equal(t, []string{"id", "name", "age"}, ss.Header)

	row := NewRowBuffer(3)
	ss.Place(RowFromStrings("42", "7"), row)
	assert.Equal(t, []string{"7", "NULL", "42"}, row.Strings("NULL"))

	// missing sink field
	_, err = NewSchemaResolver(format, nil).ResolveSink(KnownFields("age", "email"))
	assert.True(t, IsSchemaMismatch(err))

	// no header: declared names are written
	ss, err = NewSchemaResolver(DefaultFormatSpec(), nil).ResolveSink(KnownFields("b", "a"))
	g.AssertNoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ss.Header)
	assert.Equal(t, []string{"b", "a"}, ss.Format().Header)

	// skip header: never written
	ss, err = NewSchemaResolver(format.WithSkipHeaderRecord(true), nil).ResolveSink(KnownFields("id"))
	g.AssertNoError(t, err)
	assert.Empty(t, ss.Header)
	assert.False(t, ss.Format().HasHeader())

	// unknown fields and skip: positional pass through
	ss, err = NewSchemaResolver(DefaultFormatSpec().WithSkipHeaderRecord(true), nil).ResolveSink(UnknownFields())
	g.AssertNoError(t, err)
	ss.Place(RowFromStrings("x", "y"), row)
	assert.Equal(t, []string{"x", "y"}, row.Strings(""))

	// unknown fields, no header, header expected
	_, err = NewSchemaResolver(DefaultFormatSpec(), nil).ResolveSink(UnknownFields())
	assert.True(t, IsConfigurationError(err))
}

func TestSinkRoundTrip(t *testing.T) {
	format := DefaultFormatSpec().WithHeader([]string{"id", "name"}).WithNullString(`\N`)
	format.RecordSeparator = "\n"
	ss, err := NewSchemaResolver(format, nil).ResolveSink(KnownFields("name", "id"))
	g.AssertNoError(t, err)

	out := &bufCloser{}
	w, err := NewSplitRecordWriter(out, ss.Format())
	g.AssertNoError(t, err)
	sw := NewSchemaWriter(w, ss)

	tuple := NewRowBuffer(2)
	tuple.AppendNull()
	tuple.Append("1", false)
	g.AssertNoError(t, sw.Write(tuple))
	g.AssertNoError(t, sw.Write(RowFromStrings("Bob", "2")))
	g.AssertNoError(t, sw.Close())

	assert.Equal(t, "id,name\n1,\\N\n2,Bob\n", out.String())
}

func TestFieldIndexMap(t *testing.T) {
	fim := NewFieldIndexMap([]string{"a", "b", "a"})
	pos, ok := fim.Resolve("a")
	assert.True(t, ok)
	assert.Equal(t, 0, pos)
	_, ok = fim.Resolve("z")
	assert.False(t, ok)
	assert.Equal(t, 1, fim.MustResolve("b"))
	assert.Panics(t, func() { fim.MustResolve("z") })
}
