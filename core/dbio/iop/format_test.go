package iop

import (
	"testing"

	"github.com/flarco/g"
	"github.com/stretchr/testify/assert"
)

func TestFormatSpecDefaults(t *testing.T) {
	fs, err := NewFormatSpec(map[string]string{}, RoleReader)
	g.AssertNoError(t, err)
	assert.Equal(t, DefaultFormatSpec(), fs)
	assert.Equal(t, ',', fs.Delimiter)
	assert.Equal(t, '"', *fs.Quote)
	assert.Nil(t, fs.Escape)
	assert.Equal(t, "\r\n", fs.RecordSeparator)
	assert.True(t, fs.IgnoreEmptyLines)
	assert.False(t, fs.SkipHeaderRecord)
	assert.Nil(t, fs.NullString)
	assert.True(t, Props{}.Strict())
}

func TestFormatSpecFromProps(t *testing.T) {
	props := map[string]string{
		"csv.reader.delimiter":                `\t`,
		"csv.reader.columns":                  "id, name ,age",
		"csv.reader.skip_header":              "true",
		"csv.reader.null":                     `\N`,
		"csv.reader.escape":                   `\\`,
		"csv.reader.record_separator":         `\n`,
		"csv.reader.ignore_empty_lines":       "false",
		"csv.reader.ignore_surrounding_lines": "true",
		"csv.charset":                         "ISO-8859-1",
		"csv.writer.delimiter":                ";",
	}

	fs, err := NewFormatSpec(props, RoleReader)
	g.AssertNoError(t, err)
	assert.Equal(t, '\t', fs.Delimiter)
	assert.Equal(t, []string{"id", "name", "age"}, fs.Header)
	assert.True(t, fs.SkipHeaderRecord)
	assert.Equal(t, `\N`, *fs.NullString)
	assert.Equal(t, '\\', *fs.Escape)
	assert.Equal(t, "\n", fs.RecordSeparator)
	assert.False(t, fs.IgnoreEmptyLines)
	assert.True(t, fs.IgnoreSurroundingSpaces)
	assert.Equal(t, "iso-8859-1", fs.Charset)

	fs, err = NewFormatSpec(props, RoleWriter)
	g.AssertNoError(t, err)
	assert.Equal(t, ';', fs.Delimiter)
	assert.Empty(t, fs.Header)

	// empty quote disables quoting
	fs, err = NewFormatSpec(map[string]string{"csv.reader.quote": ""}, RoleReader)
	g.AssertNoError(t, err)
	assert.Nil(t, fs.Quote)
}

func TestFormatSpecValidate(t *testing.T) {
	invalid := []map[string]string{
		{"csv.reader.delimiter": "ab"},
		{"csv.reader.quote": "é"},
		{"csv.reader.quote": "\n"},
		{"csv.reader.quote": "'", "csv.reader.delimiter": "§"},
		{"csv.reader.quote.mode": "SOME"},
		{"csv.reader.delimiter": `"`},
		{"csv.reader.escape": `"`},
		{"csv.reader.escape": `\`, "csv.reader.quote": ""},
		{"csv.reader.record_separator": ";"},
		{"csv.reader.columns": "a,b,a"},
		{"csv.charset": "utf-16"},
		{"csv.charset": "not-a-charset"},
	}

	for _, props := range invalid {
		_, err := NewFormatSpec(props, RoleReader)
		assert.True(t, IsConfigurationError(err), g.Marshal(props))
	}
}

func TestFormatSpecQuote(t *testing.T) {
	fs, err := NewFormatSpec(map[string]string{
		"csv.writer.quote":      "'",
		"csv.writer.quote.mode": "non_numeric",
	}, RoleWriter)
	g.AssertNoError(t, err)
	assert.Equal(t, '\'', *fs.Quote)
	assert.Equal(t, QuoteModeNonNumeric, fs.QuoteMode)

	// the reader side keeps its defaults
	fs, err = NewFormatSpec(map[string]string{"csv.writer.quote.mode": "ALL"}, RoleReader)
	g.AssertNoError(t, err)
	assert.Equal(t, QuoteModeMinimal, fs.QuoteMode)

	for _, val := range []string{"all", "Minimal", "NONE", " non_numeric "} {
		_, err := ParseQuoteMode(val)
		g.AssertNoError(t, err)
	}
}

func TestFormatSpecCopies(t *testing.T) {
	header := []string{"a", "b"}
	fs := DefaultFormatSpec().WithHeader(header)
	header[0] = "z"
	assert.Equal(t, []string{"a", "b"}, fs.Header)

	fs2 := fs.WithSkipHeaderRecord(true)
	assert.False(t, fs.SkipHeaderRecord)
	assert.True(t, fs2.SkipHeaderRecord)
}

func TestPropsSyncMode(t *testing.T) {
	mode, err := Props{}.SyncMode()
	g.AssertNoError(t, err)
	assert.Equal(t, SyncModeExact, mode)

	mode, err = Props{KeySync: "LINE"}.SyncMode()
	g.AssertNoError(t, err)
	assert.Equal(t, SyncModeLine, mode)

	_, err = Props{KeySync: "fuzzy"}.SyncMode()
	assert.True(t, IsConfigurationError(err))

	merged := Props{"a": "1"}.Merge(map[string]string{"b": "2"})
	assert.Equal(t, Props{"a": "1", "b": "2"}, merged)
}
