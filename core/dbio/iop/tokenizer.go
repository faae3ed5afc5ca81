package iop

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/flarco/g"
	"github.com/flarco/g/csv"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// Tokenizer turns one framed record into fields, and fields into text
type Tokenizer interface {
	Parse(raw []byte) ([]string, error)
	NewPrinter(w io.Writer) Printer
}

// Printer writes records
type Printer interface {
	Print(fields []string) error
	Flush() error
}

// NewTokenizer returns the tokenizer for the format
func NewTokenizer(format FormatSpec) Tokenizer {
	if format.Quote == nil {
		return &plainTokenizer{format: format}
	}
	return &csvTokenizer{format: format}
}

// csvTokenizer uses the quote aware csv reader and writer
type csvTokenizer struct {
	format FormatSpec
}

// isDefaultDialect is true for `"` quoting with doubled quotes
func (t *csvTokenizer) isDefaultDialect() bool {
	return *t.format.Quote == DefaultQuote && t.format.Escape == nil
}

func (t *csvTokenizer) newReader(r io.Reader) csv.CsvReaderLike {
	if !t.isDefaultDialect() {
		options := csv.CsvOptions{}
		options.Delimiter = byte(t.format.Delimiter)
		options.Quote = byte(*t.format.Quote)
		options.Escape = options.Quote // doubled quotes
		if t.format.Escape != nil {
			options.Escape = byte(*t.format.Escape)
		}
		return csv.NewCsv(options).NewReader(r)
	}

	reader := csv.NewReader(r)
	reader.Comma = t.format.Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = false
	return reader
}

// Parse parses exactly one record
func (t *csvTokenizer) Parse(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return []string{""}, nil
	}

	reader := t.newReader(bytes.NewReader(raw))
	fields, err := reader.Read()
	if err == io.EOF {
		// only possible for a whitespace-only line
		return []string{string(raw)}, nil
	} else if err != nil {
		return nil, err
	}

	if _, err = reader.Read(); err != io.EOF {
		return nil, g.Error("record boundary mismatch: more than one record in %q", truncate(string(raw), 100))
	}

	return fields, nil
}

func (t *csvTokenizer) NewPrinter(w io.Writer) Printer {
	if !t.isDefaultDialect() || !lo.Contains([]QuoteMode{"", QuoteModeMinimal}, t.format.QuoteMode) {
		return newDialectPrinter(w, t.format)
	}

	writer := csv.NewWriter(w)
	writer.Comma = t.format.Delimiter
	writer.UseCRLF = t.format.RecordSeparator == "\r\n"
	return &csvPrinter{writer: writer}
}

type csvPrinter struct {
	writer *csv.Writer
}

func (p *csvPrinter) Print(fields []string) error {
	_, err := p.writer.Write(fields)
	return err
}

func (p *csvPrinter) Flush() error {
	p.writer.Flush()
	return p.writer.Error()
}

// dialectPrinter writes custom quote and escape characters and honors the
// quote mode. The quote char inside a quoted value is written as
// escape+quote when an escape is set, doubled otherwise.
type dialectPrinter struct {
	w      *bufio.Writer
	format FormatSpec
	quote  rune
	mode   QuoteMode
}

func newDialectPrinter(w io.Writer, format FormatSpec) *dialectPrinter {
	return &dialectPrinter{
		w:      bufio.NewWriter(w),
		format: format,
		quote:  *format.Quote,
		mode:   lo.Ternary(format.QuoteMode == "", DefaultQuoteMode, format.QuoteMode),
	}
}

func (p *dialectPrinter) needsQuotes(field string) bool {
	first, _ := utf8.DecodeRuneInString(field)
	minimal := field != "" && (strings.ContainsRune(field, p.format.Delimiter) ||
		strings.ContainsRune(field, p.quote) ||
		strings.ContainsAny(field, "\r\n") ||
		first == ' ')

	switch p.mode {
	case QuoteModeAll:
		return true
	case QuoteModeNonNumeric:
		_, err := cast.ToFloat64E(field)
		return minimal || field == "" || err != nil
	}
	return minimal
}

// check returns an error for a value the mode cannot represent
func (p *dialectPrinter) check(field string) error {
	if p.mode == QuoteModeNone {
		if strings.ContainsRune(field, p.format.Delimiter) || strings.ContainsAny(field, "\r\n") || strings.HasPrefix(field, string(p.quote)) {
			return g.Error("value %q cannot be written with quote mode %s", truncate(field, 100), QuoteModeNone)
		}
	} else if p.format.Escape != nil && p.needsQuotes(field) && strings.HasSuffix(field, string(*p.format.Escape)) {
		return g.Error("value %q ends with the escape character %q and cannot be quoted", truncate(field, 100), *p.format.Escape)
	}
	return nil
}

func (p *dialectPrinter) Print(fields []string) error {
	for _, field := range fields {
		if err := p.check(field); err != nil {
			return err
		}
	}

	escape := p.quote
	if p.format.Escape != nil {
		escape = *p.format.Escape
	}

	for i, field := range fields {
		if i > 0 {
			p.w.WriteRune(p.format.Delimiter)
		}

		if p.mode == QuoteModeNone || !p.needsQuotes(field) {
			p.w.WriteString(field)
			continue
		}

		p.w.WriteRune(p.quote)
		for _, r := range field {
			if r == p.quote {
				p.w.WriteRune(escape)
			}
			p.w.WriteRune(r)
		}
		p.w.WriteRune(p.quote)
	}

	_, err := p.w.WriteString(p.format.RecordSeparator)
	return err
}

func (p *dialectPrinter) Flush() error {
	return p.w.Flush()
}

// plainTokenizer splits on the delimiter, for formats with quoting disabled
type plainTokenizer struct {
	format FormatSpec
}

func (t *plainTokenizer) Parse(raw []byte) ([]string, error) {
	return strings.Split(string(raw), string(t.format.Delimiter)), nil
}

func (t *plainTokenizer) NewPrinter(w io.Writer) Printer {
	return &plainPrinter{w: w, format: t.format}
}

type plainPrinter struct {
	w      io.Writer
	format FormatSpec
}

func (p *plainPrinter) Print(fields []string) error {
	delimiter := string(p.format.Delimiter)
	for _, field := range fields {
		if strings.Contains(field, delimiter) || strings.ContainsAny(field, "\r\n") {
			return g.Error("value %q cannot be written without quoting", truncate(field, 100))
		}
	}
	line := strings.Join(fields, delimiter) + p.format.RecordSeparator
	_, err := io.WriteString(p.w, line)
	return err
}

func (p *plainPrinter) Flush() error { return nil }

// trimCells trims surrounding spaces of all cells
func trimCells(fields []string) []string {
	return lo.Map(fields, func(f string, i int) string { return strings.TrimSpace(f) })
}

func truncate(val string, max int) string {
	if len(val) <= max {
		return val
	}
	return val[:max] + "..."
}
