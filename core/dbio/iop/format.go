package iop

import (
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

// FormatSpec describes the delimited-text dialect of a file.
// It is a value: build it once with NewFormatSpec or DefaultFormatSpec
// and derive variations with the With* methods, which return copies.
type FormatSpec struct {
	Delimiter               rune
	Quote                   *rune // nil disables quoting
	QuoteMode               QuoteMode
	Escape                  *rune
	RecordSeparator         string
	Header                  []string
	SkipHeaderRecord        bool
	NullString              *string
	IgnoreEmptyLines        bool
	IgnoreSurroundingSpaces bool
	Charset                 string
}

// DefaultFormatSpec returns the default format
func DefaultFormatSpec() FormatSpec {
	quote := rune(DefaultQuote)
	return FormatSpec{
		Delimiter:               DefaultDelimiter,
		Quote:                   &quote,
		QuoteMode:               DefaultQuoteMode,
		RecordSeparator:         DefaultRecordSeparator,
		SkipHeaderRecord:        DefaultSkipHeaderRecord,
		IgnoreEmptyLines:        DefaultIgnoreEmptyLines,
		IgnoreSurroundingSpaces: DefaultIgnoreSurroundingSpaces,
		Charset:                 DefaultCharset,
	}
}

// NewFormatSpec builds a validated FormatSpec from key/value configuration.
// Keys are looked up per role (`csv.reader.*` or `csv.writer.*`).
func NewFormatSpec(props map[string]string, role Role) (fs FormatSpec, err error) {
	p := Props(props)
	fs = DefaultFormatSpec()
	key := func(suffix string) string { return ConfigKey(role, suffix) }

	if val := p.Get(key(keyDelimiter)); val != "" {
		if fs.Delimiter, err = singleRune(key(keyDelimiter), unescapeConfig(val)); err != nil {
			return fs, err
		}
	}

	if p.Has(key(keyQuote)) {
		if val := p[key(keyQuote)]; val == "" {
			fs.Quote = nil
		} else {
			r, err := singleRune(key(keyQuote), val)
			if err != nil {
				return fs, err
			}
			fs.Quote = &r
		}
	}

	if fs.QuoteMode, err = ParseQuoteMode(p.Get(key(keyQuoteMode))); err != nil {
		return fs, err
	}

	if val := p.Get(key(keyEscape)); val != "" {
		r, err := singleRune(key(keyEscape), unescapeConfig(val))
		if err != nil {
			return fs, err
		}
		fs.Escape = &r
	}

	if val := p.Get(key(keyRecordSeparator)); val != "" {
		fs.RecordSeparator = unescapeConfig(val)
	}

	if p.Has(key(keyNull)) {
		fs.NullString = lo.ToPtr(p[key(keyNull)])
	}

	fs.Header = splitColumns(p.Get(key(keyColumns)))
	fs.SkipHeaderRecord = p.Bool(key(keySkipHeader), DefaultSkipHeaderRecord)
	fs.IgnoreEmptyLines = p.Bool(key(keyIgnoreEmptyLines), DefaultIgnoreEmptyLines)
	fs.IgnoreSurroundingSpaces = p.Bool(key(keyIgnoreSurroundingSpaces), DefaultIgnoreSurroundingSpaces)
	if p.Has(key(keyIgnoreSurroundingLines)) && !p.Has(key(keyIgnoreSurroundingSpaces)) {
		fs.IgnoreSurroundingSpaces = p.Bool(key(keyIgnoreSurroundingLines), DefaultIgnoreSurroundingSpaces)
	}

	if val := p.Get(KeyCharset); val != "" {
		fs.Charset = strings.ToLower(strings.TrimSpace(val))
	}

	return fs, fs.Validate()
}

func singleRune(key, val string) (rune, error) {
	if utf8.RuneCountInString(val) != 1 {
		return 0, NewConfigurationError("%s must be a single character, got %q", key, val)
	}
	r, _ := utf8.DecodeRuneInString(val)
	return r, nil
}

// Validate checks the format is consistent and supported by the tokenizer
func (fs FormatSpec) Validate() error {
	isBreak := func(r rune) bool { return r == '\n' || r == '\r' }

	if fs.Delimiter == 0 || isBreak(fs.Delimiter) || fs.Delimiter == utf8.RuneError {
		return NewConfigurationError("invalid delimiter %q", fs.Delimiter)
	}

	if fs.Quote != nil {
		switch {
		case *fs.Quote == fs.Delimiter:
			return NewConfigurationError("quote and delimiter cannot be the same character (%q)", fs.Delimiter)
		case isBreak(*fs.Quote) || *fs.Quote == 0:
			return NewConfigurationError("invalid quote character %q", *fs.Quote)
		case *fs.Quote >= utf8.RuneSelf:
			return NewConfigurationError("quote must be an ASCII character, got %q", *fs.Quote)
		case *fs.Quote != DefaultQuote && fs.Delimiter >= utf8.RuneSelf:
			return NewConfigurationError("delimiter must be an ASCII character with a custom quote")
		}
	}

	if _, err := ParseQuoteMode(string(fs.QuoteMode)); err != nil {
		return err
	}

	if fs.Escape != nil {
		switch {
		case fs.Quote == nil:
			return NewConfigurationError("an escape character requires quoting to be enabled")
		case *fs.Escape == *fs.Quote:
			return NewConfigurationError("quote and escape cannot be the same character (%q)", *fs.Escape)
		case *fs.Escape == fs.Delimiter:
			return NewConfigurationError("escape and delimiter cannot be the same character (%q)", *fs.Escape)
		case isBreak(*fs.Escape):
			return NewConfigurationError("invalid escape character %q", *fs.Escape)
		case *fs.Escape >= utf8.RuneSelf || fs.Delimiter >= utf8.RuneSelf:
			return NewConfigurationError("escape and delimiter must be ASCII characters when escaping is enabled")
		}
	}

	if !lo.Contains([]string{"\n", "\r\n"}, fs.RecordSeparator) {
		return NewConfigurationError("unsupported record separator %q (expected \\n or \\r\\n)", fs.RecordSeparator)
	}

	if dups := lo.FindDuplicates(fs.Header); len(dups) > 0 {
		return NewConfigurationError("header has duplicate column names: %s", strings.Join(dups, ", "))
	}

	if _, err := lookupCharset(fs.Charset); err != nil {
		return err
	}

	return nil
}

// HasHeader returns true if an explicit header is configured
func (fs FormatSpec) HasHeader() bool {
	return len(fs.Header) > 0
}

// IsNull returns true if the raw value equals the configured null token
func (fs FormatSpec) IsNull(value string) bool {
	return fs.NullString != nil && value == *fs.NullString
}

// NullToken returns the text written for a null cell
func (fs FormatSpec) NullToken() string {
	if fs.NullString == nil {
		return ""
	}
	return *fs.NullString
}

// WithHeader returns a copy with the header replaced
func (fs FormatSpec) WithHeader(header []string) FormatSpec {
	fs.Header = lo.Ternary(len(header) == 0, nil, append([]string{}, header...))
	return fs
}

// WithSkipHeaderRecord returns a copy with the skip header flag replaced
func (fs FormatSpec) WithSkipHeaderRecord(skip bool) FormatSpec {
	fs.SkipHeaderRecord = skip
	return fs
}

// WithNullString returns a copy with the null token replaced
func (fs FormatSpec) WithNullString(token string) FormatSpec {
	fs.NullString = &token
	return fs
}
