package iop

import (
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// Role is the side of a job a FormatSpec is built for
type Role string

const (
	// RoleReader is for source (reader) configuration
	RoleReader Role = "reader"
	// RoleWriter is for sink (writer) configuration
	RoleWriter Role = "writer"
)

// configuration keys, per role: `csv.reader.delimiter`, `csv.writer.delimiter`, ...
const (
	KeyStrict      = "csv.strict"
	KeyCharset     = "csv.charset"
	KeySync        = "csv.sync"
	KeyCompression = "csv.writer.compression"

	keyColumns                 = "columns"
	keySkipHeader              = "skip_header"
	keyDelimiter               = "delimiter"
	keyRecordSeparator         = "record_separator"
	keyQuote                   = "quote"
	keyQuoteMode               = "quote.mode"
	keyEscape                  = "escape"
	keyIgnoreEmptyLines        = "ignore_empty_lines"
	keyIgnoreSurroundingSpaces = "ignore_surrounding_spaces"
	keyIgnoreSurroundingLines  = "ignore_surrounding_lines" // legacy spelling
	keyNull                    = "null"
)

// defaults, matching the tokenizer's RFC 4180 defaults
const (
	DefaultDelimiter               = ','
	DefaultQuote                   = '"'
	DefaultRecordSeparator         = "\r\n"
	DefaultSkipHeaderRecord        = false
	DefaultIgnoreEmptyLines        = true
	DefaultIgnoreSurroundingSpaces = false
	DefaultCharset                 = "utf-8"
	DefaultStrict                  = true
	DefaultSyncMode                = SyncModeExact
	DefaultQuoteMode               = QuoteModeMinimal
)

// QuoteMode is the writer's policy for quoting values.
// Readers accept it but parsing does not depend on it.
type QuoteMode string

const (
	// QuoteModeAll quotes every value
	QuoteModeAll QuoteMode = "ALL"
	// QuoteModeMinimal quotes values containing the delimiter, the quote,
	// a line break or a leading space
	QuoteModeMinimal QuoteMode = "MINIMAL"
	// QuoteModeNonNumeric quotes every value that is not a number
	QuoteModeNonNumeric QuoteMode = "NON_NUMERIC"
	// QuoteModeNone never quotes. Values that would need quoting are an error.
	QuoteModeNone QuoteMode = "NONE"
)

// ParseQuoteMode parses a quote mode, case insensitive
func ParseQuoteMode(val string) (QuoteMode, error) {
	mode := QuoteMode(strings.ToUpper(strings.TrimSpace(val)))
	switch mode {
	case "":
		return DefaultQuoteMode, nil
	case QuoteModeAll, QuoteModeMinimal, QuoteModeNonNumeric, QuoteModeNone:
		return mode, nil
	}
	return "", NewConfigurationError("invalid quote mode %q (expected ALL, MINIMAL, NON_NUMERIC or NONE)", val)
}

// ConfigKey returns the full key for a role, e.g. `csv.reader.delimiter`
func ConfigKey(role Role, suffix string) string {
	return "csv." + string(role) + "." + suffix
}

// Props is a key/value configuration map
type Props map[string]string

// Get returns the first non-empty value of the keys provided
func (p Props) Get(keys ...string) string {
	for _, key := range keys {
		if val, ok := p[key]; ok && val != "" {
			return val
		}
	}
	return ""
}

// Has returns true if any of the keys is set (even to an empty value)
func (p Props) Has(keys ...string) bool {
	for _, key := range keys {
		if _, ok := p[key]; ok {
			return true
		}
	}
	return false
}

// Bool returns the boolean value of key, or the default
func (p Props) Bool(key string, def bool) bool {
	val := strings.TrimSpace(p.Get(key))
	if val == "" {
		return def
	}
	return cast.ToBool(val)
}

// Strict returns the strict mode flag
func (p Props) Strict() bool {
	return p.Bool(KeyStrict, DefaultStrict)
}

// SyncMode returns the configured split sync mode
func (p Props) SyncMode() (SyncMode, error) {
	val := strings.ToLower(strings.TrimSpace(p.Get(KeySync)))
	switch SyncMode(val) {
	case "":
		return DefaultSyncMode, nil
	case SyncModeLine, SyncModeExact:
		return SyncMode(val), nil
	}
	return "", NewConfigurationError("invalid value for %s: %s (expected line or exact)", KeySync, val)
}

// Merge returns a copy of p with the entries of others applied on top
func (p Props) Merge(others ...map[string]string) Props {
	merged := Props(lo.Assign(map[string]string(p)))
	for _, other := range others {
		for k, v := range other {
			merged[k] = v
		}
	}
	return merged
}

// unescapeConfig converts literal escapes such as `\t` or `\r\n`
// that are typical in plain text configuration.
func unescapeConfig(val string) string {
	replacer := strings.NewReplacer(`\t`, "\t", `\r`, "\r", `\n`, "\n", `\\`, `\`)
	return replacer.Replace(val)
}

// splitColumns parses a comma separated column list
func splitColumns(val string) []string {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return lo.Map(strings.Split(val, ","), func(c string, i int) string {
		return strings.TrimSpace(c)
	})
}
