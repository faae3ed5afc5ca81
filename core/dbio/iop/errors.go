package iop

import (
	"errors"
	"fmt"

	"github.com/flarco/g"
)

// ConfigurationError is raised for an impossible or malformed setup,
// such as a non-seekable compressed split. Never retried.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// NewConfigurationError creates a ConfigurationError
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// SchemaMismatchError is raised when declared fields disagree with the file's header
type SchemaMismatchError struct {
	Message string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	if len(e.Missing) > 0 {
		return g.F("schema mismatch: %s (missing: %s)", e.Message, g.Marshal(e.Missing))
	}
	return "schema mismatch: " + e.Message
}

// NewSchemaMismatchError creates a SchemaMismatchError
func NewSchemaMismatchError(missing []string, format string, args ...any) error {
	return &SchemaMismatchError{Message: fmt.Sprintf(format, args...), Missing: missing}
}

// RecordParseError is raised for a malformed record. It reports both the
// 0-based record number and the byte offset at which the record starts.
type RecordParseError struct {
	Path   string
	Record int64
	Offset int64
	Err    error
}

func (e *RecordParseError) Error() string {
	msg := g.F("malformed record #%d at byte offset %d", e.Record, e.Offset)
	if e.Path != "" {
		msg = msg + " in " + e.Path
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *RecordParseError) Unwrap() error { return e.Err }

// IsConfigurationError returns true if err is (or wraps) a ConfigurationError
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsSchemaMismatch returns true if err is (or wraps) a SchemaMismatchError
func IsSchemaMismatch(err error) bool {
	var target *SchemaMismatchError
	return errors.As(err, &target)
}

// IsRecordParseError returns true if err is (or wraps) a RecordParseError
func IsRecordParseError(err error) bool {
	var target *RecordParseError
	return errors.As(err, &target)
}
