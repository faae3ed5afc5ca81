package iop

import (
	"bufio"
	"bytes"
	"io"

	"github.com/flarco/g"
)

const framerBufferSize = 64 * 1024

// quote states of the framer
const (
	frameUnquoted   = iota
	frameQuoted     // inside a quoted value
	frameQuoteSeen  // quote inside a quoted value: closes it unless doubled
	frameEscapeSeen // escape inside a quoted value
)

// recordFramer cuts a byte stream into raw records, one per unquoted newline,
// and tracks the absolute offset at which each record starts. Quote and
// escape tracking only needs to know where a record ends; the tokenizer
// does the actual field parsing. A quote opens a quoted value only at the
// start of a field, the same rule the tokenizer applies.
type recordFramer struct {
	reader      *bufio.Reader
	offset      int64 // offset of the next unread byte
	delimiter   byte  // last byte of the delimiter encoding
	quote       byte
	escape      byte
	hasQuote    bool
	hasEscape   bool
	ignoreEmpty bool
	trimSpaces  bool
	buf         []byte
}

func newRecordFramer(reader io.Reader, offset int64, format FormatSpec) *recordFramer {
	delimiter := []byte(string(format.Delimiter))
	rf := &recordFramer{
		reader:      bufio.NewReaderSize(reader, framerBufferSize),
		offset:      offset,
		delimiter:   delimiter[len(delimiter)-1],
		ignoreEmpty: format.IgnoreEmptyLines,
		trimSpaces:  format.IgnoreSurroundingSpaces,
	}
	if format.Quote != nil {
		rf.quote, rf.hasQuote = byte(*format.Quote), true
	}
	if format.Escape != nil {
		rf.escape, rf.hasEscape = byte(*format.Escape), true
	}
	return rf
}

// Offset returns the offset of the next unread byte
func (rf *recordFramer) Offset() int64 {
	return rf.offset
}

// Discard skips n bytes
func (rf *recordFramer) Discard(n int64) error {
	for n > 0 {
		chunk := int(min(n, int64(framerBufferSize)))
		discarded, err := rf.reader.Discard(chunk)
		rf.offset += int64(discarded)
		n -= int64(discarded)
		if err != nil {
			return err
		}
	}
	return nil
}

// SkipLine discards bytes through the next newline, regardless of quoting.
// Returns io.EOF if the stream ends first.
func (rf *recordFramer) SkipLine() error {
	for {
		line, err := rf.reader.ReadSlice('\n')
		rf.offset += int64(len(line))
		if err == bufio.ErrBufferFull {
			continue
		}
		return err
	}
}

// Next returns the next raw record without its line terminator.
// The returned slice is only valid until the next call.
// Returns io.EOF when no record remains.
func (rf *recordFramer) Next() (start int64, raw []byte, err error) {
	for {
		start = rf.offset
		raw, err = rf.readRecord()
		if err != nil {
			return start, nil, err
		}

		if rf.ignoreEmpty && rf.isEmpty(raw) {
			continue
		}
		return start, raw, nil
	}
}

// isEmpty returns true for a blank line. Whitespace-only lines are
// only blank when surrounding spaces are ignored.
func (rf *recordFramer) isEmpty(raw []byte) bool {
	if rf.trimSpaces {
		return len(bytes.TrimSpace(raw)) == 0
	}
	return len(raw) == 0
}

// step advances the quote state by one byte
func (rf *recordFramer) step(state int, fieldStart bool, b byte) (int, bool) {
	for {
		switch state {
		case frameUnquoted:
			if rf.hasQuote && fieldStart && b == rf.quote {
				return frameQuoted, false
			}
			return frameUnquoted, b == rf.delimiter
		case frameQuoted:
			switch {
			case rf.hasEscape && b == rf.escape:
				return frameEscapeSeen, false
			case b == rf.quote && rf.hasEscape:
				return frameUnquoted, false
			case b == rf.quote:
				return frameQuoteSeen, false
			}
			return frameQuoted, false
		case frameQuoteSeen:
			if b == rf.quote {
				return frameQuoted, false
			}
			state = frameUnquoted
		case frameEscapeSeen:
			if b == rf.quote {
				return frameQuoted, false
			}
			state = frameQuoted
		}
	}
}

func (rf *recordFramer) readRecord() ([]byte, error) {
	rf.buf = rf.buf[:0]
	state, fieldStart := frameUnquoted, true

	for {
		chunk, err := rf.reader.ReadSlice('\n')
		rf.offset += int64(len(chunk))
		rf.buf = append(rf.buf, chunk...)

		for _, b := range chunk {
			state, fieldStart = rf.step(state, fieldStart, b)
		}
		inQuote := state == frameQuoted || state == frameEscapeSeen

		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF:
			if len(rf.buf) == 0 {
				return nil, io.EOF
			}
			return trimTerminator(rf.buf), nil
		case err != nil:
			return nil, g.Error(err, "could not read record")
		case inQuote:
			// newline inside quoted value
			continue
		}

		return trimTerminator(rf.buf), nil
	}
}

func trimTerminator(raw []byte) []byte {
	raw = bytes.TrimSuffix(raw, []byte{'\n'})
	return bytes.TrimSuffix(raw, []byte{'\r'})
}
