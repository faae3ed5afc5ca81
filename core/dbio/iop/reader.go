package iop

import (
	"context"
	"io"

	"github.com/flarco/g"
)

// ReaderOptions configures a SplitRecordReader
type ReaderOptions struct {
	// Strict fails on the first malformed record, otherwise it is dropped
	Strict bool
	// ExpectedColumns is the column count every record must have, 0 to disable
	ExpectedColumns int
	// Tokenizer overrides the default tokenizer for the format
	Tokenizer Tokenizer
}

type readerState int

const (
	readerScanning readerState = iota
	readerExhausted
)

// SplitRecordReader yields the records whose first byte falls within a split.
// It is a forward-only sequence:
//
//	for reader.Next() {
//		row := reader.Row()
//	}
//	if err := reader.Err(); err != nil {...}
type SplitRecordReader struct {
	ctx       context.Context
	split     *OpenSplit
	format    FormatSpec
	options   ReaderOptions
	tokenizer Tokenizer
	decoder   *charsetDecoder
	framer    *recordFramer

	state      readerState
	synced     bool
	globalKeys bool // record numbers count from the start of the file
	records    int64
	skipped    int64

	row    *RowBuffer
	key    int64
	offset int64
	err    error
}

// NewSplitRecordReader creates a reader over an opened split.
// The reader owns the split and closes it on Close.
func NewSplitRecordReader(ctx context.Context, split *OpenSplit, format FormatSpec, options ReaderOptions) (r *SplitRecordReader, err error) {
	if err = format.Validate(); err != nil {
		return nil, err
	}

	decoder, err := newCharsetDecoder(format.Charset)
	if err != nil {
		return nil, err
	}

	r = &SplitRecordReader{
		ctx:       ctx,
		split:     split,
		format:    format,
		options:   options,
		tokenizer: options.Tokenizer,
		decoder:   decoder,
		framer:    newRecordFramer(split.Stream, split.Offset, format),
		row:       NewRowBuffer(options.ExpectedColumns),
		key:       -1,
		offset:    -1,
	}
	if r.tokenizer == nil {
		r.tokenizer = NewTokenizer(format)
	}

	return r, nil
}

// Next advances to the next record, returning false when the split
// is exhausted or an error occurred
func (r *SplitRecordReader) Next() bool {
	if r.state == readerExhausted {
		return false
	}

	if !r.synced {
		if err := r.sync(); err == io.EOF {
			return r.exhaust()
		} else if err != nil {
			return r.fail(g.Error(err, "could not synchronize to split start of %s", r.split.Plan.Split.String()))
		}
	}

	for {
		if err := r.ctx.Err(); err != nil {
			return r.fail(g.Error(err, "reading cancelled"))
		}

		start, raw, err := r.framer.Next()
		if err == io.EOF {
			return r.exhaust()
		} else if err != nil {
			return r.fail(g.Error(err, "could not read from %s", r.split.Plan.Split.Path))
		}

		if r.split.Plan.Bounded && start >= r.split.End {
			return r.exhaust()
		}

		key := r.records
		r.records++

		if start < r.split.Start {
			continue // exact sync, record belongs to a prior split
		} else if r.format.SkipHeaderRecord && r.globalKeys && key == 0 {
			g.Trace("skipping header record of %s", r.split.Plan.Split.Path)
			continue
		}

		err = r.fill(raw)
		if err != nil {
			parseErr := &RecordParseError{Path: r.split.Plan.Split.Path, Record: key, Offset: start, Err: err}
			if r.options.Strict {
				return r.fail(parseErr)
			}
			r.skipped++
			g.Warn("dropping %s", parseErr.Error())
			continue
		}

		r.key, r.offset = key, start
		return true
	}
}

// sync positions the framer on the first record boundary of the split
func (r *SplitRecordReader) sync() (err error) {
	r.synced = true
	start := r.split.Start
	r.globalKeys = r.split.Offset == 0

	if start == 0 || r.split.Sync == SyncModeExact {
		if r.split.Offset > 0 && r.split.Sync == SyncModeExact {
			return g.Error("exact sync requires a stream starting at offset 0, got %d", r.split.Offset)
		}
		return nil
	}

	// line sync: discard through the first newline at or after start-1
	r.globalKeys = false
	if err = r.framer.Discard(start - 1 - r.split.Offset); err != nil {
		return err
	}
	return r.framer.SkipLine()
}

func (r *SplitRecordReader) fill(raw []byte) error {
	raw, err := r.decoder.Decode(raw)
	if err != nil {
		return err
	}

	fields, err := r.tokenizer.Parse(raw)
	if err != nil {
		return err
	}

	if expected := r.options.ExpectedColumns; expected > 0 && len(fields) != expected {
		return g.Error("expected %d columns, got %d", expected, len(fields))
	}

	if r.format.IgnoreSurroundingSpaces {
		fields = trimCells(fields)
	}

	r.row.Reset()
	for _, field := range fields {
		r.row.Append(field, r.format.IsNull(field))
	}
	return nil
}

func (r *SplitRecordReader) exhaust() bool {
	r.state = readerExhausted
	return false
}

func (r *SplitRecordReader) fail(err error) bool {
	r.err = err
	return r.exhaust()
}

// Row returns the current record. The buffer is reused by the next call to Next.
func (r *SplitRecordReader) Row() *RowBuffer {
	return r.row
}

// Key returns the record number of the current record, counted from the
// start of the file. Under line sync, a split not starting at 0 counts
// from its own first record.
func (r *SplitRecordReader) Key() int64 {
	return r.key
}

// Offset returns the byte offset at which the current record starts
func (r *SplitRecordReader) Offset() int64 {
	return r.offset
}

// Err returns the error that stopped the reader, if any
func (r *SplitRecordReader) Err() error {
	return r.err
}

// Skipped returns the number of malformed records dropped in lenient mode
func (r *SplitRecordReader) Skipped() int64 {
	return r.skipped
}

// Exhausted returns true once the reader will yield no more records
func (r *SplitRecordReader) Exhausted() bool {
	return r.state == readerExhausted
}

// Pos returns the current scan position
func (r *SplitRecordReader) Pos() int64 {
	if !r.split.Plan.Bounded {
		return r.split.RawPosition()
	}
	return r.framer.Offset()
}

// Progress returns the fraction of the split consumed, within [0, 1]
func (r *SplitRecordReader) Progress() float32 {
	width := r.split.End - r.split.Start
	if width <= 0 {
		if r.state == readerExhausted {
			return 1
		}
		return 0
	}

	progress := float64(r.Pos()-r.split.Start) / float64(width)
	return float32(min(max(progress, 0), 1))
}

// Close releases the split
func (r *SplitRecordReader) Close() error {
	r.state = readerExhausted
	return r.split.Close()
}
