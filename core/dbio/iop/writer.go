package iop

import (
	"io"

	"github.com/flarco/g"
)

// SplitRecordWriter serializes rows to an output stream, writing the
// format's header once before the first row
type SplitRecordWriter struct {
	out           io.WriteCloser
	format        FormatSpec
	printer       Printer
	encoder       io.Closer
	errW          *errorWriter
	fields        []string
	headerWritten bool
	closed        bool
	count         int64
}

// NewSplitRecordWriter creates a writer. The writer owns out and
// closes it on Close.
func NewSplitRecordWriter(out io.WriteCloser, format FormatSpec) (w *SplitRecordWriter, err error) {
	if err = format.Validate(); err != nil {
		out.Close()
		return nil, err
	}

	errW := &errorWriter{writer: out}
	encoded, encoder, err := newCharsetWriter(errW, format.Charset)
	if err != nil {
		out.Close()
		return nil, err
	}

	w = &SplitRecordWriter{
		out:           out,
		format:        format,
		printer:       NewTokenizer(format).NewPrinter(encoded),
		encoder:       encoder,
		errW:          errW,
		headerWritten: !format.HasHeader() || format.SkipHeaderRecord,
	}
	return w, nil
}

func (w *SplitRecordWriter) writeHeader() error {
	if w.headerWritten {
		return nil
	}
	w.headerWritten = true
	if err := w.printer.Print(w.format.Header); err != nil {
		return g.Error(err, "could not write header")
	}
	return w.errW.err
}

// Write serializes one row
func (w *SplitRecordWriter) Write(row *RowBuffer) (err error) {
	if w.closed {
		return g.Error("writer is closed")
	}

	if err = w.writeHeader(); err != nil {
		return err
	}

	w.fields = row.appendStrings(w.fields[:0], w.format.NullToken())
	if err = w.printer.Print(w.fields); err != nil {
		return g.Error(err, "could not write record #%d", w.count)
	} else if w.errW.err != nil {
		return g.Error(w.errW.err, "could not write record #%d", w.count)
	}

	w.count++
	return nil
}

// Count returns the number of rows written, not counting the header
func (w *SplitRecordWriter) Count() int64 {
	return w.count
}

// Close writes a pending header, flushes and closes the stream.
// The stream is closed even when flushing fails.
func (w *SplitRecordWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	eG := g.ErrorGroup{}
	if w.errW.err == nil {
		eG.Capture(w.writeHeader())
		eG.Capture(w.printer.Flush())
		eG.Capture(w.encoder.Close())
		eG.Capture(w.errW.err)
	}
	eG.Capture(w.out.Close())

	if err := eG.Err(); err != nil {
		return g.Error(err, "could not close writer")
	}
	return nil
}

// errorWriter keeps the first write error, since the csv writer buffers
// and only reports it on a later write
type errorWriter struct {
	writer io.Writer
	err    error
}

func (ew *errorWriter) Write(p []byte) (n int, err error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err = ew.writer.Write(p)
	if err != nil {
		ew.err = err
	}
	return n, err
}
