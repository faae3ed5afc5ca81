package iop

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/flarco/g"
)

type memFile struct {
	*bytes.Reader
	closed bool
}

func (mf *memFile) Close() error {
	mf.closed = true
	return nil
}

// memFS is an in-memory FileOpener
type memFS map[string][]byte

func (fs memFS) OpenFile(ctx context.Context, uri string) (RandomAccessFile, error) {
	data, ok := fs[uri]
	if !ok {
		return nil, g.Error("file not found: %s", uri)
	}
	return &memFile{Reader: bytes.NewReader(data)}, nil
}

type bufCloser struct {
	bytes.Buffer
	closed bool
}

func (bc *bufCloser) Close() error {
	bc.closed = true
	return nil
}

type failingWriter struct {
	closed bool
}

func (fw *failingWriter) Write(p []byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func (fw *failingWriter) Close() error {
	fw.closed = true
	return nil
}

type readResult struct {
	rows    []string
	keys    []int64
	skipped int64
	err     error
}

// readSplit reads a split and returns each row joined by `|`, nulls as `<nil>`
func readSplit(t *testing.T, planner *SplitPlanner, split Split, format FormatSpec, options ReaderOptions) (res readResult) {
	t.Helper()
	opened, err := planner.Open(context.Background(), split)
	g.AssertNoError(t, err)

	reader, err := NewSplitRecordReader(context.Background(), opened, format, options)
	g.AssertNoError(t, err)
	defer reader.Close()

	for reader.Next() {
		res.rows = append(res.rows, strings.Join(reader.Row().Strings("<nil>"), "|"))
		res.keys = append(res.keys, reader.Key())
	}
	res.skipped = reader.Skipped()
	res.err = reader.Err()
	return
}
