package iop

import (
	"context"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/flarco/g"
	"github.com/samber/lo"
)

// SyncMode is how a reader finds the first record of a split
type SyncMode string

const (
	// SyncModeLine discards through the first newline at or after start-1.
	// Only for files without quoted line breaks: a split starting inside a
	// quoted multi-line value will mis-sync. Record keys of a split not
	// starting at 0 count from the split's first record.
	SyncModeLine SyncMode = "line"
	// SyncModeExact frames records from the beginning of the stream and
	// skips those starting before the split start. Handles quoted values
	// containing newlines and keeps record keys file-global, at the cost
	// of scanning the prefix. The default.
	SyncModeExact SyncMode = "exact"
)

// RandomAccessFile is a seekable input with a known size
type RandomAccessFile interface {
	io.ReadSeekCloser
	Size() int64
}

// FileOpener opens files for random access
type FileOpener interface {
	OpenFile(ctx context.Context, uri string) (RandomAccessFile, error)
}

// Split is a byte range of a file
type Split struct {
	Path  string `json:"path" yaml:"path"`
	Start int64  `json:"start" yaml:"start"`
	End   int64  `json:"end" yaml:"end"`
}

// Length returns the number of bytes in the range
func (s Split) Length() int64 {
	return s.End - s.Start
}

func (s Split) String() string {
	return g.F("%s [%d:%d]", s.Path, s.Start, s.End)
}

// SplitPlan is the decision made for a split before reading any byte
type SplitPlan struct {
	Split      Split
	Codec      Codec
	Splittable bool
	Bounded    bool // false when the reader must consume to the end of stream
}

// OpenSplit is a planned split with its stream positioned for reading
type OpenSplit struct {
	Plan   SplitPlan
	Start  int64 // adjusted start
	End    int64 // adjusted end
	Offset int64 // scan offset of the first byte of Stream
	Sync   SyncMode
	Stream io.Reader

	raw     *countingReader
	closers []io.Closer
}

// RawPosition returns the number of raw (compressed) bytes consumed
func (o *OpenSplit) RawPosition() int64 {
	if o.raw == nil {
		return 0
	}
	return o.raw.n
}

// Close releases the decompressor and the file
func (o *OpenSplit) Close() error {
	eG := g.ErrorGroup{}
	for i := len(o.closers) - 1; i >= 0; i-- {
		eG.Capture(o.closers[i].Close())
	}
	o.closers = nil
	return eG.Err()
}

// SplitPlanner decides how each split is read
type SplitPlanner struct {
	opener FileOpener
	codecs CodecLookup
	sync   SyncMode
}

// NewSplitPlanner creates a SplitPlanner. A nil codec lookup
// treats every file as uncompressed.
func NewSplitPlanner(opener FileOpener, codecs CodecLookup, sync SyncMode) *SplitPlanner {
	if codecs == nil {
		codecs = NewCodecRegistry()
	}
	return &SplitPlanner{
		opener: opener,
		codecs: codecs,
		sync:   lo.Ternary(sync == "", DefaultSyncMode, sync),
	}
}

// Plan decides splittability. No bytes are read.
func (sp *SplitPlanner) Plan(split Split) (plan SplitPlan, err error) {
	if split.Start < 0 || split.End < split.Start {
		return plan, NewConfigurationError("invalid split range %s", split.String())
	}

	plan = SplitPlan{Split: split, Splittable: true, Bounded: true}
	plan.Codec = sp.codecs.CodecFor(split.Path)
	if plan.Codec == nil || IsSplittable(plan.Codec) {
		return plan, nil
	}

	plan.Splittable = false
	plan.Bounded = false
	if split.Start != 0 {
		return plan, NewConfigurationError(
			"seek not supported: %s is compressed with %s which cannot be split, but split starts at byte %d",
			split.Path, plan.Codec.Name(), split.Start,
		)
	}
	return plan, nil
}

// Open plans the split and opens its stream
func (sp *SplitPlanner) Open(ctx context.Context, split Split) (o *OpenSplit, err error) {
	plan, err := sp.Plan(split)
	if err != nil {
		return nil, err
	}

	file, err := sp.opener.OpenFile(ctx, split.Path)
	if err != nil {
		return nil, g.Error(err, "could not open %s", split.Path)
	}

	o = &OpenSplit{Plan: plan, Sync: sp.sync, closers: []io.Closer{file}}
	switch {
	case plan.Codec == nil:
		err = sp.openRaw(o, file)
	case plan.Splittable:
		err = sp.openAligned(o, file)
	default:
		err = sp.openWhole(o, file)
	}

	if err != nil {
		o.Close()
		return nil, err
	}

	g.Debug("opened split %s (scan range %d:%d, %s, sync=%s, codec=%s)",
		split.String(), o.Start, o.End, humanize.Bytes(uint64(max(o.End-o.Start, 0))),
		o.Sync, codecName(plan.Codec),
	)
	return o, nil
}

func (sp *SplitPlanner) openRaw(o *OpenSplit, file RandomAccessFile) error {
	split := o.Plan.Split
	o.Start, o.End = split.Start, split.End

	if split.Start > 0 && o.Sync == SyncModeLine {
		o.Offset = split.Start - 1
	}
	if _, err := file.Seek(o.Offset, io.SeekStart); err != nil {
		return g.Error(err, "could not seek to %d in %s", o.Offset, split.Path)
	}

	o.raw = &countingReader{reader: file, n: o.Offset}
	o.Stream = o.raw
	return nil
}

func (sp *SplitPlanner) openAligned(o *OpenSplit, file RandomAccessFile) error {
	split := o.Plan.Split
	codec := o.Plan.Codec.(SplittableCodec)

	aligned, err := codec.CreateAlignedStream(file, split.Start, split.End)
	if err != nil {
		return g.Error(err, "could not create aligned %s stream for %s", codec.Name(), split.String())
	}

	if aligned.Start > 0 && o.Sync == SyncModeExact && aligned.Offset > 0 {
		closeIfCloser(aligned.Reader)
		whole, err := codec.CreateAlignedStream(file, 0, aligned.End)
		if err != nil {
			return g.Error(err, "could not create %s stream for %s", codec.Name(), split.String())
		}
		aligned = &AlignedStream{Start: aligned.Start, End: aligned.End, Offset: whole.Offset, Reader: whole.Reader}
	}

	if aligned.Start > 0 && aligned.Offset >= aligned.Start {
		return g.Error("codec %s returned a stream starting at %d, expected at most %d", codec.Name(), aligned.Offset, aligned.Start-1)
	}

	o.Start, o.End, o.Offset = aligned.Start, aligned.End, aligned.Offset
	o.Stream = aligned.Reader
	if closer, ok := aligned.Reader.(io.Closer); ok {
		o.closers = append(o.closers, closer)
	}
	return nil
}

func (sp *SplitPlanner) openWhole(o *OpenSplit, file RandomAccessFile) error {
	split := o.Plan.Split
	o.Start, o.End, o.Offset = 0, split.End, 0

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return g.Error(err, "could not seek to start of %s", split.Path)
	}

	o.raw = &countingReader{reader: file}
	reader, err := o.Plan.Codec.NewReader(o.raw)
	if err != nil {
		return g.Error(err, "could not decompress %s with %s", split.Path, o.Plan.Codec.Name())
	}
	o.Stream = reader
	if closer, ok := reader.(io.Closer); ok {
		o.closers = append(o.closers, closer)
	}
	return nil
}

// ComputeSplits cuts a file of the given size into splits of splitSize bytes.
// Files compressed with a codec that cannot be split yield a single split.
func ComputeSplits(codecs CodecLookup, path string, size, splitSize int64) (splits []Split) {
	var codec Codec
	if codecs != nil {
		codec = codecs.CodecFor(path)
	}

	if splitSize <= 0 || size <= splitSize || !IsSplittable(codec) {
		return []Split{{Path: path, Start: 0, End: size}}
	}

	for start := int64(0); start < size; start += splitSize {
		splits = append(splits, Split{Path: path, Start: start, End: min(start+splitSize, size)})
	}
	return splits
}

type countingReader struct {
	reader io.Reader
	n      int64
}

func (cr *countingReader) Read(p []byte) (n int, err error) {
	n, err = cr.reader.Read(p)
	cr.n += int64(n)
	return
}

func codecName(codec Codec) string {
	if codec == nil {
		return NoneCompressorType.String()
	}
	return codec.Name().String()
}

func closeIfCloser(reader io.Reader) {
	if closer, ok := reader.(io.Closer); ok {
		closer.Close()
	}
}
