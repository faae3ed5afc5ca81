package iop

import (
	"bufio"
	"compress/bzip2"
	"io"
	"math"
	"path"
	"strings"
	"sync"

	"github.com/flarco/g"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/samber/lo"
)

// CompressorType is the name of a codec
type CompressorType string

const (
	// NoneCompressorType is for no compression
	NoneCompressorType CompressorType = "none"
	// GzipCompressorType is for Gzip compression
	GzipCompressorType CompressorType = "gzip"
	// SnappyCompressorType is for Snappy (s2) compression
	SnappyCompressorType CompressorType = "snappy"
	// ZStandardCompressorType is for ZStandard
	ZStandardCompressorType CompressorType = "zstd"
	// Bzip2CompressorType is for Bzip2 (read only)
	Bzip2CompressorType CompressorType = "bzip2"
	// S2CompressorType is for indexed S2 streams, which can be split
	S2CompressorType CompressorType = "s2"
)

// String converts to lowercase
func (ct CompressorType) String() string {
	return strings.ToLower(string(ct))
}

// Codec is a compression codec for whole streams
type Codec interface {
	Name() CompressorType
	// Suffixes returns the file extensions handled, the first one is used when writing
	Suffixes() []string
	NewReader(io.Reader) (io.Reader, error)
	NewWriter(io.Writer) (io.WriteCloser, error)
}

// AlignedStream is a decompressed stream covering a block-aligned range.
// Start and End are in the codec's scan coordinates, in which record
// offsets of the decompressed stream are measured. Offset is the scan
// offset of the first byte delivered by Reader; when Start > 0 it must be
// at most Start-1 so the reader can tell whether Start begins a record.
type AlignedStream struct {
	Start  int64
	End    int64
	Offset int64
	Reader io.Reader
}

// SplittableCodec is a codec whose streams can be read from block boundaries
type SplittableCodec interface {
	Codec
	CreateAlignedStream(raw io.ReadSeeker, start, end int64) (*AlignedStream, error)
}

// CodecLookup returns the codec for a path, nil when uncompressed
type CodecLookup interface {
	CodecFor(path string) Codec
}

// CodecRegistry maps file suffixes to codecs
type CodecRegistry struct {
	codecs   map[CompressorType]Codec
	suffixes map[string]Codec
	mux      sync.RWMutex
}

// NewCodecRegistry creates a registry with the codecs provided
func NewCodecRegistry(codecs ...Codec) *CodecRegistry {
	cr := &CodecRegistry{
		codecs:   map[CompressorType]Codec{},
		suffixes: map[string]Codec{},
	}
	for _, codec := range codecs {
		cr.Register(codec)
	}
	return cr
}

// DefaultCodecRegistry returns a registry with gzip, zstd, snappy, s2 and bzip2
func DefaultCodecRegistry() *CodecRegistry {
	return NewCodecRegistry(
		&GzipCodec{},
		&ZStandardCodec{},
		&SnappyCodec{},
		&S2Codec{},
		&Bzip2Codec{},
	)
}

// Register adds or replaces a codec
func (cr *CodecRegistry) Register(codec Codec) {
	cr.mux.Lock()
	defer cr.mux.Unlock()
	cr.codecs[codec.Name()] = codec
	for _, suffix := range codec.Suffixes() {
		cr.suffixes[strings.ToLower(suffix)] = codec
	}
}

// CodecFor returns the codec matching the path's extension, or nil
func (cr *CodecRegistry) CodecFor(filePath string) Codec {
	cr.mux.RLock()
	defer cr.mux.RUnlock()
	ext := strings.ToLower(path.Ext(filePath))
	if ext == "" {
		return nil
	}
	return cr.suffixes[ext]
}

// CodecByName returns the codec registered under name.
// An empty name or `none` returns nil without error.
func (cr *CodecRegistry) CodecByName(name string) (Codec, error) {
	ct := CompressorType(strings.ToLower(strings.TrimSpace(name)))
	if ct == "" || ct == NoneCompressorType {
		return nil, nil
	}
	cr.mux.RLock()
	defer cr.mux.RUnlock()
	codec, ok := cr.codecs[ct]
	if !ok {
		names := lo.Map(lo.Keys(cr.codecs), func(k CompressorType, i int) string { return k.String() })
		return nil, NewConfigurationError("unknown codec %s (available: %s)", name, strings.Join(names, ", "))
	}
	return codec, nil
}

// IsSplittable returns true if the codec can start reading mid-stream
func IsSplittable(codec Codec) bool {
	if codec == nil {
		return true
	}
	_, ok := codec.(SplittableCodec)
	return ok
}

// GzipCodec uses gzip
type GzipCodec struct{}

func (c *GzipCodec) Name() CompressorType { return GzipCompressorType }

func (c *GzipCodec) Suffixes() []string { return []string{".gz", ".gzip"} }

// NewReader uses gzip to decompress
func (c *GzipCodec) NewReader(reader io.Reader) (io.Reader, error) {
	gReader, err := gzip.NewReader(reader)
	if err != nil {
		return nil, g.Error(err, "Error using gzip decompressor")
	}
	return gReader, nil
}

// NewWriter uses gzip to compress
func (c *GzipCodec) NewWriter(writer io.Writer) (io.WriteCloser, error) {
	gw, err := gzip.NewWriterLevel(writer, gzip.BestSpeed)
	if err != nil {
		return nil, g.Error(err, "could not create gzip writer")
	}
	return gw, nil
}

// SnappyCodec uses the s2 snappy-compatible stream format
type SnappyCodec struct{}

func (c *SnappyCodec) Name() CompressorType { return SnappyCompressorType }

func (c *SnappyCodec) Suffixes() []string { return []string{".snappy", ".sz"} }

// NewReader uses s2 to decompress
func (c *SnappyCodec) NewReader(reader io.Reader) (io.Reader, error) {
	return s2.NewReader(bufio.NewReader(reader)), nil
}

// NewWriter uses s2 to compress, in snappy compatible mode
func (c *SnappyCodec) NewWriter(writer io.Writer) (io.WriteCloser, error) {
	return s2.NewWriter(writer, s2.WriterSnappyCompat()), nil
}

// S2Codec writes s2 streams with a seek index appended. Indexed streams
// are splittable: a split owns the blocks whose compressed offset falls in
// its range. Streams without an index can only be read whole.
type S2Codec struct {
	BlockSize int // 0 uses the s2 default
}

func (c *S2Codec) Name() CompressorType { return S2CompressorType }

func (c *S2Codec) Suffixes() []string { return []string{".s2"} }

// NewReader uses s2 to decompress
func (c *S2Codec) NewReader(reader io.Reader) (io.Reader, error) {
	return s2.NewReader(bufio.NewReader(reader)), nil
}

// NewWriter uses s2 to compress, with an index
func (c *S2Codec) NewWriter(writer io.Writer) (io.WriteCloser, error) {
	opts := []s2.WriterOption{s2.WriterAddIndex()}
	if c.BlockSize > 0 {
		opts = append(opts, s2.WriterBlockSize(c.BlockSize))
	}
	return s2.NewWriter(writer, opts...), nil
}

type s2Block struct {
	Compressed   int64 `json:"compressed"`
	Uncompressed int64 `json:"uncompressed"`
}

type s2Index struct {
	TotalUncompressed int64     `json:"total_uncompressed"`
	Blocks            []s2Block `json:"offsets"`
}

func loadS2Index(raw io.ReadSeeker) (index s2Index, err error) {
	idx := &s2.Index{}
	if err = idx.LoadStream(raw); err != nil {
		return index, err
	}
	err = g.Unmarshal(string(idx.JSON()), &index)
	return index, err
}

// uncompressedAt returns the uncompressed offset of the first block
// starting at or after the compressed position
func (index s2Index) uncompressedAt(pos int64) int64 {
	if pos <= 0 {
		return 0
	}
	for _, block := range index.Blocks {
		if block.Compressed >= pos {
			return block.Uncompressed
		}
	}
	return index.TotalUncompressed
}

func (c *S2Codec) CreateAlignedStream(raw io.ReadSeeker, start, end int64) (*AlignedStream, error) {
	index, err := loadS2Index(raw)
	if err == s2.ErrUnsupported {
		size, err := raw.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, g.Error(err, "could not get s2 stream size")
		} else if start > 0 || end < size {
			return nil, NewConfigurationError("s2 stream has no index and cannot be split")
		}
		if _, err = raw.Seek(0, io.SeekStart); err != nil {
			return nil, g.Error(err, "could not seek s2 stream")
		}
		return &AlignedStream{End: math.MaxInt64, Reader: s2.NewReader(raw)}, nil
	} else if err != nil {
		return nil, g.Error(err, "could not load s2 index")
	}

	aligned := &AlignedStream{
		Start: index.uncompressedAt(start),
		End:   index.uncompressedAt(end),
	}
	if aligned.Start > 0 {
		aligned.Offset = aligned.Start - 1
	}

	if _, err = raw.Seek(0, io.SeekStart); err != nil {
		return nil, g.Error(err, "could not seek s2 stream")
	}
	rs, err := s2.NewReader(raw).ReadSeeker(true, nil)
	if err != nil {
		return nil, g.Error(err, "could not open s2 stream")
	}
	if _, err = rs.Seek(aligned.Offset, io.SeekStart); err != nil {
		return nil, g.Error(err, "could not seek s2 stream to %d", aligned.Offset)
	}
	aligned.Reader = rs
	return aligned, nil
}

// ZStandardCodec uses zstd
type ZStandardCodec struct{}

func (c *ZStandardCodec) Name() CompressorType { return ZStandardCompressorType }

func (c *ZStandardCodec) Suffixes() []string { return []string{".zst", ".zstd"} }

// NewReader uses zstd to decompress
func (c *ZStandardCodec) NewReader(reader io.Reader) (io.Reader, error) {
	zReader, err := zstd.NewReader(reader)
	if err != nil {
		return nil, g.Error(err, "Error decompressing with Zstandard")
	}
	return zReader.IOReadCloser(), nil
}

// NewWriter uses zstd to compress
func (c *ZStandardCodec) NewWriter(writer io.Writer) (io.WriteCloser, error) {
	w, err := zstd.NewWriter(writer, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, g.Error(err, "could not create zstd writer")
	}
	return w, nil
}

// Bzip2Codec decompresses bzip2. Writing is not supported.
type Bzip2Codec struct{}

func (c *Bzip2Codec) Name() CompressorType { return Bzip2CompressorType }

func (c *Bzip2Codec) Suffixes() []string { return []string{".bz2"} }

func (c *Bzip2Codec) NewReader(reader io.Reader) (io.Reader, error) {
	return bzip2.NewReader(reader), nil
}

func (c *Bzip2Codec) NewWriter(writer io.Writer) (io.WriteCloser, error) {
	return nil, NewConfigurationError("bzip2 compression is not supported for writing")
}

// compressedWriter closes the codec writer then the underlying stream
type compressedWriter struct {
	io.WriteCloser
	underlying io.Closer
}

func (cw *compressedWriter) Close() error {
	eG := g.ErrorGroup{}
	eG.Capture(cw.WriteCloser.Close())
	eG.Capture(cw.underlying.Close())
	return eG.Err()
}

// CompressWriter wraps w with the codec. Closing the result closes w.
// A nil codec returns w unchanged.
func CompressWriter(codec Codec, w io.WriteCloser) (io.WriteCloser, error) {
	if codec == nil {
		return w, nil
	}
	cw, err := codec.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return &compressedWriter{WriteCloser: cw, underlying: w}, nil
}
