package iop

import (
	"io"
	"strings"

	"github.com/flarco/g"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// lookupCharset returns the encoding for name, nil for utf-8.
// Only ASCII-compatible charsets are accepted since records are
// framed on raw bytes before decoding.
func lookupCharset(name string) (encoding.Encoding, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "utf-8" || name == "utf8" {
		return nil, nil
	}

	if strings.HasPrefix(name, "utf-16") || strings.HasPrefix(name, "utf16") || strings.HasPrefix(name, "utf-32") {
		return nil, NewConfigurationError("charset %s is not ASCII-compatible and cannot be split", name)
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, NewConfigurationError("unsupported charset %s", name)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}

// charsetDecoder converts framed records to utf-8
type charsetDecoder struct {
	decoder *encoding.Decoder
}

func newCharsetDecoder(name string) (*charsetDecoder, error) {
	enc, err := lookupCharset(name)
	if err != nil || enc == nil {
		return nil, err
	}
	return &charsetDecoder{decoder: enc.NewDecoder()}, nil
}

// Decode returns raw as utf-8. A nil decoder is a no-op.
func (cd *charsetDecoder) Decode(raw []byte) ([]byte, error) {
	if cd == nil {
		return raw, nil
	}
	out, err := cd.decoder.Bytes(raw)
	if err != nil {
		return nil, g.Error(err, "could not decode record")
	}
	return out, nil
}

// newCharsetWriter wraps w so utf-8 text written is encoded to the charset.
// The returned closer flushes the encoder; it does not close w.
func newCharsetWriter(w io.Writer, name string) (io.Writer, io.Closer, error) {
	enc, err := lookupCharset(name)
	if err != nil {
		return nil, nil, err
	} else if enc == nil {
		return w, nopCloser{}, nil
	}
	tw := transform.NewWriter(w, enc.NewEncoder())
	return tw, tw, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
