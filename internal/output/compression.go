package output

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// CompressionType defines the compression algorithm applied to file output
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionGzip   CompressionType = "gzip"
	CompressionSnappy CompressionType = "snappy"
)

// flushWriteCloser is a compressing stream that can be flushed between events
type flushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

// newCompressor wraps w in the stream encoder for ctype. The returned
// writer's Close finishes the stream but leaves w open.
func newCompressor(w io.Writer, ctype CompressionType) (flushWriteCloser, error) {
	switch ctype {
	case "", CompressionNone:
		return nopCompressor{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", ctype)
	}
}

// newDecompressor is the reading counterpart of newCompressor
func newDecompressor(r io.Reader, ctype CompressionType) (io.Reader, error) {
	switch ctype {
	case "", CompressionNone:
		return r, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader creation failed: %w", err)
		}
		return zr, nil
	case CompressionSnappy:
		return snappy.NewReader(r), nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", ctype)
	}
}

type nopCompressor struct {
	io.Writer
}

func (nopCompressor) Flush() error { return nil }
func (nopCompressor) Close() error { return nil }
