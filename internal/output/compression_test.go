package output

import (
	"bytes"
	"io"
	"testing"
)

func TestCompressionTypes(t *testing.T) {
	tests := []struct {
		name        string
		compression CompressionType
		shouldError bool
	}{
		{"default", "", false},
		{"none", CompressionNone, false},
		{"gzip", CompressionGzip, false},
		{"snappy", CompressionSnappy, false},
		{"lz4", CompressionType("lz4"), true},
		{"invalid", CompressionType("invalid"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newCompressor(io.Discard, tt.compression)
			if tt.shouldError && err == nil {
				t.Errorf("expected error for compression type %s", tt.compression)
			}
			if !tt.shouldError && err != nil {
				t.Errorf("unexpected error for compression type %s: %v", tt.compression, err)
			}
		})
	}
}

func TestCompressorRoundTrip(t *testing.T) {
	chunks := [][]byte{
		[]byte(`{"message":{"orderId":42}}` + "\n"),
		[]byte(`{"message":{"proxy":["A","B"],"text":"then"}}` + "\n"),
		[]byte(`{"message":"plain text"}` + "\n"),
	}

	tests := []struct {
		name            string
		compressionType CompressionType
	}{
		{"none", CompressionNone},
		{"gzip", CompressionGzip},
		{"snappy", CompressionSnappy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := newCompressor(&buf, tt.compressionType)
			if err != nil {
				t.Fatalf("failed to get compressor: %v", err)
			}

			var want []byte
			for _, chunk := range chunks {
				if _, err := w.Write(chunk); err != nil {
					t.Fatalf("write failed: %v", err)
				}
				if err := w.Flush(); err != nil {
					t.Fatalf("flush failed: %v", err)
				}
				want = append(want, chunk...)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("close failed: %v", err)
			}

			r, err := newDecompressor(&buf, tt.compressionType)
			if err != nil {
				t.Fatalf("failed to get decompressor: %v", err)
			}
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("decompression failed: %v", err)
			}

			if !bytes.Equal(got, want) {
				t.Errorf("round trip failed: got %q, want %q", got, want)
			}
		})
	}
}
