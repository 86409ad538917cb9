package store

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

// Compression compresses log-file record payloads. The log header records the
// compression name; reopening selects it by name, so files written with one
// scheme stay readable.
type Compression interface {
	Name() string
	Compress(src []byte) []byte
	Decompress(src []byte) ([]byte, error)
}

// CompressionByName returns a built-in compression by its stable name.
func CompressionByName(name string) (Compression, bool) {
	switch name {
	case "none":
		return NoCompression{}, true
	case "s2":
		return S2{}, true
	case "lz4":
		return LZ4{}, true
	default:
		return nil, false
	}
}

// NoCompression stores payloads verbatim.
type NoCompression struct{}

func (NoCompression) Name() string                          { return "none" }
func (NoCompression) Compress(src []byte) []byte            { return src }
func (NoCompression) Decompress(src []byte) ([]byte, error) { return src, nil }

// S2 is snappy-compatible block compression (klauspost/compress/s2).
type S2 struct{}

func (S2) Name() string               { return "s2" }
func (S2) Compress(src []byte) []byte { return s2.Encode(nil, src) }

func (S2) Decompress(src []byte) ([]byte, error) {
	return s2.Decode(nil, src)
}

// LZ4 uses the lz4 frame format (pierrec/lz4).
type LZ4 struct{}

func (LZ4) Name() string { return "lz4" }

func (LZ4) Compress(src []byte) []byte {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return src
	}
	if err := w.Close(); err != nil {
		return src
	}
	return buf.Bytes()
}

func (LZ4) Decompress(src []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
}
