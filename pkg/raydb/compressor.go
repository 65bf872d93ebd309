package raydb

import (
	"github.com/klauspost/compress/zstd"

	"github.com/bobboyms/storage-engine/pkg/snapshot"
)

// zstdCompressor wires github.com/klauspost/compress/zstd behind
// pkg/snapshot.Compressor, the pluggable seam that package leaves
// unimplemented. One encoder/decoder pair is reused across every
// checkpoint rather than allocated per call.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// newZstdCompressor returns a Compressor, or nil (meaning "no
// compression") if the codec fails to initialize — callers treat a nil
// Compressor as a valid, if degraded, configuration rather than fatal.
func newZstdCompressor() snapshot.Compressor {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil
	}
	return &zstdCompressor{enc: enc, dec: dec}
}

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return z.dec.DecodeAll(data, nil)
}
