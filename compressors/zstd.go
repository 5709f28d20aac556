package compressors

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/INLOpen/nexusconf/core"
)

// Zstd implements the Compressor interface using zstandard. The
// encoder and decoder are created once and reused; EncodeAll/DecodeAll
// are safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var _ core.Compressor = (*Zstd)(nil)

func NewZstd() *Zstd {
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &Zstd{enc: enc, dec: dec}
}

func (c *Zstd) Compress(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, nil), nil
}

func (c *Zstd) Decompress(data []byte) ([]byte, error) {
	out, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

func (c *Zstd) Type() core.CompressionType { return core.CompressionZstd }
