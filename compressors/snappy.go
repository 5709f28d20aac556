package compressors

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/INLOpen/nexusconf/core"
)

// Snappy implements the Compressor interface using the Snappy block
// format.
type Snappy struct{}

var _ core.Compressor = (*Snappy)(nil)

func (c *Snappy) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (c *Snappy) Decompress(data []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return out, nil
}

func (c *Snappy) Type() core.CompressionType { return core.CompressionSnappy }
