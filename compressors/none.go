package compressors

import "github.com/INLOpen/nexusconf/core"

// NoCompression passes payloads through unchanged.
type NoCompression struct{}

var _ core.Compressor = (*NoCompression)(nil)

func (c *NoCompression) Compress(data []byte) ([]byte, error)   { return data, nil }
func (c *NoCompression) Decompress(data []byte) ([]byte, error) { return data, nil }
func (c *NoCompression) Type() core.CompressionType             { return core.CompressionNone }
