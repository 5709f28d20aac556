// Package compressors provides the codecs available for persisted
// datastore files.
package compressors

import (
	"fmt"

	"github.com/INLOpen/nexusconf/core"
)

// ForType returns the compressor implementing the given codec.
func ForType(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return &NoCompression{}, nil
	case core.CompressionSnappy:
		return &Snappy{}, nil
	case core.CompressionLZ4:
		return &LZ4{}, nil
	case core.CompressionZstd:
		return NewZstd(), nil
	default:
		return nil, fmt.Errorf("no compressor for %v", ct)
	}
}
