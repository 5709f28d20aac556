package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Persisted datastore files start with a fixed header identifying the
// format version, the payload compression and the module's revision
// counter, so a file written with one codec can always be read back
// regardless of the currently configured one, and the revision can be
// probed without parsing the payload.

var fileMagic = []byte("NCF1")

// FileFormatVersion is the current on-disk format version.
const FileFormatVersion uint8 = 2

// FileHeaderSize is the encoded header length in bytes.
const FileHeaderSize = 14

// FileHeader describes the on-disk envelope of a persisted module tree.
type FileHeader struct {
	Version     uint8
	Compression CompressionType
	// Revision is the module's commit counter, bumped on every persist.
	// It is the comparable revision used for conflict detection; wall
	// clocks are too coarse to order back-to-back commits.
	Revision uint64
}

// Encode renders the header into its fixed 14-byte form.
func (h FileHeader) Encode() []byte {
	buf := make([]byte, 0, FileHeaderSize)
	buf = append(buf, fileMagic...)
	buf = append(buf, h.Version, uint8(h.Compression))
	buf = binary.BigEndian.AppendUint64(buf, h.Revision)
	return buf
}

// DecodeFileHeader parses the header at the start of data and returns
// it together with the payload offset.
func DecodeFileHeader(data []byte) (FileHeader, int, error) {
	if len(data) < FileHeaderSize {
		return FileHeader{}, 0, fmt.Errorf("file too short for header: %d bytes", len(data))
	}
	if !bytes.Equal(data[:len(fileMagic)], fileMagic) {
		return FileHeader{}, 0, fmt.Errorf("bad magic %q", data[:len(fileMagic)])
	}
	h := FileHeader{
		Version:     data[4],
		Compression: CompressionType(data[5]),
		Revision:    binary.BigEndian.Uint64(data[6:14]),
	}
	if h.Version != FileFormatVersion {
		return FileHeader{}, 0, fmt.Errorf("unsupported file format version %d", h.Version)
	}
	return h, FileHeaderSize, nil
}
