// Package layermeta reads and writes the per-layer metadata table that
// describes where each layer's packed weights live inside a weight blob and
// how many bits of every weight byte are significant.
//
// The table is a flat sequence of little-endian int32 quadruples:
//
//	[layer_id, bit_width, offset, length]
//
// with layer ids strictly ascending.
package layermeta

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RecordSize is the encoded size of one Record.
const RecordSize = 16

var ErrMetadataMalformed = errors.New("malformed layer metadata")

// Record locates one layer's weights inside the blob.
type Record struct {
	LayerID  int32 `yaml:"layer_id" json:"layer_id"`
	BitWidth int32 `yaml:"bit_width" json:"bit_width"`
	Offset   int32 `yaml:"offset" json:"offset"`
	Length   int32 `yaml:"length" json:"length"`
}

// End returns the first blob byte past the record.
func (r Record) End() int64 {
	return int64(r.Offset) + int64(r.Length)
}

func decodeRecord(b []byte) Record {
	return Record{
		LayerID:  int32(binary.LittleEndian.Uint32(b[0:4])),
		BitWidth: int32(binary.LittleEndian.Uint32(b[4:8])),
		Offset:   int32(binary.LittleEndian.Uint32(b[8:12])),
		Length:   int32(binary.LittleEndian.Uint32(b[12:16])),
	}
}

func encodeRecord(b []byte, r Record) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(r.LayerID))
	binary.LittleEndian.PutUint32(b[4:8], uint32(r.BitWidth))
	binary.LittleEndian.PutUint32(b[8:12], uint32(r.Offset))
	binary.LittleEndian.PutUint32(b[12:16], uint32(r.Length))
}

// Parse decodes a metadata table. It checks the table's own structure only;
// bounds against a blob are checked by Validate.
func Parse(meta []byte) ([]Record, error) {
	if len(meta)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMetadataMalformed, len(meta), RecordSize)
	}
	recs := make([]Record, len(meta)/RecordSize)
	for i := range recs {
		recs[i] = decodeRecord(meta[i*RecordSize : (i+1)*RecordSize])
	}
	if err := checkOrder(recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func checkOrder(recs []Record) error {
	for i, r := range recs {
		if r.Offset < 0 || r.Length < 0 {
			return fmt.Errorf("%w: record %d (layer %d) has offset %d length %d", ErrMetadataMalformed, i, r.LayerID, r.Offset, r.Length)
		}
		if i > 0 && r.LayerID <= recs[i-1].LayerID {
			return fmt.Errorf("%w: record %d layer id %d not above %d", ErrMetadataMalformed, i, r.LayerID, recs[i-1].LayerID)
		}
	}
	return nil
}

// Validate checks every record against a blob of blobLen bytes.
func Validate(recs []Record, blobLen int) error {
	if err := checkOrder(recs); err != nil {
		return err
	}
	for i, r := range recs {
		if r.End() > int64(blobLen) {
			return fmt.Errorf("%w: record %d (layer %d) spans [%d,%d) beyond blob of %d bytes",
				ErrMetadataMalformed, i, r.LayerID, r.Offset, r.End(), blobLen)
		}
	}
	return nil
}

// Encode serialises records. It does not validate them.
func Encode(recs []Record) []byte {
	out := make([]byte, len(recs)*RecordSize)
	for i, r := range recs {
		encodeRecord(out[i*RecordSize:], r)
	}
	return out
}
