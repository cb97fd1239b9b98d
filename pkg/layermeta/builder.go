package layermeta

import (
	"fmt"
	"math"
	"os"

	"github.com/haengmina/JNU-Research-Accel/pkg/quant"
)

// Builder assembles a weight blob and its metadata table layer by layer.
type Builder struct {
	// MaskBits clears the unused high bits of every weight byte so the blob
	// only carries what the bit-serial PE will read.
	MaskBits bool

	blob []byte
	recs []Record
	next int32
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends one layer with the next free layer id and returns its record.
func (b *Builder) Add(bits int, weights []byte) (Record, error) {
	return b.AddWithID(b.next, bits, weights)
}

// AddWithID appends one layer under an explicit id, which must be above every
// id added so far.
func (b *Builder) AddWithID(id int32, bits int, weights []byte) (Record, error) {
	if err := quant.ValidateBits(bits); err != nil {
		return Record{}, fmt.Errorf("layer %d: %w", id, err)
	}
	if len(b.recs) > 0 && id <= b.recs[len(b.recs)-1].LayerID {
		return Record{}, fmt.Errorf("%w: layer id %d not above %d", ErrMetadataMalformed, id, b.recs[len(b.recs)-1].LayerID)
	}
	if id < 0 {
		return Record{}, fmt.Errorf("%w: negative layer id %d", ErrMetadataMalformed, id)
	}
	if int64(len(b.blob))+int64(len(weights)) > math.MaxInt32 {
		return Record{}, fmt.Errorf("%w: blob would exceed %d bytes", ErrMetadataMalformed, math.MaxInt32)
	}

	rec := Record{
		LayerID:  id,
		BitWidth: int32(bits),
		Offset:   int32(len(b.blob)),
		Length:   int32(len(weights)),
	}
	start := len(b.blob)
	b.blob = append(b.blob, weights...)
	if b.MaskBits {
		mask := byte(1<<bits - 1)
		seg := b.blob[start:]
		for i := range seg {
			seg[i] &= mask
		}
	}
	b.recs = append(b.recs, rec)
	b.next = id + 1
	return rec, nil
}

func (b *Builder) Records() []Record {
	return append([]Record(nil), b.recs...)
}

func (b *Builder) Blob() []byte {
	return b.blob
}

func (b *Builder) Metadata() []byte {
	return Encode(b.recs)
}

// WriteFiles writes the blob and metadata table to their own files.
func (b *Builder) WriteFiles(blobPath, metaPath string) error {
	if err := os.WriteFile(blobPath, b.blob, 0o644); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	if err := os.WriteFile(metaPath, b.Metadata(), 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
