// Package registry exposes per-layer views over a mixed-precision weight blob
// described by a layermeta table.
package registry

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/haengmina/JNU-Research-Accel/pkg/layermeta"
	"golang.org/x/sys/unix"
)

var ErrLayerNotFound = errors.New("registry: layer not found")

// View is one layer's weights. Data aliases the registry's blob and must not
// be retained after Close.
type View struct {
	LayerID int32
	Bits    int
	Data    []byte
}

// Registry owns a weight blob and its validated metadata records.
type Registry struct {
	blob    []byte
	recs    []layermeta.Record
	mmapped bool
}

// New validates meta against blob and takes ownership of blob.
func New(meta, blob []byte) (*Registry, error) {
	recs, err := layermeta.Parse(meta)
	if err != nil {
		return nil, err
	}
	if err := layermeta.Validate(recs, len(blob)); err != nil {
		return nil, err
	}
	return &Registry{blob: blob, recs: recs}, nil
}

// Open loads the metadata table and maps the weight blob read-only.
// If mmap is unavailable, it falls back to ReadAt-based loading.
// The returned registry must be closed to release any mapping.
func Open(weightsPath, metaPath string) (*Registry, error) {
	meta, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	blob, mmapped, err := loadBlob(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	r, err := New(meta, blob)
	if err != nil {
		if mmapped {
			_ = unix.Munmap(blob)
		}
		return nil, err
	}
	r.mmapped = mmapped
	return r, nil
}

func loadBlob(path string) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	size64 := stat.Size()
	if size64 < 0 || size64 > int64(int(^uint(0)>>1)) {
		return nil, false, fmt.Errorf("%s: unusable size %d", path, size64)
	}
	size := int(size64)
	if size == 0 {
		return []byte{}, false, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return data, true, nil
	}
	data, err = readAllAt(f, size)
	return data, false, err
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

// Close releases the blob and any mmap backing.
func (r *Registry) Close() error {
	if r == nil || r.blob == nil {
		return nil
	}
	var err error
	if r.mmapped {
		err = unix.Munmap(r.blob)
	}
	r.blob = nil
	r.recs = nil
	r.mmapped = false
	return err
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.recs)
}

// Records returns a copy of the metadata records in blob order.
func (r *Registry) Records() []layermeta.Record {
	return append([]layermeta.Record(nil), r.recs...)
}

// BlobSize is the number of weight bytes held.
func (r *Registry) BlobSize() int {
	return len(r.blob)
}

// Layer returns the view for the record at position pos.
func (r *Registry) Layer(pos int) (View, error) {
	if r == nil || pos < 0 || pos >= len(r.recs) {
		return View{}, fmt.Errorf("%w: position %d of %d", ErrLayerNotFound, pos, r.Len())
	}
	return r.view(r.recs[pos]), nil
}

// Find returns the view for a layer id.
func (r *Registry) Find(id int32) (View, error) {
	for _, rec := range r.recs {
		if rec.LayerID == id {
			return r.view(rec), nil
		}
	}
	return View{}, fmt.Errorf("%w: id %d", ErrLayerNotFound, id)
}

// All yields every layer in metadata order.
func (r *Registry) All() iter.Seq2[int, View] {
	return func(yield func(int, View) bool) {
		for i, rec := range r.recs {
			if !yield(i, r.view(rec)) {
				return
			}
		}
	}
}

func (r *Registry) view(rec layermeta.Record) View {
	end := rec.End()
	return View{
		LayerID: rec.LayerID,
		Bits:    int(rec.BitWidth),
		Data:    r.blob[rec.Offset:end:end],
	}
}
