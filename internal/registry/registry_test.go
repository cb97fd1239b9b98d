package registry

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/haengmina/JNU-Research-Accel/pkg/layermeta"
)

func buildFixture(t *testing.T) *layermeta.Builder {
	t.Helper()
	b := layermeta.NewBuilder()
	if _, err := b.Add(8, bytes.Repeat([]byte{0xA1}, 27)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := b.Add(4, bytes.Repeat([]byte{0x07}, 30)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return b
}

func TestNewAndLayer(t *testing.T) {
	t.Parallel()

	b := buildFixture(t)
	r, err := New(b.Metadata(), b.Blob())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Len() != 2 || r.BlobSize() != 57 {
		t.Fatalf("len=%d blob=%d", r.Len(), r.BlobSize())
	}
	v, err := r.Layer(1)
	if err != nil {
		t.Fatalf("Layer: %v", err)
	}
	if v.LayerID != 1 || v.Bits != 4 || len(v.Data) != 30 || v.Data[0] != 0x07 {
		t.Fatalf("unexpected view %+v", v)
	}
	if cap(v.Data) != len(v.Data) {
		t.Fatalf("view can grow into the next layer")
	}
	if _, err := r.Layer(2); !errors.Is(err, ErrLayerNotFound) {
		t.Fatalf("expected ErrLayerNotFound, got %v", err)
	}
	if _, err := r.Layer(-1); !errors.Is(err, ErrLayerNotFound) {
		t.Fatalf("expected ErrLayerNotFound, got %v", err)
	}
	if f, err := r.Find(0); err != nil || f.Bits != 8 {
		t.Fatalf("Find(0) = %+v, %v", f, err)
	}
	if _, err := r.Find(9); !errors.Is(err, ErrLayerNotFound) {
		t.Fatalf("expected ErrLayerNotFound, got %v", err)
	}
}

func TestAllIteratesInOrder(t *testing.T) {
	t.Parallel()

	b := buildFixture(t)
	r, err := New(b.Metadata(), b.Blob())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var ids []int32
	for i, v := range r.All() {
		if int(v.LayerID) != i {
			t.Fatalf("position %d has id %d", i, v.LayerID)
		}
		ids = append(ids, v.LayerID)
	}
	if len(ids) != 2 {
		t.Fatalf("iterated %v", ids)
	}
}

func TestNewRejectsOutOfBounds(t *testing.T) {
	t.Parallel()

	b := buildFixture(t)
	blob := b.Blob()[:50]
	if _, err := New(b.Metadata(), blob); !errors.Is(err, layermeta.ErrMetadataMalformed) {
		t.Fatalf("expected ErrMetadataMalformed, got %v", err)
	}
	if _, err := New(b.Metadata()[:20], b.Blob()); !errors.Is(err, layermeta.ErrMetadataMalformed) {
		t.Fatalf("truncated metadata: expected ErrMetadataMalformed, got %v", err)
	}
}

func TestOpenMapsFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b := buildFixture(t)
	wPath := filepath.Join(dir, "weights.bin")
	mPath := filepath.Join(dir, "meta.bin")
	if err := b.WriteFiles(wPath, mPath); err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}

	r, err := Open(wPath, mPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, err := r.Layer(0)
	if err != nil {
		t.Fatalf("Layer: %v", err)
	}
	if !bytes.Equal(v.Data, bytes.Repeat([]byte{0xA1}, 27)) {
		t.Fatalf("layer 0 data mismatch")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b := buildFixture(t)
	wPath := filepath.Join(dir, "weights.bin")
	mPath := filepath.Join(dir, "meta.bin")
	if err := os.WriteFile(wPath, b.Blob()[:10], 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(mPath, b.Metadata(), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(wPath, mPath); !errors.Is(err, layermeta.ErrMetadataMalformed) {
		t.Fatalf("short blob: expected ErrMetadataMalformed, got %v", err)
	}
	if _, err := Open(filepath.Join(dir, "missing.bin"), mPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing blob: expected ErrNotExist, got %v", err)
	}
	if _, err := Open(wPath, filepath.Join(dir, "missing.meta")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing metadata: expected ErrNotExist, got %v", err)
	}
}
