package assets

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestBMPRoundTrip(t *testing.T) {
	t.Parallel()

	img := Synthetic(5, 3, 7) // odd width exercises row padding
	var buf bytes.Buffer
	if err := EncodeBMP(&buf, img); err != nil {
		t.Fatalf("EncodeBMP: %v", err)
	}
	if bpp := binary.LittleEndian.Uint16(buf.Bytes()[bmpBPPOffset:]); bpp != 24 {
		t.Fatalf("encoded %d bpp, want 24", bpp)
	}
	got, err := DecodeBMP(&buf)
	if err != nil {
		t.Fatalf("DecodeBMP: %v", err)
	}
	if got.Width != 5 || got.Height != 3 || !bytes.Equal(got.Pix, img.Pix) {
		t.Fatalf("round trip mismatch")
	}
}

// topDownBMP hand-builds a 2x2 24-bit BMP with negative height.
func topDownBMP() []byte {
	const w, h = 2, 2
	rowLen := (w*3 + 3) &^ 3
	data := make([]byte, 54+rowLen*h)
	copy(data, "BM")
	binary.LittleEndian.PutUint32(data[2:], uint32(len(data)))
	binary.LittleEndian.PutUint32(data[10:], 54)
	binary.LittleEndian.PutUint32(data[14:], 40)
	binary.LittleEndian.PutUint32(data[18:], w)
	hNeg := int32(-h)
	binary.LittleEndian.PutUint32(data[22:], uint32(hNeg))
	binary.LittleEndian.PutUint16(data[26:], 1)
	binary.LittleEndian.PutUint16(data[28:], 24)
	px := data[54:]
	// Stored BGR: first row red, green; second row blue, white.
	copy(px[0:], []byte{0, 0, 255, 0, 255, 0})
	copy(px[rowLen:], []byte{255, 0, 0, 255, 255, 255})
	return data
}

func TestDecodeTopDownBGR(t *testing.T) {
	t.Parallel()

	img, err := DecodeBMP(bytes.NewReader(topDownBMP()))
	if err != nil {
		t.Fatalf("DecodeBMP: %v", err)
	}
	want := []byte{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 255, 255, 255,
	}
	if !bytes.Equal(img.Pix, want) {
		t.Fatalf("pixels %v, want %v", img.Pix, want)
	}
}

func TestDecodeRejectsUnsupported(t *testing.T) {
	t.Parallel()

	data := topDownBMP()
	binary.LittleEndian.PutUint16(data[28:], 32)
	if _, err := DecodeBMP(bytes.NewReader(data)); !errors.Is(err, ErrUnsupportedBMP) {
		t.Fatalf("32 bpp: expected ErrUnsupportedBMP, got %v", err)
	}
	if _, err := DecodeBMP(strings.NewReader("GIF89a....................................")); !errors.Is(err, ErrUnsupportedBMP) {
		t.Fatalf("wrong magic: expected ErrUnsupportedBMP, got %v", err)
	}
	if _, err := DecodeBMP(bytes.NewReader(nil)); !errors.Is(err, ErrUnsupportedBMP) {
		t.Fatalf("empty: expected ErrUnsupportedBMP, got %v", err)
	}
}

func TestDecodeRejectsTruncatedPixels(t *testing.T) {
	t.Parallel()

	data := topDownBMP()[:60]
	if _, err := DecodeBMP(bytes.NewReader(data)); !errors.Is(err, ErrCorruptBMP) {
		t.Fatalf("expected ErrCorruptBMP, got %v", err)
	}
}

// hugeHeaderBMP claims a 12000x12000 image but carries only four pixel bytes.
func hugeHeaderBMP() []byte {
	data := topDownBMP()[:58]
	binary.LittleEndian.PutUint32(data[2:], uint32(len(data)))
	binary.LittleEndian.PutUint32(data[18:], 12000)
	hNeg := int32(-12000)
	binary.LittleEndian.PutUint32(data[22:], uint32(hNeg))
	return data
}

// Not parallel: measures heap allocation across the call.
func TestDecodeChecksHeaderBeforeAllocating(t *testing.T) {
	data := hugeHeaderBMP()
	decode := func(accept ...Size) error {
		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)
		_, err := DecodeBMP(bytes.NewReader(data), accept...)
		runtime.ReadMemStats(&after)
		if grew := after.TotalAlloc - before.TotalAlloc; grew > 1<<20 {
			t.Fatalf("decode allocated %d bytes for a %d byte body", grew, len(data))
		}
		return err
	}
	if err := decode(Size{32, 32}); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if err := decode(); !errors.Is(err, ErrCorruptBMP) {
		t.Fatalf("expected ErrCorruptBMP without a size list, got %v", err)
	}
}

func TestLoadBMPSizeCheck(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "img.bmp")
	if err := WriteBMP(path, Synthetic(32, 32, 1)); err != nil {
		t.Fatalf("WriteBMP: %v", err)
	}
	if _, err := LoadBMP(path, Size{224, 224}, Size{32, 32}); err != nil {
		t.Fatalf("fallback size: %v", err)
	}
	if _, err := LoadBMP(path); err != nil {
		t.Fatalf("no size constraint: %v", err)
	}
	if _, err := LoadBMP(path, Size{224, 224}); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if _, err := LoadBMP(filepath.Join(t.TempDir(), "none.bmp")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestEncodeRejectsShortPixels(t *testing.T) {
	t.Parallel()

	if err := EncodeBMP(&bytes.Buffer{}, &Image{Width: 2, Height: 2, Pix: make([]byte, 11)}); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseLabels(t *testing.T) {
	t.Parallel()

	labels, err := ParseLabels(strings.NewReader("cat\r\ndog\n\n\r\nbird"))
	if err != nil {
		t.Fatalf("ParseLabels: %v", err)
	}
	if strings.Join(labels, ",") != "cat,dog,bird" {
		t.Fatalf("labels %q", labels)
	}
	if Label(labels, 1) != "dog" || Label(labels, 3) != UnknownLabel || Label(labels, -1) != UnknownLabel {
		t.Fatalf("Label lookup wrong")
	}
}

func TestLoadLabels(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.txt")
	if err := os.WriteFile(path, []byte("a\nb\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	labels, err := LoadLabels(path)
	if err != nil || len(labels) != 2 {
		t.Fatalf("labels=%v err=%v", labels, err)
	}
}
