// Package assets loads and writes the files that surround the inference core:
// BMP input images and class label lists.
package assets

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/haengmina/JNU-Research-Accel/internal/toy"
	"golang.org/x/image/bmp"
)

var (
	ErrUnsupportedBMP = errors.New("unsupported BMP")
	ErrCorruptBMP     = errors.New("corrupt BMP")
	ErrSizeMismatch   = errors.New("image size mismatch")
)

const (
	bmpHeaderLen    = 30
	bmpOffsetOffset = 10
	bmpBPPOffset    = 28
)

// Image is packed RGB, rows top to bottom, channel innermost; the layout the
// network's input tensor expects.
type Image struct {
	Width, Height int
	Pix           []byte
}

// Size is a width x height pair.
type Size struct {
	Width, Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// DecodeBMP decodes an uncompressed 24-bit BMP, either bottom-up or
// top-down. When accept sizes are given the header is checked against them
// before any pixel buffer is allocated.
func DecodeBMP(r io.Reader, accept ...Size) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < bmpHeaderLen || data[0] != 'B' || data[1] != 'M' {
		return nil, fmt.Errorf("%w: not a BMP file", ErrUnsupportedBMP)
	}
	if bpp := binary.LittleEndian.Uint16(data[bmpBPPOffset:]); bpp != 24 {
		return nil, fmt.Errorf("%w: %d bits per pixel, want 24", ErrUnsupportedBMP, bpp)
	}
	cfg, err := bmp.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(err)
	}
	if err := checkSize(cfg.Width, cfg.Height, accept); err != nil {
		return nil, err
	}
	// x/image sizes its buffer from the header, so a short body must fail here.
	rowLen := (int64(cfg.Width)*3 + 3) &^ 3
	pixOffset := int64(binary.LittleEndian.Uint32(data[bmpOffsetOffset:]))
	if need := pixOffset + rowLen*int64(cfg.Height); int64(len(data)) < need {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrCorruptBMP, len(data), need)
	}
	m, err := bmp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(err)
	}
	return fromImage(m), nil
}

func decodeError(err error) error {
	if errors.Is(err, bmp.ErrUnsupported) {
		return fmt.Errorf("%w: %v", ErrUnsupportedBMP, err)
	}
	return fmt.Errorf("%w: %v", ErrCorruptBMP, err)
}

func fromImage(m image.Image) *Image {
	b := m.Bounds()
	img := &Image{Width: b.Dx(), Height: b.Dy(), Pix: make([]byte, b.Dx()*b.Dy()*3)}
	if rgba, ok := m.(*image.RGBA); ok {
		for y := 0; y < img.Height; y++ {
			row := rgba.Pix[y*rgba.Stride:]
			dst := img.Pix[y*img.Width*3:]
			for x := 0; x < img.Width; x++ {
				dst[x*3+0] = row[x*4+0]
				dst[x*3+1] = row[x*4+1]
				dst[x*3+2] = row[x*4+2]
			}
		}
		return img
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := m.At(x, y).RGBA()
			img.Pix[i+0] = byte(r >> 8)
			img.Pix[i+1] = byte(g >> 8)
			img.Pix[i+2] = byte(bl >> 8)
			i += 3
		}
	}
	return img
}

// LoadBMP decodes the file at path and checks its dimensions against the
// accepted sizes, if any are given.
func LoadBMP(path string, accept ...Size) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, err := DecodeBMP(f, accept...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// checkSize reports ErrSizeMismatch unless the dimensions match one of the
// sizes. An empty list accepts anything.
func checkSize(width, height int, accept []Size) error {
	if len(accept) == 0 {
		return nil
	}
	for _, s := range accept {
		if width == s.Width && height == s.Height {
			return nil
		}
	}
	return fmt.Errorf("%w: got %dx%d, accepted %v", ErrSizeMismatch, width, height, accept)
}

// EncodeBMP writes img as an uncompressed 24-bit BMP.
func EncodeBMP(w io.Writer, img *Image) error {
	if len(img.Pix) != img.Width*img.Height*3 {
		return fmt.Errorf("image %dx%d has %d bytes, want %d", img.Width, img.Height, len(img.Pix), img.Width*img.Height*3)
	}
	m := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for i, j := 0, 0; i < len(img.Pix); i, j = i+3, j+4 {
		m.Pix[j+0] = img.Pix[i+0]
		m.Pix[j+1] = img.Pix[i+1]
		m.Pix[j+2] = img.Pix[i+2]
		m.Pix[j+3] = 0xFF
	}
	return bmp.Encode(w, m)
}

// WriteBMP encodes img to a new file at path.
func WriteBMP(path string, img *Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return EncodeBMP(f, img)
}

// Synthetic returns a seeded random RGB image.
func Synthetic(width, height int, seed int64) *Image {
	return &Image{Width: width, Height: height, Pix: toy.Pixels(height, width, 3, seed)}
}
