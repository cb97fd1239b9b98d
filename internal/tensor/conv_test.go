package tensor

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/haengmina/JNU-Research-Accel/pkg/quant"
)

func mustTensor(t *testing.T, h, w, c int, p quant.Params) *QTensor {
	t.Helper()
	q, err := NewQTensor(h, w, c, p)
	if err != nil {
		t.Fatalf("NewQTensor(%d,%d,%d): %v", h, w, c, err)
	}
	return q
}

func fillRandU8(buf []uint8, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range buf {
		buf[i] = uint8(rng.Intn(256))
	}
}

// refOutput mirrors the mixed-domain accumulation without the bit loop.
func refOutput(acc int32, bias []int32, ch int, in, out quant.Params, w Weights, relu6 bool) uint8 {
	var accF float32
	if bias != nil {
		accF = float32(bias[ch]) * in.Scale * w.Params.Scale
	}
	total := accF + float32(float32(acc)*in.Scale*w.Params.Scale)
	q := int32(quant.Requantize(total, out.Scale, out.ZeroPoint))
	if relu6 {
		q = min(q, quant.ReLU6Ceiling(out))
		q = max(q, out.ZeroPoint)
	}
	return uint8(q)
}

func refDepthwise(src *QTensor, w Weights, out quant.Params, relu6 bool) []uint8 {
	res := make([]uint8, src.Len())
	for y := 0; y < src.H; y++ {
		for x := 0; x < src.W; x++ {
			for c := 0; c < src.C; c++ {
				var acc int32
				for ky := 0; ky < 3; ky++ {
					for kx := 0; kx < 3; kx++ {
						iy, ix := y+ky-1, x+kx-1
						var a int32 // zero padding: code 0, not the zero point
						if iy >= 0 && iy < src.H && ix >= 0 && ix < src.W {
							a = int32(src.At(iy, ix, c))
						}
						wq := int32(quant.EffectiveWeight(w.Data[c*9+ky*3+kx], w.Bits))
						acc += a * (wq - w.Params.ZeroPoint)
					}
				}
				res[src.Index(y, x, c)] = refOutput(acc, w.Bias, c, src.Params(), out, w, relu6)
			}
		}
	}
	return res
}

func refPointwise(src *QTensor, cout int, w Weights, out quant.Params) []uint8 {
	res := make([]uint8, src.H*src.W*cout)
	for p := 0; p < src.H*src.W; p++ {
		for co := 0; co < cout; co++ {
			var acc int32
			for ci := 0; ci < src.C; ci++ {
				a := int32(src.Data[p*src.C+ci])
				wq := int32(quant.EffectiveWeight(w.Data[co*src.C+ci], w.Bits))
				acc += a * (wq - w.Params.ZeroPoint)
			}
			res[p*cout+co] = refOutput(acc, w.Bias, co, src.Params(), out, w, false)
		}
	}
	return res
}

func TestDepthwiseSinglePixelUsesCenterTapOnly(t *testing.T) {
	t.Parallel()

	act := quant.Params{Scale: 0.02, ZeroPoint: 128}
	src := mustTensor(t, 1, 1, 2, act)
	src.Data[0], src.Data[1] = 200, 50
	dst := mustTensor(t, 1, 1, 2, act)

	k := make([]uint8, 2*DepthwiseTaps)
	for i := range k {
		k[i] = 255 // neighbours must not matter
	}
	k[4] = 138
	k[DepthwiseTaps+4] = 118
	w := Weights{Data: k, Params: quant.Params{Scale: 0.01, ZeroPoint: 128}, Bits: 8}

	if err := DepthwiseConv3x3(dst, src, w, ConvOptions{}); err != nil {
		t.Fatalf("DepthwiseConv3x3: %v", err)
	}
	// ch0: 200*(138-128)=2000 -> 2000*0.02*0.01 = 0.4 -> 128+20
	// ch1: 50*(118-128)=-500 -> -0.1 -> 128-5
	if dst.Data[0] != 148 || dst.Data[1] != 123 {
		t.Fatalf("got %v, want [148 123]", dst.Data)
	}
}

func TestDepthwiseBorderPadsWithCodeZero(t *testing.T) {
	t.Parallel()

	src := mustTensor(t, 3, 3, 1, quant.Params{Scale: 0.02, ZeroPoint: 128})
	src.Fill(128)
	dst := mustTensor(t, 3, 3, 1, quant.Params{Scale: 0.02, ZeroPoint: 0})
	k := make([]uint8, DepthwiseTaps)
	for i := range k {
		k[i] = 129
	}
	w := Weights{Data: k, Params: quant.Params{Scale: 0.01, ZeroPoint: 128}, Bits: 8}

	if err := DepthwiseConv3x3(dst, src, w, ConvOptions{}); err != nil {
		t.Fatalf("DepthwiseConv3x3: %v", err)
	}
	// Each in-bounds tap adds 128*(129-128)=128. Corners see 4 taps, edges 6,
	// the centre 9. Zero-point padding would make every output equal.
	want := []uint8{
		5, 8, 5,
		8, 12, 8,
		5, 8, 5,
	}
	for i := range want {
		if dst.Data[i] != want[i] {
			t.Fatalf("output %v, want %v", dst.Data, want)
		}
	}
}

func TestDepthwiseMatchesReference(t *testing.T) {
	t.Parallel()

	for _, bits := range []int{4, 6, 8} {
		for _, relu6 := range []bool{false, true} {
			in := quant.Params{Scale: 0.02, ZeroPoint: 128}
			out := quant.Params{Scale: 0.05, ZeroPoint: 100}
			src := mustTensor(t, 9, 7, 5, in)
			fillRandU8(src.Data, int64(bits))
			k := make([]uint8, 5*DepthwiseTaps)
			fillRandU8(k, int64(bits)+100)
			bias := []int32{-300, 0, 150, 4000, -4000}
			w := Weights{Data: k, Bias: bias, Params: quant.Params{Scale: 0.002, ZeroPoint: 128}, Bits: bits}

			dst := mustTensor(t, 9, 7, 5, out)
			if err := DepthwiseConv3x3(dst, src, w, ConvOptions{ReLU6: relu6}); err != nil {
				t.Fatalf("bits=%d: %v", bits, err)
			}
			want := refDepthwise(src, w, out, relu6)
			for i := range want {
				if dst.Data[i] != want[i] {
					t.Fatalf("bits=%d relu6=%v: element %d got %d want %d", bits, relu6, i, dst.Data[i], want[i])
				}
			}
		}
	}
}

func TestDepthwiseReLU6Clamp(t *testing.T) {
	t.Parallel()

	src := mustTensor(t, 1, 1, 2, quant.Params{Scale: 1, ZeroPoint: 0})
	src.Fill(255)
	k := make([]uint8, 2*DepthwiseTaps)
	k[4] = 255           // large positive
	k[DepthwiseTaps+4] = 0 // large negative
	w := Weights{Data: k, Params: quant.Params{Scale: 1, ZeroPoint: 128}, Bits: 8}
	dst := mustTensor(t, 1, 1, 2, quant.Params{Scale: 0.1, ZeroPoint: 10})

	if err := DepthwiseConv3x3(dst, src, w, ConvOptions{ReLU6: true}); err != nil {
		t.Fatalf("DepthwiseConv3x3: %v", err)
	}
	if dst.Data[0] != 70 {
		t.Fatalf("positive side: got %d, want ceiling 70", dst.Data[0])
	}
	if dst.Data[1] != 10 {
		t.Fatalf("negative side: got %d, want zero point 10", dst.Data[1])
	}

	if err := DepthwiseConv3x3(dst, src, w, ConvOptions{}); err != nil {
		t.Fatalf("DepthwiseConv3x3: %v", err)
	}
	if dst.Data[0] != 255 || dst.Data[1] != 0 {
		t.Fatalf("without relu6 expected saturation, got %v", dst.Data)
	}
}

func TestDepthwiseReLU6TinyOutputScale(t *testing.T) {
	t.Parallel()

	src := mustTensor(t, 1, 1, 1, quant.Params{Scale: 1, ZeroPoint: 0})
	src.Fill(1)
	k := make([]uint8, DepthwiseTaps)
	k[4] = 129
	w := Weights{Data: k, Params: quant.Params{Scale: 1e-8, ZeroPoint: 128}, Bits: 8}
	dst := mustTensor(t, 1, 1, 1, quant.Params{Scale: 1e-9, ZeroPoint: 10})

	if err := DepthwiseConv3x3(dst, src, w, ConvOptions{}); err != nil {
		t.Fatalf("DepthwiseConv3x3: %v", err)
	}
	plain := dst.Data[0]
	if err := DepthwiseConv3x3(dst, src, w, ConvOptions{ReLU6: true}); err != nil {
		t.Fatalf("DepthwiseConv3x3: %v", err)
	}
	if plain != 20 || dst.Data[0] != plain {
		t.Fatalf("relu6 changed a positive output below its ceiling: plain=%d relu6=%d", plain, dst.Data[0])
	}
}

func TestDepthwiseZeroRealInput(t *testing.T) {
	t.Parallel()

	out := quant.Params{Scale: 0.02, ZeroPoint: 128}
	wp := quant.Params{Scale: 0.0019579321, ZeroPoint: 128}

	t.Run("mid-gray with weights at zero point", func(t *testing.T) {
		src := mustTensor(t, 32, 32, 3, quant.Params{Scale: 0.02, ZeroPoint: 128})
		src.Fill(128)
		k := make([]uint8, 3*DepthwiseTaps)
		for i := range k {
			k[i] = 128
		}
		dst := mustTensor(t, 32, 32, 3, out)
		if err := DepthwiseConv3x3(dst, src, Weights{Data: k, Params: wp, Bits: 8}, ConvOptions{}); err != nil {
			t.Fatalf("DepthwiseConv3x3: %v", err)
		}
		for i, q := range dst.Data {
			if q != 128 {
				t.Fatalf("element %d = %d, want output zero point 128", i, q)
			}
		}
	})

	t.Run("code zero input with arbitrary weights", func(t *testing.T) {
		src := mustTensor(t, 32, 32, 3, quant.Params{Scale: 0.02, ZeroPoint: 0})
		k := make([]uint8, 3*DepthwiseTaps)
		fillRandU8(k, 42)
		for _, bits := range []int{4, 6, 8} {
			dst := mustTensor(t, 32, 32, 3, out)
			if err := DepthwiseConv3x3(dst, src, Weights{Data: k, Params: wp, Bits: bits}, ConvOptions{}); err != nil {
				t.Fatalf("DepthwiseConv3x3: %v", err)
			}
			for i, q := range dst.Data {
				if q != quant.Requantize(0, out.Scale, out.ZeroPoint) {
					t.Fatalf("bits=%d element %d = %d, want %d", bits, i, q, out.ZeroPoint)
				}
			}
		}
	})
}

func TestPointwiseMatchesReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cin, cout, bits int
		bias            bool
	}{
		{3, 10, 8, false},
		{5, 37, 6, true},
		{16, 16, 4, true},
		{1, 1, 1, false},
	}
	for _, tc := range tests {
		in := quant.Params{Scale: 0.02, ZeroPoint: 128}
		out := quant.Params{Scale: 0.03, ZeroPoint: 120}
		src := mustTensor(t, 6, 4, tc.cin, in)
		fillRandU8(src.Data, int64(tc.cin*tc.cout))
		k := make([]uint8, tc.cin*tc.cout)
		fillRandU8(k, int64(tc.cout))
		var bias []int32
		if tc.bias {
			bias = make([]int32, tc.cout)
			for i := range bias {
				bias[i] = int32(i*97 - 1000)
			}
		}
		w := Weights{Data: k, Bias: bias, Params: quant.Params{Scale: 0.002, ZeroPoint: 128}, Bits: tc.bits}
		dst := mustTensor(t, 6, 4, tc.cout, out)
		if err := PointwiseConv1x1(dst, src, w, ConvOptions{}); err != nil {
			t.Fatalf("%+v: %v", tc, err)
		}
		want := refPointwise(src, tc.cout, w, out)
		for i := range want {
			if dst.Data[i] != want[i] {
				t.Fatalf("%+v: element %d got %d want %d", tc, i, dst.Data[i], want[i])
			}
		}
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	t.Parallel()

	in := quant.Params{Scale: 0.02, ZeroPoint: 128}
	out := quant.Params{Scale: 0.02, ZeroPoint: 128}
	src := mustTensor(t, 17, 13, 5, in)
	fillRandU8(src.Data, 7)
	dk := make([]uint8, 5*DepthwiseTaps)
	fillRandU8(dk, 8)
	pk := make([]uint8, 5*23)
	fillRandU8(pk, 9)
	dw := Weights{Data: dk, Params: quant.Params{Scale: 0.002, ZeroPoint: 128}, Bits: 6}
	pw := Weights{Data: pk, Params: quant.Params{Scale: 0.002, ZeroPoint: 128}, Bits: 4}

	for _, workers := range []int{2, 4, 16, -1} {
		seqDW := mustTensor(t, 17, 13, 5, out)
		parDW := mustTensor(t, 17, 13, 5, out)
		if err := DepthwiseConv3x3(seqDW, src, dw, ConvOptions{ReLU6: true}); err != nil {
			t.Fatal(err)
		}
		if err := DepthwiseConv3x3(parDW, src, dw, ConvOptions{ReLU6: true, Workers: workers}); err != nil {
			t.Fatal(err)
		}
		seqPW := mustTensor(t, 17, 13, 23, out)
		parPW := mustTensor(t, 17, 13, 23, out)
		if err := PointwiseConv1x1(seqPW, seqDW, pw, ConvOptions{}); err != nil {
			t.Fatal(err)
		}
		if err := PointwiseConv1x1(parPW, parDW, pw, ConvOptions{Workers: workers}); err != nil {
			t.Fatal(err)
		}
		for i := range seqPW.Data {
			if seqPW.Data[i] != parPW.Data[i] {
				t.Fatalf("workers=%d: element %d differs (%d vs %d)", workers, i, seqPW.Data[i], parPW.Data[i])
			}
		}
	}
}

func TestConvPreconditions(t *testing.T) {
	t.Parallel()

	act := quant.Params{Scale: 0.02, ZeroPoint: 128}
	wp := quant.Params{Scale: 0.002, ZeroPoint: 128}
	src := mustTensor(t, 4, 4, 3, act)
	same := mustTensor(t, 4, 4, 3, act)
	wide := mustTensor(t, 4, 4, 8, act)
	short := mustTensor(t, 4, 3, 3, act)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"depthwise short weights", func() error {
			return DepthwiseConv3x3(same, src, Weights{Data: make([]uint8, 3*9-1), Params: wp, Bits: 8}, ConvOptions{})
		}, ErrInvalidDimensions},
		{"depthwise shape mismatch", func() error {
			return DepthwiseConv3x3(wide, src, Weights{Data: make([]uint8, 3*9), Params: wp, Bits: 8}, ConvOptions{})
		}, ErrInvalidDimensions},
		{"depthwise bits 0", func() error {
			return DepthwiseConv3x3(same, src, Weights{Data: make([]uint8, 3*9), Params: wp, Bits: 0}, ConvOptions{})
		}, quant.ErrUnsupportedBitWidth},
		{"depthwise bits 9", func() error {
			return DepthwiseConv3x3(same, src, Weights{Data: make([]uint8, 3*9), Params: wp, Bits: 9}, ConvOptions{})
		}, quant.ErrUnsupportedBitWidth},
		{"depthwise short bias", func() error {
			return DepthwiseConv3x3(same, src, Weights{Data: make([]uint8, 3*9), Bias: []int32{1, 2}, Params: wp, Bits: 8}, ConvOptions{})
		}, ErrInvalidDimensions},
		{"depthwise truncated tensor", func() error {
			bad := &QTensor{H: 4, W: 4, C: 3, Data: make([]uint8, 10), Scale: 1}
			return DepthwiseConv3x3(same, bad, Weights{Data: make([]uint8, 3*9), Params: wp, Bits: 8}, ConvOptions{})
		}, ErrInvalidDimensions},
		{"pointwise short weights", func() error {
			return PointwiseConv1x1(wide, src, Weights{Data: make([]uint8, 3*8-1), Params: wp, Bits: 8}, ConvOptions{})
		}, ErrInvalidDimensions},
		{"pointwise spatial mismatch", func() error {
			return PointwiseConv1x1(short, src, Weights{Data: make([]uint8, 9), Params: wp, Bits: 8}, ConvOptions{})
		}, ErrInvalidDimensions},
		{"pointwise bad bits", func() error {
			return PointwiseConv1x1(wide, src, Weights{Data: make([]uint8, 24), Params: wp, Bits: -2}, ConvOptions{})
		}, quant.ErrUnsupportedBitWidth},
		{"pointwise bad weight scale", func() error {
			return PointwiseConv1x1(wide, src, Weights{Data: make([]uint8, 24), Params: quant.Params{}, Bits: 8}, ConvOptions{})
		}, ErrInvalidDimensions},
	}
	for _, tc := range tests {
		if err := tc.run(); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestConvFailureLeavesOutputUntouched(t *testing.T) {
	t.Parallel()

	act := quant.Params{Scale: 0.02, ZeroPoint: 128}
	src := mustTensor(t, 2, 2, 1, act)
	dst := mustTensor(t, 2, 2, 1, act)
	dst.Fill(77)
	err := DepthwiseConv3x3(dst, src, Weights{Data: make([]uint8, 9), Params: act, Bits: 12}, ConvOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, q := range dst.Data {
		if q != 77 {
			t.Fatalf("output modified on failure: %v", dst.Data)
		}
	}
}
