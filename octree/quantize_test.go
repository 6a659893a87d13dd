package octree

import (
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red   = color.NRGBA{255, 0, 0, 255}
	green = color.NRGBA{0, 255, 0, 255}
	blue  = color.NRGBA{0, 0, 255, 255}
)

func imageOf(w, h int, colors ...color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, c := range colors {
		img.Set(i%w, i/w, c)
	}
	return img
}

func randomImage(w, h int, seed int64) *image.NRGBA {
	r := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(r.Intn(256))
		img.Pix[i+1] = uint8(r.Intn(256))
		img.Pix[i+2] = uint8(r.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

func assertIndexesValid(t *testing.T, p *image.Paletted) {
	t.Helper()
	for i, idx := range p.Pix {
		if int(idx) >= len(p.Palette) {
			t.Fatalf("pixel %d has index %d, palette has %d colors", i, idx, len(p.Palette))
		}
	}
}

func TestInvalidArguments(t *testing.T) {
	tests := []struct {
		name      string
		maxColors int
		bits      int
	}{
		{"bits too low", 256, 2},
		{"bits too high", 256, 9},
		{"too few colors", 15, 5},
		{"too many colors", 257, 5},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTree(tt.maxColors, tt.bits, nil)
			assert.True(t, errors.Is(err, ErrInvalidArgument), "got %v", err)

			out, palette, err := Quantize(imageOf(1, 1, red), Options{MaxColors: tt.maxColors, Bits: tt.bits})
			assert.True(t, errors.Is(err, ErrInvalidArgument), "got %v", err)
			assert.Nil(t, out)
			assert.Nil(t, palette)
		})
	}
}

func TestQuantizeTwoByTwo(t *testing.T) {
	img := imageOf(2, 2, red, red, blue, green)

	out, palette, err := Quantize(img, Options{MaxColors: 16, Bits: 5})
	require.NoError(t, err)

	assert.Len(t, palette, 3)
	assert.Len(t, out.Palette, 3)
	assert.Equal(t, img.Bounds(), out.Bounds())
	assert.Equal(t, out.ColorIndexAt(0, 0), out.ColorIndexAt(1, 0))

	distinct := map[uint8]bool{}
	for _, idx := range out.Pix {
		distinct[idx] = true
	}
	assert.Len(t, distinct, 3)

	assert.Equal(t, Color{255, 0, 0}, palette[out.ColorIndexAt(0, 0)])
	assert.Equal(t, Color{0, 0, 255}, palette[out.ColorIndexAt(0, 1)])
	assert.Equal(t, Color{0, 255, 0}, palette[out.ColorIndexAt(1, 1)])
}

func TestPaletteBound(t *testing.T) {
	img := randomImage(100, 100, 1)
	transparent := &Color{1, 2, 3}

	for _, maxColors := range []int{16, 17, 64, 200, 256} {
		for bits := MinBits; bits <= MaxBits; bits++ {
			for _, tr := range []*Color{nil, transparent} {
				out, palette, err := Quantize(img, Options{MaxColors: maxColors, Bits: bits, Transparent: tr})
				require.NoError(t, err)
				assert.LessOrEqual(t, len(palette), maxColors, "max %d bits %d", maxColors, bits)
				assert.Equal(t, len(palette), len(out.Palette))
				assertIndexesValid(t, out)
			}
		}
	}
}

func TestReductionUnderPressure(t *testing.T) {
	// 10,000 pixels of random colors
	img := randomImage(100, 100, 42)

	out, palette, err := Quantize(img, Options{MaxColors: 16, Bits: 5})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(palette), 16)
	assert.Greater(t, len(palette), 8)
	assertIndexesValid(t, out)

	tr := &Color{0, 0, 0}
	out, palette, err = Quantize(img, Options{MaxColors: 16, Bits: 8, Transparent: tr})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(palette), 16)
	assert.Equal(t, *tr, palette[0])
	assertIndexesValid(t, out)
}

func TestLeafBoundAfterEveryColor(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	tree, err := NewTree(16, 6, nil)
	require.NoError(t, err)

	for i := 0; i < 5000; i++ {
		tree.AddColor(Color{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256))})
		if tree.Leaves() > 16 {
			t.Fatalf("%d leaves after %d colors", tree.Leaves(), i+1)
		}
	}
	assert.Greater(t, tree.Reductions(), 0)

	// Every color added must still be in the table.
	ct := tree.ColorIndexTable()
	assert.Equal(t, tree.Leaves(), ct.Len())
	r = rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		c := Color{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256))}
		_, ok := ct.index[c.Key()]
		require.True(t, ok, "%v missing from table", c)
	}
}

func TestDeterminism(t *testing.T) {
	img := randomImage(64, 48, 3)
	opts := Options{MaxColors: 32, Bits: 6, Transparent: &Color{255, 255, 255}}

	out1, palette1, err := Quantize(img, opts)
	require.NoError(t, err)
	out2, palette2, err := Quantize(img, opts)
	require.NoError(t, err)

	assert.Equal(t, palette1, palette2)
	assert.Equal(t, out1.Palette, out2.Palette)
	assert.Equal(t, out1.Pix, out2.Pix)
}

func TestTransparency(t *testing.T) {
	magenta := Color{255, 0, 255}
	img := randomImage(50, 50, 9)
	for y := 0; y < 50; y += 5 {
		img.Set(0, y, magenta)
	}
	img.Set(10, 10, color.NRGBA{12, 34, 56, 0})

	out, palette, err := Quantize(img, Options{
		MaxColors:        16,
		Bits:             5,
		Transparent:      &magenta,
		TransparentAlpha: true,
	})
	require.NoError(t, err)

	require.LessOrEqual(t, len(palette), 16)
	assert.Equal(t, magenta, palette[0])
	for _, c := range palette[1:] {
		assert.NotEqual(t, magenta, c)
	}
	for y := 0; y < 50; y += 5 {
		assert.Equal(t, uint8(0), out.ColorIndexAt(0, y))
	}
	assert.Equal(t, uint8(0), out.ColorIndexAt(10, 10))

	assert.Equal(t, color.NRGBA{255, 0, 255, 0}, out.Palette[0])
	for _, c := range out.Palette[1:] {
		assert.Equal(t, uint8(255), c.(color.NRGBA).A)
	}
}

func TestTransparentNotDuplicated(t *testing.T) {
	// Both colors land in one leaf at 3 bits and average to the
	// transparent color.
	transparent := Color{10, 10, 10}
	img := imageOf(2, 1, color.NRGBA{8, 8, 8, 255}, color.NRGBA{12, 12, 12, 255})

	out, palette, err := Quantize(img, Options{MaxColors: 16, Bits: 3, Transparent: &transparent})
	require.NoError(t, err)
	require.Len(t, palette, 2)
	assert.Equal(t, transparent, palette[0])
	assert.Equal(t, Color{10, 10, 11}, palette[1])
	assert.Equal(t, []uint8{1, 1}, out.Pix)
}

// distinctColors returns k colors that differ in the top 7 bits of R or G.
func distinctColors(k int) []Color {
	colors := make([]Color, k)
	for i := range colors {
		colors[i] = Color{uint8(i&0x7f) << 1, uint8(i>>7) << 1, uint8(i * 3)}
	}
	return colors
}

func TestLosslessWithinBudget(t *testing.T) {
	for _, k := range []int{16, 100, 256} {
		colors := distinctColors(k)
		img := image.NewNRGBA(image.Rect(0, 0, k, 3))
		for y := 0; y < 3; y++ {
			for x := range colors {
				// Shift rows so pixel order differs from first-seen order.
				img.Set(x, y, colors[(x+y*7)%k].NRGBA(255))
			}
		}

		out, palette, err := Quantize(img, Options{MaxColors: 256, Bits: 8})
		require.NoError(t, err)
		assert.ElementsMatch(t, colors, palette, "k=%d", k)

		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				want := FromColor(img.At(x, y))
				require.Equal(t, want, palette[out.ColorIndexAt(x, y)], "k=%d at (%d,%d)", k, x, y)
			}
		}
	}
}

func TestQuantizeSubImage(t *testing.T) {
	img := randomImage(40, 40, 5)
	sub := img.SubImage(image.Rect(10, 20, 30, 35))

	out, _, err := Quantize(sub, Options{MaxColors: 64, Bits: 5})
	require.NoError(t, err)
	assert.Equal(t, sub.Bounds(), out.Bounds())
	assertIndexesValid(t, out)
}

func TestUnknownColorIndex(t *testing.T) {
	tree, err := NewTree(16, 8, nil)
	require.NoError(t, err)
	tree.AddColor(Color{200, 100, 50})
	tree.AddColor(Color{20, 10, 5})

	ct := tree.ColorIndexTable()
	assert.Equal(t, 2, ct.Len())
	assert.False(t, ct.Transparent())
	assert.Equal(t, 0, ct.Index(Color{1, 1, 1}))
}

func TestQuantizer(t *testing.T) {
	img := randomImage(30, 30, 11)
	q := &Quantizer{}

	p := q.Quantize(make(color.Palette, 0, 256), img)
	assert.NotEmpty(t, p)
	assert.LessOrEqual(t, len(p), 256)

	p = q.Quantize(make(color.Palette, 0, 20), img)
	assert.LessOrEqual(t, len(p), 20)

	// Not enough room for the smallest palette.
	p = q.Quantize(make(color.Palette, 0, 8), img)
	assert.Empty(t, p)

	tr := Color{1, 1, 1}
	q = &Quantizer{Bits: 4, Transparent: &tr}
	p = q.Quantize(make(color.Palette, 1, 64), img)
	require.Greater(t, len(p), 2)
	assert.Equal(t, color.NRGBA{1, 1, 1, 0}, p[1])
}
