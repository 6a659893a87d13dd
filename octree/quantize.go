package octree

import (
	"image"
	"image/color"
)

// DefaultBits is the bit depth used when none is given.
const DefaultBits = 5

// Options controls a quantization run.
type Options struct {
	// MaxColors is the largest palette that will be produced, including the
	// transparent entry. Must be in the range 16-256.
	MaxColors int

	// Bits is how many of the most significant bits of each channel are used
	// to place a color in the tree, in the range 3-8. More bits means a
	// deeper tree: finer color distinctions, more memory and time.
	Bits int

	// Transparent is excluded from quantization and always gets index 0.
	Transparent *Color

	// TransparentAlpha makes pixels with zero alpha count as Transparent.
	// It has no effect when Transparent is nil.
	TransparentAlpha bool
}

func (o *Options) colorAt(img image.Image, x, y int) Color {
	n := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	if o.Transparent != nil && o.TransparentAlpha && n.A == 0 {
		return *o.Transparent
	}
	return Color{n.R, n.G, n.B}
}

// Quantize reduces img to a paletted image of the same bounds. The returned
// palette is the same as the image's, as Colors; when a transparent color is
// set it is entry 0, and is fully transparent in the image's palette.
//
// The result depends only on the pixels of img and opts.
func Quantize(img image.Image, opts Options) (*image.Paletted, []Color, error) {
	t, err := NewTree(opts.MaxColors, opts.Bits, opts.Transparent)
	if err != nil {
		return nil, nil, err
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			t.AddColor(opts.colorAt(img, x, y))
		}
	}

	ct := t.ColorIndexTable()
	Logger.Debug("built color index table",
		"width", b.Dx(),
		"height", b.Dy(),
		"colors", ct.Len(),
		"reductions", t.Reductions(),
	)

	out := image.NewPaletted(b, ct.ColorPalette())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := out.Pix[(y-b.Min.Y)*out.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			row[x-b.Min.X] = uint8(ct.Index(opts.colorAt(img, x, y)))
		}
	}
	return out, ct.Palette(), nil
}

// Quantizer implements draw.Quantizer, so the octree can be given to
// image/gif. Note that image/gif still uses its own Drawer to map pixels to
// the palette.
type Quantizer struct {
	// Bits defaults to DefaultBits when zero.
	Bits        int
	Transparent *Color
}

// Quantize appends up to cap(p)-len(p) colors, but never more than 256, to
// p. If fewer than 16 colors fit, or quantization fails, p is returned
// unchanged.
func (q *Quantizer) Quantize(p color.Palette, m image.Image) color.Palette {
	n := cap(p) - len(p)
	if n > MaxColors {
		n = MaxColors
	}
	bits := q.Bits
	if bits == 0 {
		bits = DefaultBits
	}
	out, _, err := Quantize(m, Options{
		MaxColors:        n,
		Bits:             bits,
		Transparent:      q.Transparent,
		TransparentAlpha: true,
	})
	if err != nil {
		Logger.Warn("octree quantizer left palette unchanged", "err", err)
		return p
	}
	return append(p, out.Palette...)
}
