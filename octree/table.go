package octree

import "image/color"

// ColorIndexTable maps every color added to a Tree to its palette index.
type ColorIndexTable struct {
	palette     []Color
	index       map[uint32]int
	transparent bool
}

// Index returns the palette index of c. Colors the tree never saw map to 0.
func (ct *ColorIndexTable) Index(c Color) int {
	return ct.index[c.Key()]
}

// Palette returns the palette colors. When the table has a transparent
// color it is entry 0.
func (ct *ColorIndexTable) Palette() []Color {
	p := make([]Color, len(ct.palette))
	copy(p, ct.palette)
	return p
}

// Len returns the number of palette entries.
func (ct *ColorIndexTable) Len() int {
	return len(ct.palette)
}

// Transparent reports whether entry 0 is reserved for a transparent color.
func (ct *ColorIndexTable) Transparent() bool {
	return ct.transparent
}

// ColorPalette returns the palette as a color.Palette of color.NRGBA, ready
// to be used by an image.Paletted. The transparent entry has zero alpha,
// every other entry is opaque.
func (ct *ColorIndexTable) ColorPalette() color.Palette {
	p := make(color.Palette, len(ct.palette))
	for i, c := range ct.palette {
		if i == 0 && ct.transparent {
			p[i] = c.NRGBA(0)
			continue
		}
		p[i] = c.NRGBA(255)
	}
	return p
}
