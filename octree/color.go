package octree

import (
	"fmt"
	"image/color"
)

// Color is an opaque RGB color. Transparency is handled by the tree as a
// single reserved color, never through an alpha channel.
type Color struct {
	R, G, B uint8
}

// FromColor converts any color.Color to a Color by way of non-premultiplied
// RGBA, dropping alpha.
func FromColor(c color.Color) Color {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return Color{n.R, n.G, n.B}
}

// Key packs the color as R<<16 | G<<8 | B. It is the key of the index table.
func (c Color) Key() uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

// NRGBA returns the color with the given alpha.
func (c Color) NRGBA(a uint8) color.NRGBA {
	return color.NRGBA{c.R, c.G, c.B, a}
}

// RGBA implements color.Color, so a Color can be used in a color.Palette.
func (c Color) RGBA() (r, g, b, a uint32) {
	return c.NRGBA(255).RGBA()
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// childIndex returns which of the 8 children c is routed to at depth level.
// Bit 7-level of each channel contributes one bit: red is the high bit.
func (c Color) childIndex(level int) int {
	off := 7 - level
	return int((c.R>>off)&1)<<2 | int((c.G>>off)&1)<<1 | int((c.B>>off)&1)
}
