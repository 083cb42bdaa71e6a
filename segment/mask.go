package segment

import (
	"image"
	"image/color"
)

// Mask is a binary per-pixel membership map, row-major.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

func (m *Mask) Set(x, y int, v bool) {
	m.Bits[y*m.Width+x] = v
}

func (m *Mask) Get(x, y int) bool {
	return m.Bits[y*m.Width+x]
}

// Area is the number of member pixels.
func (m *Mask) Area() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// RLE encodes the mask as alternating run lengths in row-major order.
// The first run counts background pixels and may be zero.
func (m *Mask) RLE() []int {
	counts := []int{}
	cur := false
	run := 0
	for _, b := range m.Bits {
		if b != cur {
			counts = append(counts, run)
			cur = b
			run = 0
		}
		run++
	}
	return append(counts, run)
}

// MaskFromRLE is the inverse of RLE.
func MaskFromRLE(width, height int, counts []int) *Mask {
	m := NewMask(width, height)
	i := 0
	v := false
	for _, c := range counts {
		for j := 0; j < c && i < len(m.Bits); j++ {
			m.Bits[i] = v
			i++
		}
		v = !v
	}
	return m
}

// Gray renders members white on black.
func (m *Mask) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, b := range m.Bits {
		if b {
			g.Pix[i] = 0xff
		}
	}
	return g
}

// MaskFromGray sets members where the luminance is above threshold.
func MaskFromGray(img image.Image, threshold uint8) *Mask {
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.Bits[y*m.Width+x] = g.Y > threshold
		}
	}
	return m
}
