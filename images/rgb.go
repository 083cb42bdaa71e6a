// Package images decodes pictures into the three-channel buffer the processors consume.
package images

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// RGB is a packed 8-bit RGB buffer, three bytes per pixel, row-major.
type RGB struct {
	Width  int
	Height int
	Pix    []uint8
}

func NewRGB(width, height int) *RGB {
	return &RGB{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, 3*width*height),
	}
}

// FromImage drops alpha without compositing and expands palettes.
func FromImage(img image.Image) *RGB {
	src := imaging.Clone(img)
	b := src.Bounds()
	out := NewRGB(b.Dx(), b.Dy())
	i := 0
	for y := 0; y < out.Height; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+4*out.Width]
		for x := 0; x < out.Width; x++ {
			out.Pix[i] = row[4*x]
			out.Pix[i+1] = row[4*x+1]
			out.Pix[i+2] = row[4*x+2]
			i += 3
		}
	}
	return out
}

// Fill paints every pixel with c.
func (m *RGB) Fill(c color.RGBA) {
	for i := 0; i < len(m.Pix); i += 3 {
		m.Pix[i], m.Pix[i+1], m.Pix[i+2] = c.R, c.G, c.B
	}
}

func (m *RGB) ColorModel() color.Model { return color.RGBAModel }

func (m *RGB) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

func (m *RGB) At(x, y int) color.Color { return m.RGBAt(x, y) }

func (m *RGB) RGBAt(x, y int) color.RGBA {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return color.RGBA{}
	}
	i := 3 * (y*m.Width + x)
	return color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 0xff}
}

func (m *RGB) Size() image.Point { return image.Pt(m.Width, m.Height) }
