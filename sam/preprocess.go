package sam

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/krau/trashseg/images"
)

// Letterbox describes how a source image was placed on the square model input.
type Letterbox struct {
	Size   int
	Scale  float32
	Width  int
	Height int
}

// Valid is the part of the square covered by the source image.
func (l Letterbox) Valid() image.Point {
	return image.Pt(
		max(1, min(l.Size, int(float32(l.Width)*l.Scale+0.5))),
		max(1, min(l.Size, int(float32(l.Height)*l.Scale+0.5))),
	)
}

func NewLetterbox(width, height, size int) Letterbox {
	return Letterbox{
		Size:   size,
		Scale:  float32(size) / float32(max(width, height)),
		Width:  width,
		Height: height,
	}
}

// Preprocess resizes the longest side to size, pads right and bottom with black
// and normalizes into CHW order.
func Preprocess(img *images.RGB, size int, mean, std [3]float32) ([]float32, Letterbox) {
	lb := NewLetterbox(img.Width, img.Height, size)
	valid := lb.Valid()

	canvas := imaging.New(size, size, color.Black)
	resized := imaging.Resize(img, valid.X, valid.Y, imaging.Linear)
	canvas = imaging.Paste(canvas, resized, image.Pt(0, 0))

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(row[4*x+c]) / 255.0
				out[c*plane+i] = (v - mean[c]) / std[c]
			}
		}
	}
	return out, lb
}
