// Package segment drives a text-prompted segmentation request against an external model.
package segment

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/krau/trashseg/images"
)

// Model is an opaque handle to a loaded segmentation model.
type Model interface {
	io.Closer
}

type ModelBuilder func(ctx context.Context) (Model, error)

type ProcessorFactory func(m Model) Processor

type ImageLoader func(path string) (*images.RGB, error)

// State is the per-image context produced by SetImage. Implementations that hold
// native resources also implement io.Closer.
type State interface {
	ImageSize() image.Point
}

// Processor embeds an image once and answers text prompts against it.
type Processor interface {
	SetImage(ctx context.Context, img *images.RGB) (State, error)
	SetTextPrompt(ctx context.Context, state State, prompt string) (*Result, error)
}

// BBox is an axis-aligned box in source image pixels.
type BBox struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

func (b BBox) String() string {
	return fmt.Sprintf("(%.1f, %.1f), (%.1f, %.1f)", b.X1, b.Y1, b.X2, b.Y2)
}

// Result holds one entry per segmented instance in each of its slices.
type Result struct {
	Masks  []*Mask
	Boxes  []BBox
	Scores []float32
}

func (r *Result) Len() int {
	return len(r.Scores)
}

// Validate reports whether the three slices are parallel.
func (r *Result) Validate() error {
	if len(r.Masks) != len(r.Scores) || len(r.Boxes) != len(r.Scores) {
		return fmt.Errorf("result slices differ in length: masks=%d boxes=%d scores=%d",
			len(r.Masks), len(r.Boxes), len(r.Scores))
	}
	return nil
}
