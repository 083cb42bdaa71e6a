package sam

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/krau/trashseg/segment"
)

func Sigmoid(x float32) float32 {
	if x > 50 {
		x = 50
	} else if x < -50 {
		x = -50
	}
	return 1 / (1 + float32(math.Exp(float64(-x))))
}

// Output is the raw decoder output for one prompt, batch dimension removed.
type Output struct {
	N          int
	MaskHeight int
	MaskWidth  int
	Masks      []float32 // N*MaskHeight*MaskWidth logits
	Boxes      []float32 // N*4 xyxy in [0,1] of the padded square
	Logits     []float32 // N
}

type candidate struct {
	idx   int
	score float32
}

// Postprocess keeps instances scoring above threshold, best first, and maps them
// back onto the source image.
func Postprocess(out Output, lb Letterbox, threshold float32) *segment.Result {
	var keep []candidate
	for i := 0; i < out.N; i++ {
		p := Sigmoid(out.Logits[i])
		if p > threshold {
			keep = append(keep, candidate{idx: i, score: p})
		}
	}
	sort.SliceStable(keep, func(i, j int) bool {
		return keep[i].score > keep[j].score
	})

	res := &segment.Result{
		Masks:  make([]*segment.Mask, 0, len(keep)),
		Boxes:  make([]segment.BBox, 0, len(keep)),
		Scores: make([]float32, 0, len(keep)),
	}
	for _, c := range keep {
		res.Boxes = append(res.Boxes, scaleBox(out.Boxes[4*c.idx:4*c.idx+4], lb))
		res.Masks = append(res.Masks, upsampleMask(out, c.idx, lb))
		res.Scores = append(res.Scores, c.score)
	}
	return res
}

func clamp(v, hi float32) float32 {
	return max(0, min(hi, v))
}

func scaleBox(b []float32, lb Letterbox) segment.BBox {
	k := float32(lb.Size) / lb.Scale
	w, h := float32(lb.Width), float32(lb.Height)
	return segment.BBox{
		X1: clamp(b[0]*k, w),
		Y1: clamp(b[1]*k, h),
		X2: clamp(b[2]*k, w),
		Y2: clamp(b[3]*k, h),
	}
}

// upsampleMask crops the mask to the area covered by the source image and
// resizes it to source resolution; membership is probability above one half.
func upsampleMask(out Output, idx int, lb Letterbox) *segment.Mask {
	mh, mw := out.MaskHeight, out.MaskWidth
	logits := out.Masks[idx*mh*mw : (idx+1)*mh*mw]

	prob := image.NewGray(image.Rect(0, 0, mw, mh))
	for i, v := range logits {
		prob.Pix[i] = uint8(Sigmoid(v)*255 + 0.5)
	}

	valid := lb.Valid()
	cw := max(1, min(mw, int(float32(valid.X)*float32(mw)/float32(lb.Size)+0.5)))
	ch := max(1, min(mh, int(float32(valid.Y)*float32(mh)/float32(lb.Size)+0.5)))

	cropped := imaging.Crop(prob, image.Rect(0, 0, cw, ch))
	resized := imaging.Resize(cropped, lb.Width, lb.Height, imaging.Linear)
	return segment.MaskFromGray(resized, 127)
}
