// Package sam binds an exported promptable segmentation model through ONNX Runtime.
// The model ships as an image encoder and a prompt decoder traced against a fixed
// prompt vocabulary.
package sam

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/krau/trashseg/images"
	"github.com/krau/trashseg/onnx"
	"github.com/krau/trashseg/segment"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	InputPromptID   = "prompt_id"
	InputEmbeddings = "image_embeddings"
	OutputMasks     = "pred_masks"
	OutputBoxes     = "pred_boxes"
	OutputLogits    = "pred_logits"
)

type Options struct {
	EncoderPath string
	DecoderPath string
	PromptsPath string
	ImageSize   int
	Mean        [3]float32
	Std         [3]float32
	Threshold   float32
	Threads     int
}

// Model owns the two ONNX sessions.
type Model struct {
	encoder    *ort.DynamicAdvancedSession
	decoder    *ort.DynamicAdvancedSession
	vocab      *Vocabulary
	opts       Options
	encoderIn  string
	encoderOut string
}

func (m *Model) Close() error {
	var errs []error
	if m.encoder != nil {
		errs = append(errs, m.encoder.Destroy())
	}
	if m.decoder != nil {
		errs = append(errs, m.decoder.Destroy())
	}
	return errors.Join(errs...)
}

// Build returns a ModelBuilder loading both graphs and the vocabulary.
func Build(opts Options) segment.ModelBuilder {
	return func(ctx context.Context) (segment.Model, error) {
		if err := onnx.Init(); err != nil {
			return nil, err
		}
		vocab, err := ReadVocabulary(opts.PromptsPath)
		if err != nil {
			return nil, err
		}

		inputs, outputs, err := ort.GetInputOutputInfo(opts.EncoderPath)
		if err != nil {
			return nil, fmt.Errorf("failed to get encoder input/output info: %w", err)
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			return nil, fmt.Errorf("encoder %s has no inputs or outputs", opts.EncoderPath)
		}

		sessOpts, err := ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create session options: %w", err)
		}
		defer sessOpts.Destroy()
		if opts.Threads > 0 {
			if err := sessOpts.SetIntraOpNumThreads(opts.Threads); err != nil {
				return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
			}
		}

		m := &Model{
			vocab:      vocab,
			opts:       opts,
			encoderIn:  inputs[0].Name,
			encoderOut: outputs[0].Name,
		}
		m.encoder, err = ort.NewDynamicAdvancedSession(opts.EncoderPath,
			[]string{m.encoderIn}, []string{m.encoderOut}, sessOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create encoder session: %w", err)
		}
		m.decoder, err = ort.NewDynamicAdvancedSession(opts.DecoderPath,
			[]string{InputEmbeddings, InputPromptID},
			[]string{OutputMasks, OutputBoxes, OutputLogits}, sessOpts)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to create decoder session: %w", err)
		}

		slog.Info("Segmentation model loaded",
			slog.String("encoder", opts.EncoderPath),
			slog.String("decoder", opts.DecoderPath),
			slog.Int("prompts", vocab.Len()))
		return m, nil
	}
}

type Processor struct {
	model *Model
}

func NewProcessor(m segment.Model) segment.Processor {
	return &Processor{model: m.(*Model)}
}

type state struct {
	embeddings ort.Value
	letterbox  Letterbox
}

func (s *state) ImageSize() image.Point {
	return image.Pt(s.letterbox.Width, s.letterbox.Height)
}

func (s *state) Close() error {
	if s.embeddings == nil {
		return nil
	}
	err := s.embeddings.Destroy()
	s.embeddings = nil
	return err
}

func (p *Processor) SetImage(ctx context.Context, img *images.RGB) (segment.State, error) {
	opts := p.model.opts
	data, lb := Preprocess(img, opts.ImageSize, opts.Mean, opts.Std)
	size := int64(opts.ImageSize)

	input, err := ort.NewTensor(ort.NewShape(1, 3, size, size), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := p.model.encoder.Run([]ort.Value{input}, outputs); err != nil {
		destroyAll(outputs)
		return nil, fmt.Errorf("failed to run image encoder: %w", err)
	}
	return &state{embeddings: outputs[0], letterbox: lb}, nil
}

func (p *Processor) SetTextPrompt(ctx context.Context, st segment.State, prompt string) (*segment.Result, error) {
	s, ok := st.(*state)
	if !ok || s.embeddings == nil {
		return nil, errors.New("inference state does not come from this processor")
	}
	id, err := p.model.vocab.ID(prompt)
	if err != nil {
		return nil, err
	}

	promptTensor, err := ort.NewTensor(ort.NewShape(1), []int64{id})
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt tensor: %w", err)
	}
	defer promptTensor.Destroy()

	outputs := []ort.Value{nil, nil, nil}
	defer destroyAll(outputs)
	if err := p.model.decoder.Run([]ort.Value{s.embeddings, promptTensor}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run prompt decoder: %w", err)
	}

	out, err := readOutput(outputs)
	if err != nil {
		return nil, err
	}
	return Postprocess(out, s.letterbox, p.model.opts.Threshold), nil
}

// destroyAll releases whatever the runtime allocated, including after a failed run.
func destroyAll(values []ort.Value) {
	for i, v := range values {
		if v != nil {
			v.Destroy()
			values[i] = nil
		}
	}
}

func floats(v ort.Value, name string) ([]float32, ort.Shape, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("output %s is not a float32 tensor", name)
	}
	data := t.GetData()
	cp := make([]float32, len(data))
	copy(cp, data)
	return cp, t.GetShape(), nil
}

func readOutput(outputs []ort.Value) (Output, error) {
	masks, maskShape, err := floats(outputs[0], OutputMasks)
	if err != nil {
		return Output{}, err
	}
	boxes, _, err := floats(outputs[1], OutputBoxes)
	if err != nil {
		return Output{}, err
	}
	logits, _, err := floats(outputs[2], OutputLogits)
	if err != nil {
		return Output{}, err
	}
	return NewOutput(maskShape, masks, boxes, logits)
}

// NewOutput checks the decoder tensors agree on the instance count.
func NewOutput(maskShape []int64, masks, boxes, logits []float32) (Output, error) {
	if len(maskShape) != 4 {
		return Output{}, fmt.Errorf("unexpected %s shape %v", OutputMasks, maskShape)
	}
	out := Output{
		N:          int(maskShape[1]),
		MaskHeight: int(maskShape[2]),
		MaskWidth:  int(maskShape[3]),
		Masks:      masks,
		Boxes:      boxes,
		Logits:     logits,
	}
	if len(masks) != out.N*out.MaskHeight*out.MaskWidth ||
		len(boxes) != 4*out.N ||
		len(logits) != out.N {
		return Output{}, fmt.Errorf("decoder outputs disagree: masks=%d boxes=%d logits=%d for %d instances",
			len(masks), len(boxes), len(logits), out.N)
	}
	return out, nil
}
