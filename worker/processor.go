package worker

import (
	"context"
	"errors"
	"image"
	"sync/atomic"

	"github.com/krau/trashseg/images"
	"github.com/krau/trashseg/segment"
)

type Options struct {
	Python string
	Script string
}

var nextID atomic.Int32

// Build returns a ModelBuilder that starts one worker process per call.
func Build(opts Options) segment.ModelBuilder {
	return func(ctx context.Context) (segment.Model, error) {
		w, err := Start(int(nextID.Add(1)), opts.Python, opts.Script)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

type Processor struct {
	w *PythonWorker
}

func NewProcessor(m segment.Model) segment.Processor {
	return &Processor{w: m.(*PythonWorker)}
}

type state struct {
	id   uint32
	size image.Point
	w    *PythonWorker
}

func (s *state) ImageSize() image.Point {
	return s.size
}

// Close frees the state held by the child.
func (s *state) Close() error {
	_, err := s.w.Communicate(encodeRelease(s.id))
	return err
}

func (p *Processor) SetImage(ctx context.Context, img *images.RGB) (segment.State, error) {
	body, err := p.w.Communicate(encodeSetImage(img))
	if err != nil {
		return nil, err
	}
	id, err := decodeStateID(body)
	if err != nil {
		return nil, err
	}
	return &state{id: id, size: img.Size(), w: p.w}, nil
}

func (p *Processor) SetTextPrompt(ctx context.Context, st segment.State, prompt string) (*segment.Result, error) {
	s, ok := st.(*state)
	if !ok || s.w != p.w {
		return nil, errors.New("inference state does not come from this processor")
	}
	body, err := p.w.Communicate(encodeSetTextPrompt(s.id, prompt))
	if err != nil {
		return nil, err
	}
	return decodeResult(body)
}
