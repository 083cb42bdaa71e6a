package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/krau/trashseg/segment"
)

// Pool hands out processors to one request at a time.
type Pool struct {
	procs  chan segment.Processor
	models []segment.Model
}

// NewPool builds size models and binds a processor to each.
func NewPool(ctx context.Context, build segment.ModelBuilder, newProcessor segment.ProcessorFactory, size int) (*Pool, error) {
	p := &Pool{procs: make(chan segment.Processor, size)}
	for i := 0; i < size; i++ {
		m, err := build(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to build model %d: %w", i, err)
		}
		p.models = append(p.models, m)
		p.procs <- newProcessor(m)
	}
	return p, nil
}

// Acquire blocks until a processor is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (segment.Processor, error) {
	select {
	case proc := <-p.procs:
		return proc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) Release(proc segment.Processor) {
	p.procs <- proc
}

func (p *Pool) Size() int {
	return cap(p.procs)
}

func (p *Pool) Close() error {
	var errs []error
	for _, m := range p.models {
		errs = append(errs, m.Close())
	}
	p.models = nil
	return errors.Join(errs...)
}
