package segment

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io/fs"
	"testing"

	"github.com/krau/trashseg/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
}

func (r *recorder) add(name string) { r.calls = append(r.calls, name) }

type mockModel struct {
	rec    *recorder
	closed bool
}

func (m *mockModel) Close() error {
	m.closed = true
	m.rec.add("close model")
	return nil
}

type mockState struct {
	rec    *recorder
	size   image.Point
	closed bool
}

func (s *mockState) ImageSize() image.Point { return s.size }

func (s *mockState) Close() error {
	s.closed = true
	s.rec.add("close state")
	return nil
}

type mockProcessor struct {
	rec       *recorder
	result    *Result
	imageErr  error
	promptErr error

	gotImage  *images.RGB
	gotState  State
	gotPrompt string
	state     *mockState
}

func (p *mockProcessor) SetImage(ctx context.Context, img *images.RGB) (State, error) {
	p.rec.add("set image")
	p.gotImage = img
	if p.imageErr != nil {
		return nil, p.imageErr
	}
	p.state = &mockState{rec: p.rec, size: img.Size()}
	return p.state, nil
}

func (p *mockProcessor) SetTextPrompt(ctx context.Context, state State, prompt string) (*Result, error) {
	p.rec.add("set text prompt")
	p.gotState = state
	p.gotPrompt = prompt
	if p.promptErr != nil {
		return nil, p.promptErr
	}
	return p.result, nil
}

func solid(w, h int) *images.RGB {
	img := images.NewRGB(w, h)
	img.Fill(color.RGBA{R: 40, G: 160, B: 90, A: 255})
	return img
}

type harness struct {
	rec   *recorder
	model *mockModel
	proc  *mockProcessor
	img   *images.RGB

	buildErr error
	loadErr  error
	gotPath  string
}

func newHarness(result *Result) *harness {
	rec := &recorder{}
	return &harness{
		rec:   rec,
		model: &mockModel{rec: rec},
		proc:  &mockProcessor{rec: rec, result: result},
		img:   solid(2, 2),
	}
}

func (h *harness) driver() *Driver {
	return &Driver{
		Build: func(ctx context.Context) (Model, error) {
			h.rec.add("build model")
			if h.buildErr != nil {
				return nil, h.buildErr
			}
			return h.model, nil
		},
		NewProcessor: func(m Model) Processor {
			h.rec.add("new processor")
			return h.proc
		},
		LoadImage: func(path string) (*images.RGB, error) {
			h.rec.add("load image")
			h.gotPath = path
			if h.loadErr != nil {
				return nil, h.loadErr
			}
			return h.img, nil
		},
	}
}

func stubResult() *Result {
	m1 := NewMask(2, 2)
	m1.Set(0, 0, true)
	return &Result{
		Masks:  []*Mask{m1},
		Boxes:  []BBox{{X1: 0, Y1: 0, X2: 1, Y2: 1}},
		Scores: []float32{0.9},
	}
}

func TestRunReturnsProcessorResultUnchanged(t *testing.T) {
	want := stubResult()
	h := newHarness(want)

	got, err := h.driver().Run(context.Background(), Config{ImagePath: "trash.png", Prompt: "trash"})
	require.NoError(t, err)

	assert.Same(t, want, got)
	assert.Same(t, want.Masks[0], got.Masks[0])
	assert.Equal(t, []BBox{{0, 0, 1, 1}}, got.Boxes)
	assert.Equal(t, []float32{0.9}, got.Scores)
	require.NoError(t, got.Validate())
	assert.Equal(t, 1, got.Len())

	assert.Equal(t, "trash.png", h.gotPath)
	assert.Same(t, h.img, h.proc.gotImage)
	assert.Same(t, h.proc.state, h.proc.gotState)
	assert.Equal(t, image.Pt(2, 2), h.proc.gotState.ImageSize())
}

func TestRunCallOrder(t *testing.T) {
	h := newHarness(stubResult())

	_, err := h.driver().Run(context.Background(), Config{ImagePath: "a.png", Prompt: "trash"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"build model",
		"new processor",
		"load image",
		"set image",
		"set text prompt",
		"close state",
		"close model",
	}, h.rec.calls)
}

func TestRunPassesPromptVerbatim(t *testing.T) {
	for _, prompt := range []string{"trash", "  Plastic Bottle ", "café cup", ""} {
		h := newHarness(&Result{})
		_, err := h.driver().Run(context.Background(), Config{ImagePath: "a.png", Prompt: prompt})
		require.NoError(t, err)
		assert.Equal(t, prompt, h.proc.gotPrompt)
	}
}

func TestRunModelBuildFailureStopsEverything(t *testing.T) {
	h := newHarness(stubResult())
	h.buildErr = errors.New("weights not found")

	got, err := h.driver().Run(context.Background(), Config{ImagePath: "a.png", Prompt: "trash"})
	assert.Nil(t, got)
	assert.Same(t, h.buildErr, err)
	assert.Equal(t, []string{"build model"}, h.rec.calls)
}

func TestRunMissingImageFailsBeforeProcessorCalls(t *testing.T) {
	h := newHarness(stubResult())
	h.loadErr = &fs.PathError{Op: "open", Path: "missing.png", Err: fs.ErrNotExist}

	got, err := h.driver().Run(context.Background(), Config{ImagePath: "missing.png", Prompt: "trash"})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Nil(t, h.proc.gotImage)
	assert.NotContains(t, h.rec.calls, "set image")
	assert.NotContains(t, h.rec.calls, "set text prompt")
	assert.True(t, h.model.closed)
}

func TestRunSetImageFailure(t *testing.T) {
	h := newHarness(stubResult())
	h.proc.imageErr = errors.New("encoder exploded")

	_, err := h.driver().Run(context.Background(), Config{ImagePath: "a.png", Prompt: "trash"})
	assert.Same(t, h.proc.imageErr, err)
	assert.NotContains(t, h.rec.calls, "set text prompt")
}

func TestRunPromptFailureReleasesState(t *testing.T) {
	h := newHarness(stubResult())
	h.proc.promptErr = errors.New("decoder exploded")

	got, err := h.driver().Run(context.Background(), Config{ImagePath: "a.png", Prompt: "trash"})
	assert.Nil(t, got)
	assert.Same(t, h.proc.promptErr, err)
	assert.True(t, h.proc.state.closed)
	assert.True(t, h.model.closed)
}

func TestRunEmptyResult(t *testing.T) {
	h := newHarness(&Result{})

	got, err := h.driver().Run(context.Background(), Config{ImagePath: "a.png", Prompt: "trash"})
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
	assert.NoError(t, got.Validate())
}

func TestValidateDetectsRaggedResult(t *testing.T) {
	r := stubResult()
	r.Scores = append(r.Scores, 0.1)
	assert.Error(t, r.Validate())
}

func TestSummary(t *testing.T) {
	r := &Result{Scores: []float32{0.2, 0.9, 0.5}, Boxes: make([]BBox, 3), Masks: make([]*Mask, 3)}
	assert.Equal(t, "3 instances, best score 0.900", Summary(r))
}
