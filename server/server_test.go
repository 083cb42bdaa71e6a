package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/krau/trashseg/images"
	"github.com/krau/trashseg/sam"
	"github.com/krau/trashseg/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubModel struct{ closed bool }

func (m *stubModel) Close() error {
	m.closed = true
	return nil
}

type stubState struct{ size image.Point }

func (s stubState) ImageSize() image.Point { return s.size }

type stubProcessor struct {
	err     error
	prompts []string
}

func (p *stubProcessor) SetImage(ctx context.Context, img *images.RGB) (segment.State, error) {
	return stubState{size: img.Size()}, nil
}

func (p *stubProcessor) SetTextPrompt(ctx context.Context, st segment.State, prompt string) (*segment.Result, error) {
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return nil, p.err
	}
	size := st.ImageSize()
	m := segment.NewMask(size.X, size.Y)
	m.Set(0, 0, true)
	return &segment.Result{
		Masks:  []*segment.Mask{m},
		Boxes:  []segment.BBox{{X1: 0, Y1: 0, X2: 1, Y2: 1}},
		Scores: []float32{0.9},
	}, nil
}

func newTestServer(t *testing.T, proc *stubProcessor, token string) *Server {
	t.Helper()
	build := func(ctx context.Context) (segment.Model, error) { return &stubModel{}, nil }
	pool, err := NewPool(context.Background(), build, func(segment.Model) segment.Processor { return proc }, 1)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return &Server{Pool: pool, Token: token, Prompt: "trash"}
}

func upload(t *testing.T, fields map[string]string, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withFile {
		fw, err := mw.CreateFormFile("file", "trash.png")
		require.NoError(t, err)
		img := image.NewRGBA(image.Rect(0, 0, 2, 2))
		for i := range img.Pix {
			img.Pix[i] = 0x80
		}
		img.Set(1, 1, color.RGBA{R: 255, A: 255})
		require.NoError(t, png.Encode(fw, img))
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func post(t *testing.T, s *Server, fields map[string]string, withFile bool, auth string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := upload(t, fields, withFile)
	req := httptest.NewRequest(http.MethodPost, "/segment", body)
	req.Header.Set("Content-Type", ct)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestSegmentDefaultPrompt(t *testing.T) {
	proc := &stubProcessor{}
	s := newTestServer(t, proc, "")

	rec := post(t, s, nil, true, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SegmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "trash", resp.Prompt)
	assert.Equal(t, 2, resp.Width)
	assert.Equal(t, 2, resp.Height)
	assert.NotEmpty(t, resp.RequestID)
	require.Len(t, resp.Instances, 1)
	assert.InDelta(t, 0.9, resp.Instances[0].Score, 1e-6)
	assert.Equal(t, 1, resp.Instances[0].Area)
	assert.Equal(t, []int{0, 1, 3}, resp.Instances[0].RLE)
	assert.Equal(t, segment.BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}, resp.Instances[0].Box)
	assert.Equal(t, []string{"trash"}, proc.prompts)
}

func TestSegmentCustomPrompt(t *testing.T) {
	proc := &stubProcessor{}
	s := newTestServer(t, proc, "")

	rec := post(t, s, map[string]string{"prompt": "plastic bag"}, true, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"plastic bag"}, proc.prompts)
}

func TestSegmentAuth(t *testing.T) {
	s := newTestServer(t, &stubProcessor{}, "secret")

	assert.Equal(t, http.StatusUnauthorized, post(t, s, nil, true, "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(t, s, nil, true, "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, post(t, s, nil, true, "Bearer secret").Code)
}

func TestSegmentMissingFile(t *testing.T) {
	s := newTestServer(t, &stubProcessor{}, "")
	assert.Equal(t, http.StatusBadRequest, post(t, s, map[string]string{"prompt": "trash"}, false, "").Code)
}

func TestSegmentUnknownPrompt(t *testing.T) {
	proc := &stubProcessor{err: fmt.Errorf("%w: %q", sam.ErrUnknownPrompt, "dog")}
	s := newTestServer(t, proc, "")
	assert.Equal(t, http.StatusBadRequest, post(t, s, map[string]string{"prompt": "dog"}, true, "").Code)
}

func TestSegmentInferenceFailure(t *testing.T) {
	s := newTestServer(t, &stubProcessor{err: errors.New("boom")}, "")
	rec := post(t, s, nil, true, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// the processor went back to the pool
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	proc, err := s.Pool.Acquire(ctx)
	require.NoError(t, err)
	s.Pool.Release(proc)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &stubProcessor{}, "")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestPoolBuildFailureClosesBuiltModels(t *testing.T) {
	var built []*stubModel
	build := func(ctx context.Context) (segment.Model, error) {
		if len(built) == 2 {
			return nil, errors.New("out of memory")
		}
		m := &stubModel{}
		built = append(built, m)
		return m, nil
	}

	_, err := NewPool(context.Background(), build, func(segment.Model) segment.Processor { return &stubProcessor{} }, 3)
	require.Error(t, err)
	require.Len(t, built, 2)
	assert.True(t, built[0].closed)
	assert.True(t, built[1].closed)
}

func TestPoolAcquireHonoursContext(t *testing.T) {
	build := func(ctx context.Context) (segment.Model, error) { return &stubModel{}, nil }
	pool, err := NewPool(context.Background(), build, func(segment.Model) segment.Processor { return &stubProcessor{} }, 1)
	require.NoError(t, err)
	defer pool.Close()
	assert.Equal(t, 1, pool.Size())

	proc, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	pool.Release(proc)
}
