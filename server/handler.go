package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/krau/trashseg/images"
	"github.com/krau/trashseg/sam"
	"github.com/krau/trashseg/segment"
)

var (
	errUnauthorized = errors.New("unauthorized")
)

type Server struct {
	Pool   *Pool
	Token  string
	Prompt string
}

type Instance struct {
	Box   segment.BBox `json:"box"`
	Score float32      `json:"score"`
	Area  int          `json:"area"`
	RLE   []int        `json:"rle"`
}

type SegmentResponse struct {
	RequestID string     `json:"request_id"`
	Prompt    string     `json:"prompt"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	Instances []Instance `json:"instances"`
}

func NewResponse(id, prompt string, width, height int, res *segment.Result) *SegmentResponse {
	resp := &SegmentResponse{
		RequestID: id,
		Prompt:    prompt,
		Width:     width,
		Height:    height,
		Instances: make([]Instance, 0, res.Len()),
	}
	for i := 0; i < res.Len(); i++ {
		resp.Instances = append(resp.Instances, Instance{
			Box:   res.Boxes[i],
			Score: res.Scores[i],
			Area:  res.Masks[i].Area(),
			RLE:   res.Masks[i].RLE(),
		})
	}
	return resp
}

func (s *Server) authenticate(c *gin.Context) error {
	if s.Token == "" {
		return nil
	}
	auth := c.GetHeader("Authorization")
	providedToken := ""
	if len(auth) > 7 && auth[:7] == "Bearer " {
		providedToken = auth[7:]
	}
	if subtle.ConstantTimeCompare([]byte(providedToken), []byte(s.Token)) != 1 {
		return errUnauthorized
	}
	return nil
}

func (s *Server) SegmentHandler(c *gin.Context) {
	if err := s.authenticate(c); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open uploaded file"})
		return
	}
	defer file.Close()

	img, err := images.Decode(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot decode image"})
		return
	}

	prompt := c.DefaultPostForm("prompt", s.Prompt)
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty prompt"})
		return
	}

	id := uuid.NewString()
	ctx := c.Request.Context()
	proc, err := s.Pool.Acquire(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no processor available"})
		return
	}
	res, err := segment.Prompt(ctx, proc, img, prompt)
	s.Pool.Release(proc)

	if errors.Is(err, sam.ErrUnknownPrompt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		slog.Error("Segmentation failed",
			slog.String("request_id", id),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "inference failed"})
		return
	}

	slog.Info("Segmented upload",
		slog.String("request_id", id),
		slog.String("prompt", prompt),
		slog.String("summary", segment.Summary(res)))
	c.JSON(http.StatusOK, NewResponse(id, prompt, img.Width, img.Height, res))
}

func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/segment", s.SegmentHandler)
	r.GET("/health", HealthHandler)
	return r
}
