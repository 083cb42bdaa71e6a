package segment

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/krau/trashseg/images"
)

// Config names the image to segment and the text to prompt it with.
type Config struct {
	ImagePath string
	Prompt    string
}

// Driver runs the fixed build, load, embed, prompt sequence. Failures are
// returned as soon as they happen and nothing is retried.
type Driver struct {
	Build        ModelBuilder
	NewProcessor ProcessorFactory
	LoadImage    ImageLoader
}

func (d *Driver) Run(ctx context.Context, cfg Config) (*Result, error) {
	model, err := d.Build(ctx)
	if err != nil {
		return nil, err
	}
	defer model.Close()

	return d.RunWith(ctx, d.NewProcessor(model), cfg)
}

// RunWith performs the load, embed and prompt steps against an existing processor.
func (d *Driver) RunWith(ctx context.Context, proc Processor, cfg Config) (*Result, error) {
	img, err := d.LoadImage(cfg.ImagePath)
	if err != nil {
		return nil, err
	}
	slog.Debug("image loaded",
		slog.String("path", cfg.ImagePath),
		slog.Int("width", img.Width),
		slog.Int("height", img.Height))

	return Prompt(ctx, proc, img, cfg.Prompt)
}

// Prompt embeds img and asks proc for the regions matching prompt.
func Prompt(ctx context.Context, proc Processor, img *images.RGB, prompt string) (*Result, error) {
	state, err := proc.SetImage(ctx, img)
	if err != nil {
		return nil, err
	}
	if c, ok := state.(io.Closer); ok {
		defer c.Close()
	}

	out, err := proc.SetTextPrompt(ctx, state, prompt)
	if err != nil {
		return nil, err
	}
	slog.Debug("prompt answered",
		slog.String("prompt", prompt),
		slog.Int("instances", out.Len()))
	return out, nil
}

// Summary is a one-line description of r for logs.
func Summary(r *Result) string {
	best := float32(0)
	for _, s := range r.Scores {
		best = max(best, s)
	}
	return fmt.Sprintf("%d instances, best score %.3f", r.Len(), best)
}
