package cmd

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/krau/trashseg/config"
	"github.com/krau/trashseg/images"
	"github.com/krau/trashseg/segment"
	"github.com/krau/trashseg/server"
	"github.com/spf13/cobra"
)

type runOptions struct {
	ImagePath string
	Prompt    string
	Output    string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Segment one image with one text prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := applyRunOptions(config.C(), runOpts)
		if err := c.Validate(); err != nil {
			return err
		}

		cfg := segment.Config{ImagePath: c.ImagePath, Prompt: c.Prompt}
		driver := newDriver(c)
		size := recordSize(driver)
		res, err := driver.Run(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		slog.Info("Segmentation done",
			slog.String("image", cfg.ImagePath),
			slog.String("prompt", cfg.Prompt),
			slog.String("summary", segment.Summary(res)))

		if runOpts.Output == "" {
			return nil
		}
		return writeResult(runOpts.Output, cfg, *size, res)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.ImagePath, "image", "i", "", "Image to segment (default: image_path from config)")
	runCmd.Flags().StringVarP(&runOpts.Prompt, "prompt", "p", "", "Text prompt (default: prompt from config)")
	runCmd.Flags().StringVarP(&runOpts.Output, "output", "o", "", "Write the result as JSON to this file")
	rootCmd.AddCommand(runCmd)
}

func applyRunOptions(c config.Config, o runOptions) config.Config {
	if o.ImagePath != "" {
		c.ImagePath = o.ImagePath
	}
	if o.Prompt != "" {
		c.Prompt = o.Prompt
	}
	return c
}

// recordSize wraps the driver's loader so the caller learns the size of the
// image it decoded, independent of how many instances come back.
func recordSize(d *segment.Driver) *image.Point {
	size := new(image.Point)
	load := d.LoadImage
	d.LoadImage = func(path string) (*images.RGB, error) {
		img, err := load(path)
		if err == nil {
			*size = img.Size()
		}
		return img, err
	}
	return size
}

func writeResult(path string, cfg segment.Config, size image.Point, res *segment.Result) error {
	data, err := json.MarshalIndent(server.NewResponse(uuid.NewString(), cfg.Prompt, size.X, size.Y, res), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
