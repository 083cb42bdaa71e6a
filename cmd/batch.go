package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/krau/trashseg/config"
	"github.com/krau/trashseg/segment"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type batchOptions struct {
	Dir       string
	Prompt    string
	OutputDir string
}

var batchOpts batchOptions

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Segment every image in a directory with one model",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := applyRunOptions(config.C(), runOptions{Prompt: batchOpts.Prompt})
		if err := c.Validate(); err != nil {
			return err
		}
		paths, err := listImages(batchOpts.Dir)
		if err != nil {
			return err
		}
		if batchOpts.OutputDir != "" {
			if err := os.MkdirAll(batchOpts.OutputDir, 0o755); err != nil {
				return err
			}
		}

		driver := newDriver(c)
		size := recordSize(driver)
		model, err := driver.Build(cmd.Context())
		if err != nil {
			return err
		}
		defer model.Close()
		proc := driver.NewProcessor(model)

		bar := progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("segmenting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)

		failed := 0
		for _, path := range paths {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			cfg := segment.Config{ImagePath: path, Prompt: c.Prompt}
			res, err := driver.RunWith(cmd.Context(), proc, cfg)
			bar.Add(1)
			if err != nil {
				failed++
				slog.Error("Segmentation failed", slog.String("image", path), slog.String("error", err.Error()))
				continue
			}
			slog.Debug("Segmented", slog.String("image", path), slog.String("summary", segment.Summary(res)))
			if batchOpts.OutputDir != "" {
				out := filepath.Join(batchOpts.OutputDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".json")
				if err := writeResult(out, cfg, *size, res); err != nil {
					return err
				}
			}
		}
		bar.Finish()

		if failed > 0 {
			return fmt.Errorf("%d of %d images failed", failed, len(paths))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVarP(&batchOpts.Dir, "dir", "d", "", "Directory of images")
	batchCmd.Flags().StringVarP(&batchOpts.Prompt, "prompt", "p", "", "Text prompt (default: prompt from config)")
	batchCmd.Flags().StringVarP(&batchOpts.OutputDir, "output-dir", "o", "", "Write one JSON result per image here")
	batchCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(batchCmd)
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true, ".avif": true,
}

// listImages returns the image files directly under dir, sorted by name.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
