package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/krau/trashseg/config"
	"github.com/krau/trashseg/images"
	"github.com/krau/trashseg/onnx"
	"github.com/krau/trashseg/sam"
	"github.com/krau/trashseg/segment"
	"github.com/krau/trashseg/worker"
	"github.com/spf13/cobra"
)

const Version = "0.1.0"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "trashseg",
	Short:         "Text-prompted image segmentation",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.SetPath(cfgPath)
		c, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		setupLogging(c.LogLevel)
		return nil
	},
}

// teardown runs after every command, failed or not.
var teardown = onnx.Destroy

func Execute() {
	if err := execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer teardown()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.toml", "Path to the TOML config file")
}

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// backend picks the model binding named in c.
func backend(c config.Config) (segment.ModelBuilder, segment.ProcessorFactory) {
	if c.Backend == config.BackendWorker {
		return worker.Build(worker.Options{Python: c.Python, Script: c.WorkerScript}), worker.NewProcessor
	}
	return sam.Build(sam.Options{
		EncoderPath: filepath.Join(c.ModelDir, c.EncoderFileName),
		DecoderPath: filepath.Join(c.ModelDir, c.DecoderFileName),
		PromptsPath: filepath.Join(c.ModelDir, c.PromptsFileName),
		ImageSize:   c.ImageSize,
		Mean:        c.Mean,
		Std:         c.Std,
		Threshold:   c.Threshold,
	}), sam.NewProcessor
}

func newDriver(c config.Config) *segment.Driver {
	build, newProcessor := backend(c)
	return &segment.Driver{
		Build:        build,
		NewProcessor: newProcessor,
		LoadImage:    images.Load,
	}
}
