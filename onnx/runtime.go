package onnx

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/krau/trashseg/config"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	pathOnce sync.Once
	libPath  string

	initOnce sync.Once
	initErr  error
)

func LibPath() string {
	pathOnce.Do(func() {
		libPath = loadLibPath(config.C().Libonnx, runtime.GOOS)
		if libPath == "" {
			slog.Error("ONNX Runtime library path could not be determined for this OS")
		} else {
			slog.Info("Using ONNX Runtime library", slog.String("path", libPath))
		}
	})
	return libPath
}

func candidates(goos string) []string {
	switch goos {
	case "linux":
		return []string{
			filepath.Join("onnxlibs", "libonnxruntime.so"),
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
		}
	case "darwin":
		return []string{
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{"onnxruntime.dll"}
	default:
		return nil
	}
}

func loadLibPath(override, goos string) string {
	if override != "" {
		return override
	}
	paths := candidates(goos)
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) > 0 {
		// let the loader report the failure with a concrete path
		return paths[0]
	}
	return ""
}

// Init loads the shared library and initializes the ONNX Runtime environment once per process.
func Init() error {
	initOnce.Do(func() {
		path := LibPath()
		if path == "" {
			initErr = fmt.Errorf("no ONNX Runtime library for %s", runtime.GOOS)
			return
		}
		ort.SetSharedLibraryPath(path)
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
		}
	})
	return initErr
}

func Destroy() {
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			slog.Error("Failed to destroy ONNX Runtime environment", slog.String("error", err.Error()))
		}
	}
}
