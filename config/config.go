package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

const (
	BackendONNX   = "onnx"
	BackendWorker = "worker"
)

type Config struct {
	ImagePath string `toml:"image_path" mapstructure:"image_path"`
	Prompt    string `toml:"prompt" mapstructure:"prompt"`
	Backend   string `toml:"backend" mapstructure:"backend"`
	LogLevel  string `toml:"log_level" mapstructure:"log_level"`

	Libonnx         string     `toml:"libonnx" mapstructure:"libonnx"`
	ModelDir        string     `toml:"model_dir" mapstructure:"model_dir"`
	EncoderFileName string     `toml:"encoder_file_name" mapstructure:"encoder_file_name"`
	DecoderFileName string     `toml:"decoder_file_name" mapstructure:"decoder_file_name"`
	PromptsFileName string     `toml:"prompts_file_name" mapstructure:"prompts_file_name"`
	ImageSize       int        `toml:"image_size" mapstructure:"image_size"`
	Mean            [3]float32 `toml:"mean" mapstructure:"mean"`
	Std             [3]float32 `toml:"std" mapstructure:"std"`
	Threshold       float32    `toml:"threshold" mapstructure:"threshold"`

	Python       string `toml:"python" mapstructure:"python"`
	WorkerScript string `toml:"worker_script" mapstructure:"worker_script"`

	Token   string `toml:"token" mapstructure:"token"`
	Host    string `toml:"host" mapstructure:"host"`
	Port    string `toml:"port" mapstructure:"port"`
	Workers int    `toml:"workers" mapstructure:"workers"`
}

func Default() Config {
	return Config{
		ImagePath:       "pictures/sample.png",
		Prompt:          "trash",
		Backend:         BackendONNX,
		LogLevel:        "info",
		ModelDir:        "models",
		EncoderFileName: "image_encoder.onnx",
		DecoderFileName: "prompt_decoder.onnx",
		PromptsFileName: "prompts.txt",
		ImageSize:       1008,
		Mean:            [3]float32{0.5, 0.5, 0.5},
		Std:             [3]float32{0.5, 0.5, 0.5},
		Threshold:       0.5,
		Python:          "python3",
		WorkerScript:    "python/worker.py",
		Host:            "0.0.0.0",
		Port:            "8000",
		Workers:         1,
	}
}

var (
	cfg      = Default()
	cfgPath  = "config.toml"
	loadOnce sync.Once
)

// SetPath changes the file C reads. It has no effect once C has been called.
func SetPath(path string) {
	cfgPath = path
}

func C() Config {
	loadOnce.Do(func() {
		c, err := Load(cfgPath)
		if err != nil {
			panic(err)
		}
		cfg = c
	})
	return cfg
}

// Load reads a TOML file over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.Prompt == "" {
		return errors.New("prompt must not be empty")
	}
	switch c.Backend {
	case BackendONNX, BackendWorker:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Threshold < 0 || c.Threshold >= 1 {
		return fmt.Errorf("threshold must be in [0, 1), got %v", c.Threshold)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image_size must be positive, got %d", c.ImageSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
