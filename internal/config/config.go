// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const envPrefix = "FACENOTE_"

type Config struct {
	Addr         string `validate:"required"`
	FrameWidth   int    `validate:"gt=0,lte=4096"`
	FrameHeight  int    `validate:"gt=0,lte=2160"`
	FPS          int    `validate:"gt=0,lte=120"`
	Python       string `validate:"required"`
	WorkerScript string `validate:"required"`
	Device       string
	LogLevel     string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogDir       string
}

func Default() Config {
	return Config{
		Addr:         ":8080",
		FrameWidth:   640,
		FrameHeight:  480,
		FPS:          30,
		Python:       "python3",
		WorkerScript: "python/face_mesh_worker.py",
		LogLevel:     "info",
	}
}

var validate = validator.New()

// Load reads envFiles (missing files are ignored) and then the process
// environment on top of the defaults.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}

	cfg := Default()
	strs := map[string]*string{
		"ADDR":          &cfg.Addr,
		"PYTHON":        &cfg.Python,
		"WORKER_SCRIPT": &cfg.WorkerScript,
		"DEVICE":        &cfg.Device,
		"LOG_LEVEL":     &cfg.LogLevel,
		"LOG_DIR":       &cfg.LogDir,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FRAME_WIDTH":  &cfg.FrameWidth,
		"FRAME_HEIGHT": &cfg.FrameHeight,
		"FPS":          &cfg.FPS,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
	}
	return cfg, nil
}

// Validate checks ranges and required fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
