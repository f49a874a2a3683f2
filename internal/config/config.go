// Package config reads defaults from the environment and an optional .env file.
// Command-line flags override everything here.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DefaultFramesDir     = "stabilized_images"
	DefaultPython        = "python3"
	DefaultWorkerScript  = "python/landmark_worker.py"
	DefaultModelPath     = "facial_landmarks/shape_predictor_68_face_landmarks.dat"
	DefaultWorkerTimeout = 30 * time.Second
	DefaultLogLevel      = "warn"
)

// Config holds the environment-derived settings.
type Config struct {
	FramesDir     string
	Python        string
	WorkerScript  string
	ModelPath     string
	WorkerTimeout time.Duration
	LogLevel      string
	LogFile       string
	// DatabaseURL is empty when no ledger is configured.
	DatabaseURL string
}

// Load reads the given env files (".env" when none are named) and then the
// process environment. Missing files are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		FramesDir:     getenv("FACESTAB_FRAMES_DIR", DefaultFramesDir),
		Python:        getenv("FACESTAB_PYTHON", DefaultPython),
		WorkerScript:  getenv("FACESTAB_WORKER_SCRIPT", DefaultWorkerScript),
		ModelPath:     getenv("FACESTAB_MODEL", DefaultModelPath),
		WorkerTimeout: DefaultWorkerTimeout,
		LogLevel:      getenv("FACESTAB_LOG_LEVEL", DefaultLogLevel),
		LogFile:       os.Getenv("FACESTAB_LOG_FILE"),
		DatabaseURL:   DatabaseURL(),
	}
	if v := os.Getenv("FACESTAB_WORKER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("FACESTAB_WORKER_TIMEOUT: %w", err)
		}
		cfg.WorkerTimeout = d
	}

	logrus.WithFields(logrus.Fields{
		"function":   "config.Load",
		"frames_dir": cfg.FramesDir,
		"ledger":     cfg.DatabaseURL != "",
	}).Debug("Configuration loaded")
	return cfg, nil
}

// DatabaseURL builds a connection string from POSTGRES_* variables. It
// returns "" when POSTGRES_HOST is unset.
func DatabaseURL() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := getenv("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
