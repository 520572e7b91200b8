// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads chunkstream settings from a TOML file, a .env file
// and CHUNKSTREAM_ environment variables, in that order of precedence from
// lowest to highest.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/chunkstream/ai"
	"github.com/poiesic/chunkstream/chunker"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CHUNKSTREAM_"

const (
	BackendBadger  = "badger"
	BackendChromem = "chromem"
)

// Config holds every tunable of the engine and the CLI.
type Config struct {
	DataDir       string `toml:"data_dir" env:"DATA_DIR"`
	ContentDir    string `toml:"content_dir" env:"CONTENT_DIR"`
	VectorBackend string `toml:"vector_backend" env:"VECTOR_BACKEND"`

	EmbeddingHost    string `toml:"embedding_host" env:"EMBEDDING_HOST"`
	EmbeddingModel   string `toml:"embedding_model" env:"EMBEDDING_MODEL"`
	EmbeddingEnabled bool   `toml:"embedding_enabled" env:"EMBEDDING_ENABLED"`
	Dimensions       int    `toml:"dimensions" env:"DIMENSIONS"`

	ChunkSize    int `toml:"chunk_size" env:"CHUNK_SIZE"`
	OverlapSize  int `toml:"overlap_size" env:"OVERLAP_SIZE"`
	MaxChunkSize int `toml:"max_chunk_size" env:"MAX_CHUNK_SIZE"`
	BatchSize    int `toml:"batch_size" env:"BATCH_SIZE"`
	PoolSize     int `toml:"pool_size" env:"POOL_SIZE"`

	MaxObjectSize int64  `toml:"max_object_size" env:"MAX_OBJECT_SIZE"`
	InboxDir      string `toml:"inbox_dir" env:"INBOX_DIR"`
	LogLevel      string `toml:"log_level" env:"LOG_LEVEL"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DataDir:          "chunkstream-data",
		VectorBackend:    BackendBadger,
		EmbeddingModel:   "all-minilm",
		EmbeddingEnabled: true,
		Dimensions:       ai.DefaultDimensions,
		ChunkSize:        chunker.DefaultChunkSize,
		OverlapSize:      chunker.DefaultOverlapSize,
		BatchSize:        100,
		MaxObjectSize:    100 << 20,
		LogLevel:         "info",
	}
}

// Load builds a Config from the defaults, the TOML file at path, a .env file
// in the working directory and the environment. An empty path or a missing
// file skips the TOML step.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()
	return load(path, env.Options{Prefix: EnvPrefix})
}

func load(path string, opts env.Options) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Write encodes the config as TOML.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks the settings that cannot be corrected later.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	switch c.VectorBackend {
	case BackendBadger, BackendChromem:
	default:
		return fmt.Errorf("config: unknown vector_backend %q", c.VectorBackend)
	}
	if err := c.ChunkerOptions().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.BatchSize < 1 {
		return errors.New("config: batch_size must be positive")
	}
	if c.PoolSize < 0 {
		return errors.New("config: pool_size must not be negative")
	}
	if c.MaxObjectSize < 1 {
		return errors.New("config: max_object_size must be positive")
	}
	return c.AIConfig().Validate()
}

// ContentPath returns the content store directory.
func (c *Config) ContentPath() string {
	if c.ContentDir != "" {
		return c.ContentDir
	}
	return filepath.Join(c.DataDir, "content")
}

// ChunkerOptions returns the chunk sizing settings.
func (c *Config) ChunkerOptions() chunker.Options {
	return chunker.Options{
		ChunkSize:    c.ChunkSize,
		OverlapSize:  c.OverlapSize,
		MaxChunkSize: c.MaxChunkSize,
	}
}

// AIConfig returns the embedding provider settings.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.EmbeddingHost),
		ai.WithEmbeddingModel(c.EmbeddingModel),
		ai.WithDimensions(c.Dimensions),
	)
}
