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

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/chunkstream"
	"github.com/poiesic/chunkstream/config"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "chunkstream",
		Usage: "Stream large files into searchable, resumable chunk collections",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML config file",
				Value:   "chunkstream.toml",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Directory holding the database and content store",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Vector backend (badger, chromem)",
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "OpenAI-compatible embedding service URL; local embeddings when empty",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Chunk one or more files into new jobs",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: append(chunkFlags(),
					&cli.StringFlag{
						Name:  "name",
						Usage: "Job name (single file only)",
					},
					&cli.Int64Flag{
						Name:  "offset",
						Usage: "Start reading at this byte offset",
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Print progress to stderr",
						Value: true,
					},
				),
			},
			{
				Name:      "resume",
				Usage:     "Continue an interrupted job",
				ArgsUsage: "JOB_ID",
				Action:    resumeCommand,
				Flags: append(chunkFlags(),
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Print progress to stderr",
						Value: true,
					},
				),
			},
			{
				Name:   "jobs",
				Usage:  "Inspect processing jobs",
				Action: listJobsCommand,
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List all jobs",
						Action: listJobsCommand,
					},
					{
						Name:      "show",
						Usage:     "Print a job and its checkpoint as JSON",
						ArgsUsage: "JOB_ID",
						Action:    showJobCommand,
					},
					{
						Name:      "rm",
						Usage:     "Delete a job and its chunks",
						ArgsUsage: "JOB_ID",
						Action:    deleteJobCommand,
					},
				},
			},
			{
				Name:      "chunks",
				Usage:     "Page through a job's chunks",
				ArgsUsage: "JOB_ID",
				Action:    chunksCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum chunks to print"},
					&cli.IntFlag{Name: "offset", Usage: "Chunks to skip"},
					&cli.BoolFlag{Name: "json", Usage: "Print chunks as JSON lines"},
				},
			},
			{
				Name:      "search",
				Usage:     "Similarity search across jobs",
				ArgsUsage: "QUERY...",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "job", Aliases: []string{"j"}, Usage: "Search only this job; repeatable"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10, Usage: "Maximum results"},
					&cli.StringFlag{Name: "kind", Usage: "Only chunks of this kind (single job)"},
					&cli.StringFlag{Name: "xpath", Usage: "Only XML chunks at this path (single job)"},
				},
			},
			{
				Name:      "reembed",
				Usage:     "Regenerate embeddings for a job's chunks",
				ArgsUsage: "JOB_ID",
				Action:    reembedCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "only-missing", Usage: "Skip chunks that already have an embedding"},
					&cli.IntFlag{Name: "batch-size", Value: 100, Usage: "Number of chunks to process in each batch"},
					&cli.IntFlag{Name: "report-interval", Value: 100, Usage: "Report progress every N chunks"},
					&cli.IntFlag{Name: "max-retries", Value: 3, Usage: "Maximum retry attempts for failed operations"},
					&cli.DurationFlag{Name: "retry-delay", Value: 1 * time.Second, Usage: "Base delay for exponential backoff"},
				},
			},
			{
				Name:      "export",
				Usage:     "Export a job's chunks",
				ArgsUsage: "JOB_ID",
				Action:    exportCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "json, jsonl or csv"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file; stdout when empty"},
					&cli.BoolFlag{Name: "store", Usage: "Write the export into the content store and print its ref"},
				},
			},
			{
				Name:      "snapshot",
				Usage:     "Write a compressed snapshot of vector collections (chromem backend)",
				ArgsUsage: "[JOB_ID...]",
				Action:    snapshotCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, Usage: "Snapshot file"},
				},
			},
			{
				Name:   "collections",
				Usage:  "List working memory collections",
				Action: collectionsCommand,
			},
			{
				Name:        "store",
				Usage:       "Work with the content store",
				Subcommands: storeCommands(),
			},
			{
				Name:   "watch",
				Usage:  "Ingest files dropped into the inbox directory",
				Action: watchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "inbox", Usage: "Inbox directory; overrides inbox_dir"},
					&cli.DurationFlag{Name: "settle", Value: 2 * time.Second, Usage: "Quiet period before a file is ingested"},
					&cli.BoolFlag{Name: "scan", Usage: "Ingest files already in the inbox"},
				},
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration as TOML",
				Action: configCommand,
			},
		},
	}
}

func chunkFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "chunk-size", Usage: "Target chunk size in bytes"},
		&cli.IntFlag{Name: "overlap", Usage: "Text overlap in bytes"},
		&cli.IntFlag{Name: "max-chunk-size", Usage: "Hard chunk size cap in bytes"},
		&cli.BoolFlag{Name: "no-embeddings", Usage: "Store chunks without embeddings"},
	}
}

// loadConfig reads the config file and environment, then applies global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.IsSet("backend") {
		cfg.VectorBackend = c.String("backend")
	}
	if c.IsSet("embedding-host") {
		cfg.EmbeddingHost = c.String("embedding-host")
	}
	if c.IsSet("embedding-model") {
		cfg.EmbeddingModel = c.String("embedding-model")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openEngine(c *cli.Context) (*chunkstream.Engine, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	e, err := chunkstream.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return e, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	parent := c.Context
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
