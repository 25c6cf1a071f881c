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
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/podhub"
	"github.com/poiesic/podhub/config"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// newApp builds the CLI. hubOpts are passed to every podhub.Open call.
func newApp(hubOpts ...podhub.Option) *cli.App {
	cmds := &commands{hubOpts: hubOpts}
	podFlag := &cli.StringFlag{
		Name:     "pod",
		Aliases:  []string{"p"},
		Usage:    "Pod ID",
		Required: true,
	}

	return &cli.App{
		Name:                      "podhub",
		Usage:                     "Index pods of free text and answer questions over them",
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML configuration file",
				Value:   "podhub.toml",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to .env file with PODHUB_* variables",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Set logging format (text, json)",
				Value: "text",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides config)",
			},
			&cli.StringFlag{
				Name:  "broker",
				Usage: "Message broker: memory or nats (overrides config)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:  "pod",
				Usage: "Manage pods and their items",
				Subcommands: []*cli.Command{
					{
						Name:   "create",
						Usage:  "Create a pod",
						Action: cmds.podCreate,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Pod name", Required: true},
							&cli.StringFlag{Name: "owner", Aliases: []string{"o"}, Usage: "Owner user ID", Required: true},
						},
					},
					{
						Name:   "add",
						Usage:  "Append items to a pod",
						Action: cmds.podAdd,
						Flags: []cli.Flag{
							podFlag,
							&cli.StringSliceFlag{Name: "content", Usage: "Item content (repeatable)"},
							&cli.StringFlag{Name: "file", Usage: "Add one item per non-empty line of a file"},
						},
					},
					{
						Name:   "show",
						Usage:  "Show a pod with item, chunk and job counts",
						Action: cmds.podShow,
						Flags:  []cli.Flag{podFlag},
					},
					{
						Name:   "list",
						Usage:  "List all pods",
						Action: cmds.podList,
					},
				},
			},
			{
				Name:   "index",
				Usage:  "Start an indexing job for a pod",
				Action: cmds.index,
				Flags: []cli.Flag{
					podFlag,
					&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Wait until the job finishes"},
					&cli.DurationFlag{Name: "timeout", Usage: "Maximum time to wait", Value: 10 * time.Minute},
				},
			},
			{
				Name:  "job",
				Usage: "Inspect indexing jobs",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show one job",
						Action: cmds.jobShow,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "job", Aliases: []string{"j"}, Usage: "Job ID", Required: true},
						},
					},
				},
			},
			{
				Name:  "jobs",
				Usage: "List indexing jobs",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List the jobs of a pod",
						Action: cmds.jobsList,
						Flags:  []cli.Flag{podFlag},
					},
					{
						Name:   "stale",
						Usage:  "List PENDING jobs whose start message was never consumed",
						Action: cmds.jobsStale,
						Flags: []cli.Flag{
							&cli.DurationFlag{Name: "older-than", Usage: "Minimum job age", Value: 5 * time.Minute},
						},
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run the indexing pipeline until interrupted",
				Action: cmds.serve,
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "metrics-interval", Usage: "Log metrics every interval (0 disables)", Value: time.Minute},
				},
			},
			{
				Name:   "search",
				Usage:  "Retrieve the chunks of a pod closest to a question",
				Action: cmds.search,
				Flags: []cli.Flag{
					podFlag,
					&cli.StringFlag{Name: "question", Aliases: []string{"q"}, Usage: "Question text", Required: true},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of chunks", Value: 5},
					&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Trace each retrieval stage"},
				},
			},
			{
				Name:   "ask",
				Usage:  "Answer a question from the content of a pod",
				Action: cmds.ask,
				Flags: []cli.Flag{
					podFlag,
					&cli.StringFlag{Name: "question", Aliases: []string{"q"}, Usage: "Question text", Required: true},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of chunks", Value: 5},
				},
			},
			{
				Name:  "dlq",
				Usage: "Inspect and replay dead letters",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List archived dead letters",
						Action: cmds.dlqList,
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Usage: "Maximum number of dead letters (0 for all)", Value: 50},
						},
					},
					{
						Name:   "replay",
						Usage:  "Republish dead letters to their topic",
						Action: cmds.dlqReplay,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "id", Usage: "Dead letter ID"},
							&cli.BoolFlag{Name: "all", Usage: "Replay every dead letter"},
						},
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Re-embed the chunks of a pod with the configured or given model",
				Action: cmds.reembed,
				Flags: []cli.Flag{
					podFlag,
					&cli.StringFlag{Name: "model", Usage: "Embedding model name (overrides config)"},
					&cli.IntFlag{Name: "batch-size", Usage: "Number of chunks to process in each batch", Value: 100},
					&cli.IntFlag{Name: "report-interval", Usage: "Report progress every N chunks", Value: 100},
					&cli.IntFlag{Name: "max-retries", Usage: "Maximum attempts per embedding call", Value: 3},
					&cli.DurationFlag{Name: "retry-delay", Usage: "Base delay for exponential backoff", Value: 1 * time.Second},
					&cli.BoolFlag{Name: "force", Usage: "Re-embed chunks already at the target model"},
				},
			},
			{
				Name:   "metrics",
				Usage:  "Print the metrics registry and, with --pod, pod statistics",
				Action: cmds.metrics,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "pod", Aliases: []string{"p"}, Usage: "Pod ID"},
				},
			},
			{
				Name:  "config",
				Usage: "Work with configuration files",
				Subcommands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "Write the effective configuration as TOML",
						Action: cmds.configInit,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "out", Usage: "Output path", Value: "podhub.toml"},
						},
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
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

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(c.String("log-format")) {
	case "text":
		handler = slog.NewTextHandler(c.App.ErrWriter, opts)
	case "json":
		handler = slog.NewJSONHandler(c.App.ErrWriter, opts)
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", c.String("log-format"))
	}
	slog.SetDefault(slog.New(handler))

	return nil
}

// loadConfig reads the configuration and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return nil, err
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.Path = db
	}
	if broker := c.String("broker"); broker != "" {
		cfg.Broker.Kind = broker
	}
	return cfg, nil
}
