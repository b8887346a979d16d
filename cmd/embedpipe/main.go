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
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/embedpipe"
	"github.com/poiesic/embedpipe/ai"
	"github.com/poiesic/embedpipe/ai/breaker"
	"github.com/poiesic/embedpipe/core"
	"github.com/poiesic/embedpipe/embed"
	"github.com/poiesic/embedpipe/idempotency"
	"github.com/poiesic/embedpipe/storage/badger"
	"github.com/poiesic/embedpipe/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "embedpipe",
		Usage: "Fault-tolerant batch embedding of text records",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "embed",
				Usage:     "Embed JSONL records ({\"id\", \"content\"}) and write JSONL outcomes",
				ArgsUsage: " ",
				Action:    embedCommand,
				Flags:     embedFlags(),
			},
			{
				Name:   "status",
				Usage:  "Show the idempotency record of a keyed run",
				Action: statusCommand,
				Flags: []cli.Flag{
					dbFlag(true),
					keyFlag(true),
				},
			},
			{
				Name:   "forget",
				Usage:  "Delete the idempotency record of a keyed run so it executes again",
				Action: forgetCommand,
				Flags: []cli.Flag{
					dbFlag(true),
					keyFlag(true),
				},
			},
		},
	}
}

func dbFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "db",
		Aliases:  []string{"d"},
		Usage:    "Path to BadgerDB directory holding idempotency records",
		Required: required,
	}
}

func keyFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "key",
		Aliases:  []string{"k"},
		Usage:    "Idempotency key of the run",
		Required: required,
	}
}

func embedFlags() []cli.Flag {
	defaults := embed.DefaultConfig()
	aiDefaults := ai.DefaultConfig()

	return []cli.Flag{
		dbFlag(false),
		keyFlag(false),
		&cli.BoolFlag{
			Name:  "derive-key",
			Usage: "Derive the idempotency key from the input records",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML pipeline configuration file; flags override its values",
		},
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "Input JSONL file (- for stdin)",
			Value:   "-",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output JSONL file (- for stdout)",
			Value:   "-",
		},
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: aiDefaults.EmbeddingHost,
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
			Value: aiDefaults.EmbeddingModel,
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "API token for the embedding service",
			EnvVars: []string{"EMBEDPIPE_TOKEN", "OPENAI_API_KEY"},
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Retries per batch after the first failed attempt",
			Value: defaults.MaxRetries,
		},
		&cli.DurationFlag{
			Name:  "initial-delay",
			Usage: "Delay before the first retry",
			Value: defaults.InitialDelay,
		},
		&cli.Float64Flag{
			Name:  "backoff-factor",
			Usage: "Multiplier applied to the delay after every retry",
			Value: defaults.BackoffFactor,
		},
		&cli.IntFlag{
			Name:  "max-payload-bytes",
			Usage: "Provider request payload budget in bytes",
			Value: defaults.MaxPayloadBytes,
		},
		&cli.IntFlag{
			Name:  "min-batch-size",
			Usage: "Smallest batch size the estimator may choose",
			Value: defaults.MinBatchSize,
		},
		&cli.IntFlag{
			Name:  "max-batch-size",
			Usage: "Largest batch size the estimator may choose",
			Value: defaults.MaxBatchSize,
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of batches embedded concurrently",
			Value: defaults.Workers,
		},
		&cli.IntFlag{
			Name:  "dimensions",
			Usage: "Expected embedding dimensionality (0 accepts any)",
		},
		&cli.DurationFlag{
			Name:  "stale-after",
			Usage: "Age after which an unfinished keyed run may be taken over (0 never)",
			Value: idempotency.DefaultStaleAfter,
		},
		&cli.BoolFlag{
			Name:  "circuit-breaker",
			Usage: "Stop calling the provider for a while after repeated transient failures",
		},
		&cli.IntFlag{
			Name:  "report-interval",
			Usage: "Report progress every N records (0 disables)",
			Value: 100,
		},
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "Write event counters in Prometheus text format to this file on exit",
		},
	}
}

// pipelineConfig loads the optional config file and applies explicitly set flags on top.
func pipelineConfig(c *cli.Context) (*embed.Config, error) {
	cfg := embed.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := embed.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("max-retries") {
		cfg.MaxRetries = c.Int("max-retries")
	}
	if c.IsSet("initial-delay") {
		cfg.InitialDelay = c.Duration("initial-delay")
	}
	if c.IsSet("backoff-factor") {
		cfg.BackoffFactor = c.Float64("backoff-factor")
	}
	if c.IsSet("max-payload-bytes") {
		cfg.MaxPayloadBytes = c.Int("max-payload-bytes")
	}
	if c.IsSet("min-batch-size") {
		cfg.MinBatchSize = c.Int("min-batch-size")
	}
	if c.IsSet("max-batch-size") {
		cfg.MaxBatchSize = c.Int("max-batch-size")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("dimensions") {
		cfg.Dimensions = c.Int("dimensions")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type inputRecord struct {
	Id      string `json:"id,omitempty"`
	Content string `json:"content"`
}

type outputRecord struct {
	Id        string    `json:"id,omitempty"`
	Embedding []float32 `json:"embedding"`
	Degraded  bool      `json:"degraded"`
}

func readRecords(r io.Reader) ([]core.Record, error) {
	var records []core.Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var in inputRecord
		if err := json.Unmarshal([]byte(text), &in); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, core.Record{Id: in.Id, Content: in.Content})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func writeOutcomes(w io.Writer, outcomes []core.Outcome) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, o := range outcomes {
		if err := enc.Encode(outputRecord{Id: o.Record.Id, Embedding: o.Embedding, Degraded: o.Degraded}); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func openInput(c *cli.Context, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(c.App.Reader), nil
	}
	return os.Open(path)
}

func openOutput(c *cli.Context, path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{c.App.Writer}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func embedCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.String("key") != "" && c.Bool("derive-key") {
		return errors.New("--key and --derive-key are mutually exclusive")
	}

	cfg, err := pipelineConfig(c)
	if err != nil {
		return fmt.Errorf("invalid pipeline configuration: %w", err)
	}

	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithToken(c.String("token")),
		ai.WithRequestBatchSize(cfg.MaxBatchSize),
	)
	if err := aiConfig.Validate(); err != nil {
		return fmt.Errorf("invalid AI configuration: %w", err)
	}

	in, err := openInput(c, c.String("input"))
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	records, err := readRecords(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}

	key := c.String("key")
	if c.Bool("derive-key") {
		key = core.RunKey(embedpipe.OperationEmbed, records)
		slog.Info("derived idempotency key", "key", key)
	}
	if key != "" && c.String("db") == "" {
		return errors.New("--db is required for keyed runs")
	}

	registry := prometheus.NewRegistry()
	metrics, err := telemetry.NewMetricsSink(registry)
	if err != nil {
		return err
	}
	sink := telemetry.Multi(telemetry.NewLogSink(nil), metrics)

	opts := []embedpipe.ServiceOption{
		embedpipe.WithAIConfig(aiConfig),
		embedpipe.WithPipelineConfig(cfg),
		embedpipe.WithSink(sink),
		embedpipe.WithCoordinatorOptions(idempotency.WithStaleAfter(c.Duration("stale-after"))),
	}
	if interval := c.Int("report-interval"); interval > 0 {
		opts = append(opts, embedpipe.WithPipelineOptions(embed.WithProgress(c.App.ErrWriter, interval)))
	}
	if c.Bool("circuit-breaker") {
		opts = append(opts, embedpipe.WithCircuitBreaker(breaker.DefaultConfig()))
	}

	svc, err := embedpipe.NewService(c.String("db"), opts...)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer svc.Close()

	start := time.Now()
	outcomes, err := svc.Embed(ctx, key, records)
	if err != nil {
		return fmt.Errorf("embedding run failed: %w", err)
	}

	out, err := openOutput(c, c.String("output"))
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	if err := writeOutcomes(out, outcomes); err != nil {
		out.Close()
		return fmt.Errorf("failed to write outcomes: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write outcomes: %w", err)
	}

	indexable, rest := core.Partition(outcomes)
	degraded := 0
	for _, o := range rest {
		if o.Degraded {
			degraded++
		}
	}
	slog.Info("embedding finished",
		"records", len(records),
		"embedded", len(indexable),
		"degraded", degraded,
		"blank", len(rest)-degraded,
		"elapsed", time.Since(start).Round(time.Millisecond))

	if path := c.String("metrics-file"); path != "" {
		if err := prometheus.WriteToTextfile(path, registry); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

func openCoordinator(c *cli.Context) (*idempotency.Coordinator, func(), error) {
	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	repo, err := badger.NewIdempotencyRepository(backend)
	if err != nil {
		backend.Close()
		return nil, nil, fmt.Errorf("failed to create repository: %w", err)
	}
	closeFn := func() {
		repo.Close()
		backend.Close()
	}
	return idempotency.NewCoordinator(repo), closeFn, nil
}

func statusCommand(c *cli.Context) error {
	coordinator, closeFn, err := openCoordinator(c)
	if err != nil {
		return err
	}
	defer closeFn()

	rec, err := coordinator.Status(c.Context, c.String("key"))
	if err != nil {
		return fmt.Errorf("failed to read run status: %w", err)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "key:         %s\n", rec.Key)
	fmt.Fprintf(w, "operation:   %s\n", rec.Operation)
	fmt.Fprintf(w, "status:      %s\n", rec.Status)
	fmt.Fprintf(w, "owner:       %s\n", rec.Owner)
	fmt.Fprintf(w, "started:     %s\n", formatTime(rec.StartedAt))
	switch rec.Status {
	case core.RunStatusCompleted:
		fmt.Fprintf(w, "completed:   %s\n", formatTime(rec.CompletedAt))
		fmt.Fprintf(w, "result:      %d bytes\n", len(rec.Result))
	case core.RunStatusFailed:
		fmt.Fprintf(w, "failed:      %s\n", formatTime(rec.FailedAt))
		fmt.Fprintf(w, "error:       %s\n", rec.Error)
	}
	return nil
}

func forgetCommand(c *cli.Context) error {
	coordinator, closeFn, err := openCoordinator(c)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := coordinator.Forget(c.Context, c.String("key")); err != nil {
		return fmt.Errorf("failed to forget run: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "forgot %s\n", c.String("key"))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

// setupLogger configures the default slog logger from the --log-level flag.
func setupLogger(c *cli.Context) error {
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
