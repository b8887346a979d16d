package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/embedpipe/core"
	"github.com/poiesic/embedpipe/embed"
	"github.com/poiesic/embedpipe/idempotency"
	"github.com/poiesic/embedpipe/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func findFlag[T cli.Flag](t *testing.T, flags []cli.Flag, name string) T {
	t.Helper()
	for _, flag := range flags {
		if f, ok := flag.(T); ok && flag.Names()[0] == name {
			return f
		}
	}
	t.Fatalf("flag %q not found", name)
	var zero T
	return zero
}

func TestEmbedCommandFlags(t *testing.T) {
	flags := embedFlags()
	defaults := embed.DefaultConfig()

	t.Run("embedding-host has default value", func(t *testing.T) {
		f := findFlag[*cli.StringFlag](t, flags, "embedding-host")
		assert.Equal(t, "http://localhost:11434/v1", f.Value)
	})

	t.Run("token reads environment", func(t *testing.T) {
		f := findFlag[*cli.StringFlag](t, flags, "token")
		assert.Contains(t, f.EnvVars, "EMBEDPIPE_TOKEN")
	})

	t.Run("pipeline flags default to pipeline config", func(t *testing.T) {
		assert.Equal(t, defaults.MaxRetries, findFlag[*cli.IntFlag](t, flags, "max-retries").Value)
		assert.Equal(t, defaults.InitialDelay, findFlag[*cli.DurationFlag](t, flags, "initial-delay").Value)
		assert.Equal(t, defaults.MaxBatchSize, findFlag[*cli.IntFlag](t, flags, "max-batch-size").Value)
		assert.Equal(t, defaults.Workers, findFlag[*cli.IntFlag](t, flags, "workers").Value)
	})

	t.Run("stale-after defaults to coordinator default", func(t *testing.T) {
		f := findFlag[*cli.DurationFlag](t, flags, "stale-after")
		assert.Equal(t, idempotency.DefaultStaleAfter, f.Value)
	})

	t.Run("db is optional", func(t *testing.T) {
		f := findFlag[*cli.StringFlag](t, flags, "db")
		assert.False(t, f.Required)
	})
}

func TestEmbedCommandValidation(t *testing.T) {
	t.Run("key and derive-key are exclusive", func(t *testing.T) {
		err := newApp().Run([]string{"embedpipe", "embed", "--key", "k", "--derive-key"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mutually exclusive")
	})

	t.Run("invalid pipeline flags fail before any work", func(t *testing.T) {
		err := newApp().Run([]string{"embedpipe", "embed", "--min-batch-size", "10", "--max-batch-size", "5"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid pipeline configuration")
	})

	t.Run("missing config file fails", func(t *testing.T) {
		err := newApp().Run([]string{"embedpipe", "embed", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
		require.Error(t, err)
	})

	t.Run("keyed run requires db", func(t *testing.T) {
		app := newApp()
		app.Reader = strings.NewReader(`{"id":"a","content":"hello"}` + "\n")
		err := app.Run([]string{"embedpipe", "embed", "--key", "k"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--db")
	})
}

func TestPipelineConfig(t *testing.T) {
	run := func(t *testing.T, args ...string) *embed.Config {
		t.Helper()
		var got *embed.Config
		app := &cli.App{
			Name:  "test",
			Flags: embedFlags(),
			Action: func(c *cli.Context) error {
				cfg, err := pipelineConfig(c)
				got = cfg
				return err
			},
		}
		require.NoError(t, app.Run(append([]string{"test"}, args...)))
		return got
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := run(t)
		assert.Equal(t, embed.DefaultConfig(), cfg)
	})

	t.Run("flags override config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pipeline.yaml")
		yaml := "max_retries: 7\nworkers: 3\nmax_batch_size: 20\n"
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

		cfg := run(t, "--config", path, "--workers", "5", "--initial-delay", "2s")
		assert.Equal(t, 7, cfg.MaxRetries)
		assert.Equal(t, 5, cfg.Workers)
		assert.Equal(t, 20, cfg.MaxBatchSize)
		assert.Equal(t, 2*time.Second, cfg.InitialDelay)
	})
}

func TestRecordIO(t *testing.T) {
	t.Run("reads JSONL skipping blank lines", func(t *testing.T) {
		input := `{"id":"a","content":"hello"}` + "\n\n" + `{"content":"world"}` + "\n"
		records, err := readRecords(strings.NewReader(input))
		require.NoError(t, err)
		assert.Equal(t, []core.Record{{Id: "a", Content: "hello"}, {Content: "world"}}, records)
	})

	t.Run("reports malformed line", func(t *testing.T) {
		_, err := readRecords(strings.NewReader(`{"content":"ok"}` + "\n" + `not json` + "\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("writes one line per outcome", func(t *testing.T) {
		var buf bytes.Buffer
		err := writeOutcomes(&buf, []core.Outcome{
			{Record: core.Record{Id: "a"}, Embedding: []float32{0.6, 0.8}},
			core.DegradedOutcome(core.Record{Id: "b"}),
		})
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.JSONEq(t, `{"id":"a","embedding":[0.6,0.8],"degraded":false}`, lines[0])
		assert.JSONEq(t, `{"id":"b","embedding":[],"degraded":true}`, lines[1])
	})
}

func TestStatusAndForgetCommands(t *testing.T) {
	dir := t.TempDir()

	backend, err := badger.OpenBackend(dir, false)
	require.NoError(t, err)
	repo, err := badger.NewIdempotencyRepository(backend)
	require.NoError(t, err)
	coordinator := idempotency.NewCoordinator(repo)
	_, err = coordinator.Run(context.Background(), "run-1", "embed", func(ctx context.Context) ([]byte, error) {
		return []byte("done"), nil
	})
	require.NoError(t, err)
	_, err = coordinator.Run(context.Background(), "run-2", "embed", func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("provider exploded")
	})
	require.Error(t, err)
	require.NoError(t, repo.Close())
	require.NoError(t, backend.Close())

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		app := newApp()
		app.Writer = &out
		err := app.Run(append([]string{"embedpipe"}, args...))
		return out.String(), err
	}

	t.Run("status of completed run", func(t *testing.T) {
		out, err := run("status", "--db", dir, "--key", "run-1")
		require.NoError(t, err)
		assert.Contains(t, out, "status:      completed")
		assert.Contains(t, out, "result:      4 bytes")
	})

	t.Run("status of failed run", func(t *testing.T) {
		out, err := run("status", "--db", dir, "--key", "run-2")
		require.NoError(t, err)
		assert.Contains(t, out, "status:      failed")
		assert.Contains(t, out, "provider exploded")
	})

	t.Run("status requires key", func(t *testing.T) {
		_, err := run("status", "--db", dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "key")
	})

	t.Run("forget removes record", func(t *testing.T) {
		out, err := run("forget", "--db", dir, "--key", "run-1")
		require.NoError(t, err)
		assert.Contains(t, out, "forgot run-1")

		_, err = run("status", "--db", dir, "--key", "run-1")
		require.Error(t, err)
	})
}

func TestSetupLogger(t *testing.T) {
	newTestApp := func(action cli.ActionFunc) *cli.App {
		return &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "log-level",
					Aliases: []string{"l"},
					Value:   "info",
				},
			},
			Before: setupLogger,
			Action: action,
		}
	}
	noop := func(c *cli.Context) error { return nil }

	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			t.Run(level, func(t *testing.T) {
				err := newTestApp(noop).Run([]string{"test", "--log-level", level})
				require.NoError(t, err)
			})
		}
	})

	t.Run("case insensitive log levels", func(t *testing.T) {
		for _, level := range []string{"DEBUG", "Info", "WaRn", "ERROR"} {
			t.Run(level, func(t *testing.T) {
				err := newTestApp(noop).Run([]string{"test", "--log-level", level})
				require.NoError(t, err)
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		err := newTestApp(noop).Run([]string{"test", "--log-level", "invalid"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		app := newTestApp(func(c *cli.Context) error {
			assert.Equal(t, "debug", c.String("log-level"))
			return nil
		})
		require.NoError(t, app.Run([]string{"test", "-l", "debug"}))
	})

	t.Run("app wires setupLogger", func(t *testing.T) {
		app := newApp()
		require.NotNil(t, app.Before)
		err := app.Run([]string{"embedpipe", "--log-level", "loud", "status"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}
