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

package embed

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tuning knobs of the embedding pipeline.
type Config struct {
	// MaxRetries is the number of retries after the first failed attempt of a batch.
	// A batch is attempted at most MaxRetries+1 times before it is degraded.
	MaxRetries int `yaml:"max_retries"`

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// BackoffFactor multiplies the delay after every retryable failure.
	BackoffFactor float64 `yaml:"backoff_factor"`

	// MaxPayloadBytes is the provider's per-request payload budget.
	MaxPayloadBytes int `yaml:"max_payload_bytes"`

	// MinBatchSize and MaxBatchSize bound the estimated batch size.
	MinBatchSize int `yaml:"min_batch_size"`
	MaxBatchSize int `yaml:"max_batch_size"`

	// Workers is the number of batches embedded concurrently.
	// 1 processes batches strictly in sequence.
	Workers int `yaml:"workers"`

	// Dimensions is the expected vector length. Zero accepts whatever the provider returns.
	Dimensions int `yaml:"dimensions"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	budget := DefaultBudget()
	return &Config{
		MaxRetries:      3,
		InitialDelay:    time.Second,
		BackoffFactor:   2,
		MaxPayloadBytes: budget.MaxPayloadBytes,
		MinBatchSize:    budget.MinBatchSize,
		MaxBatchSize:    budget.MaxBatchSize,
		Workers:         1,
	}
}

// Budget returns the batch size budget described by the config.
func (c *Config) Budget() Budget {
	return Budget{
		MaxPayloadBytes: c.MaxPayloadBytes,
		MinBatchSize:    c.MinBatchSize,
		MaxBatchSize:    c.MaxBatchSize,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidConfig)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("%w: initial_delay must not be negative", ErrInvalidConfig)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("%w: backoff_factor must be at least 1", ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalidConfig)
	}
	if c.Dimensions < 0 {
		return fmt.Errorf("%w: dimensions must not be negative", ErrInvalidConfig)
	}
	if err := c.Budget().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfig reads a YAML pipeline configuration from path.
// Fields missing from the file keep their DefaultConfig values; unknown fields are rejected.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	return DecodeConfig(f)
}

// DecodeConfig reads a YAML pipeline configuration from r. See LoadConfig.
func DecodeConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
