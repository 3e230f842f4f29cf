// Copyright 2025 Noctiluca Labs
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


// Package queue owns the embedding job lifecycle: enqueueing, claiming,
// retry policy, stale-job recovery, and the worker loop that drives
// processing.
package queue

import (
	"errors"
	"runtime"
	"time"
)

// Config holds tuning for the queue manager, worker, and reaper.
type Config struct {
	// MaxAttempts is the retry budget per job. Default: 3.
	MaxAttempts int

	// BackoffBase and BackoffCap bound the exponential retry delay:
	// base doubled per attempt, never above the cap.
	// Defaults: 30s base, 30m cap.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// JobTimeout bounds a single processing run. Default: 10m.
	JobTimeout time.Duration

	// ReapTimeout is how long a job may sit in processing before the reaper
	// treats it as abandoned. Must exceed JobTimeout. Default: 15m.
	ReapTimeout time.Duration

	// ReapInterval is how often the reaper scans. Default: 1m.
	ReapInterval time.Duration

	// PollInterval is how often an idle worker looks for due jobs.
	// Default: 5s.
	PollInterval time.Duration

	// Workers is the number of concurrent job processors.
	// Default: NumCPU/2, minimum 1.
	Workers int

	// BatchSize is the maximum jobs claimed per poll. Default: Workers.
	BatchSize int
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	return Config{
		MaxAttempts:  3,
		BackoffBase:  30 * time.Second,
		BackoffCap:   30 * time.Minute,
		JobTimeout:   10 * time.Minute,
		ReapTimeout:  15 * time.Minute,
		ReapInterval: time.Minute,
		PollInterval: 5 * time.Second,
		Workers:      workers,
		BatchSize:    workers,
	}
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = def.BackoffCap
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = def.JobTimeout
	}
	if c.ReapTimeout <= 0 {
		c.ReapTimeout = def.ReapTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = def.ReapInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = c.Workers
	}
}

// Validate checks the configuration after normalizing it.
func (c *Config) Validate() error {
	c.Normalize()

	if c.BackoffCap < c.BackoffBase {
		return errors.New("queue config: BackoffCap must be >= BackoffBase")
	}
	if c.ReapTimeout <= c.JobTimeout {
		return errors.New("queue config: ReapTimeout must exceed JobTimeout, otherwise live jobs get reaped")
	}
	return nil
}
