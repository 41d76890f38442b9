// internal/queue/config.go
package queue

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidConfig = errors.New("invalid broadcast config")

// Upper bounds match the tenants table's INTEGER override columns.
const (
	MaxConcurrentLimit = math.MaxInt32
	MaxMinInterval     = time.Duration(math.MaxInt32) * time.Millisecond
	MaxRetries         = math.MaxInt32
)

// Config controls how a tenant queue dispatches. It is read on every dispatch.
type Config struct {
	MaxConcurrent int
	MinInterval   time.Duration
	// Retries is consumed by the task closures, not by the queue.
	Retries int
}

// PartialConfig carries only the fields a caller wants to override.
type PartialConfig struct {
	MaxConcurrent *int
	MinInterval   *time.Duration
	Retries       *int
}

func DefaultConfig() Config {
	return Config{MaxConcurrent: 1}
}

func (c Config) Validate() error {
	switch {
	case c.MaxConcurrent < 1:
		return fmt.Errorf("%w: max_concurrent must be at least 1, got %d", ErrInvalidConfig, c.MaxConcurrent)
	case c.MaxConcurrent > MaxConcurrentLimit:
		return fmt.Errorf("%w: max_concurrent must be at most %d, got %d", ErrInvalidConfig, MaxConcurrentLimit, c.MaxConcurrent)
	case c.MinInterval < 0:
		return fmt.Errorf("%w: min_interval must not be negative, got %s", ErrInvalidConfig, c.MinInterval)
	case c.MinInterval > MaxMinInterval:
		return fmt.Errorf("%w: min_interval must be at most %s, got %s", ErrInvalidConfig, MaxMinInterval, c.MinInterval)
	case c.Retries < 0:
		return fmt.Errorf("%w: retries must not be negative, got %d", ErrInvalidConfig, c.Retries)
	case c.Retries > MaxRetries:
		return fmt.Errorf("%w: retries must be at most %d, got %d", ErrInvalidConfig, MaxRetries, c.Retries)
	}
	return nil
}

// Merge returns c with every non-nil field of p applied.
func (c Config) Merge(p PartialConfig) Config {
	if p.MaxConcurrent != nil {
		c.MaxConcurrent = *p.MaxConcurrent
	}
	if p.MinInterval != nil {
		c.MinInterval = *p.MinInterval
	}
	if p.Retries != nil {
		c.Retries = *p.Retries
	}
	return c
}

func (p PartialConfig) IsEmpty() bool {
	return p.MaxConcurrent == nil && p.MinInterval == nil && p.Retries == nil
}
