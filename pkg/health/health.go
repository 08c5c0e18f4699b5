package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeFunc CheckType = "func"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config controls how long Wait polls a checker
type Config struct {
	// Delay is the time between checks
	Delay time.Duration

	// Timeout is the total budget for the service to become healthy
	Timeout time.Duration
}

// DefaultConfig returns the management server liveness budget: a check
// every 10 seconds for up to 500 seconds.
func DefaultConfig() Config {
	return Config{
		Delay:   10 * time.Second,
		Timeout: 500 * time.Second,
	}
}

func result(start time.Time, healthy bool, message string) Result {
	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
