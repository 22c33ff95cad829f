// Package biometric fetches the daily readiness baseline and the lagged
// measured heart-rate stream from a wearable provider.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/model"
)

// Client is the provider boundary.
type Client interface {
	// FetchDaily returns the baseline for the given effective date.
	FetchDaily(ctx context.Context, date string) (model.DailyBaseline, error)
	// FetchRecentHeartRate returns measured samples in [from, to), oldest
	// first.
	FetchRecentHeartRate(ctx context.Context, from, to time.Time) ([]model.HeartRateSample, error)
}

// ErrNoData means the provider has nothing for the requested day yet.
var ErrNoData = errors.New("no biometric data yet")

// RetryableError wraps a failure worth retrying: timeouts, rate limits and
// server errors.
type RetryableError struct {
	Op         string
	Err        error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string { return fmt.Sprintf("%s: %v (retryable)", e.Op, e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError wraps a failure retrying cannot fix, such as rejected
// credentials.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// New builds the client named by cfg.Provider.
func New(cfg config.BiometricConfig) (Client, error) {
	switch cfg.Provider {
	case "oura":
		return NewOuraClient(cfg), nil
	case "static":
		return NewStaticClient(cfg.Default), nil
	default:
		return nil, fmt.Errorf("unknown biometric provider %q", cfg.Provider)
	}
}
