package handlers

import "context"

// Checker reports whether one dependency of the service is usable.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

// Check calls f.
func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// RateLimiter is the minimal interface required to guard the ops endpoints.
type RateLimiter interface {
	Allow(key string) bool
}
