// Package ratelimit provides per-caller request throttling for the
// shield API, with an in-process implementation for single-instance
// deployments and a Redis-backed one for multi-instance deployments.
package ratelimit

import "context"

// Limiter decides whether a caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
