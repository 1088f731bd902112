// Package worker provides the background tasks that keep the data cache
// tidy and persisted.
package worker

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}

// named is implemented by workers that report an identifier for logs.
type named interface {
	Name() string
}
