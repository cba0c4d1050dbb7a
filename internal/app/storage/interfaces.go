// Package storage defines the persistence backend contract of the journey
// services and provides the in-memory backend.
package storage

import (
	"context"

	"github.com/vitalis-labs/service_layer/internal/progress"
	"github.com/vitalis-labs/service_layer/internal/topics"
)

// Backend persists progress rows and topic answers.
type Backend interface {
	progress.ReconcileStore
	topics.Store

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

var _ Backend = (*Memory)(nil)
