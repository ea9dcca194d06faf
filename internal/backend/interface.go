// Package backend selects the event store and assembles the ledger, rule
// evaluator, alert sink and event transport on top of it.
package backend

import (
	"context"

	"smartpay/internal/alerts"
	"smartpay/internal/ledger"
	"smartpay/internal/rules"
	"smartpay/internal/settings"
	"smartpay/internal/worker"
)

// Store is everything the engine needs from a data backend.
type Store interface {
	ledger.Store
	rules.Aggregates
	alerts.Store
	settings.Store
	worker.Store
	Ping(ctx context.Context) error
	Close() error
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, MemoryBackend}
}
