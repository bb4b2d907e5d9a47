// Package store defines the composite persistence interface Herald runs on.
//
// Each subsystem declares the store it needs; the aggregate embeds them so
// one backend serves the whole engine.
package store

import (
	"context"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/subscription"
)

// Store is implemented by every backend under store/.
type Store interface {
	subscription.Store
	delivery.Store

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	Close() error
}
