// Package adapter defines the connection abstractions shared by the source
// and target sides.
package adapter

import "context"

// ResourceConnection is an open, named connection to an external system.
type ResourceConnection interface {
	Close() error
	// Type is the configured driver type, e.g. "sqlserver".
	Type() string
	// Name is the replica.database key, e.g. "source" or "target".
	Name() string
}

// ResourceConnectionResolver returns a healthy connection by name,
// reconnecting when the cached one fails its liveness check.
type ResourceConnectionResolver interface {
	ResolveConnection(ctx context.Context, name string) (ResourceConnection, error)
}
