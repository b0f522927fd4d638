// Package transform rewrites row sets between fetch and write. The only
// transform decrypts sensitive columns.
package transform

import (
	"context"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
)

// Transformer returns a transformed copy of rows. The input is never mutated;
// a value that cannot be transformed fails the whole row set.
type Transformer interface {
	Transform(ctx context.Context, rows *model.RowSet, keyID string, fields []string) (*model.RowSet, error)
}
