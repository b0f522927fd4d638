package writer

import (
	"context"
	"fmt"

	model "github.com/tigerroll/replica/pkg/replica/core/domain/model"
	"github.com/tigerroll/replica/pkg/replica/engine/retry"
)

// RetryingWriter retries a BulkWriter on transient faults. The mapping is
// validated once, before the first attempt.
type RetryingWriter struct {
	next  BulkWriter
	retry *retry.Executor
}

// NewRetryingWriter wraps next. A nil executor means the default policy.
func NewRetryingWriter(next BulkWriter, retryExecutor *retry.Executor) *RetryingWriter {
	if retryExecutor == nil {
		retryExecutor = retry.NewExecutor(nil)
	}
	return &RetryingWriter{next: next, retry: retryExecutor}
}

// WriteWithRetry loads rows into table, retrying transient faults. The load is
// detached from ctx's cancellation so an in-flight copy is never interrupted.
func (w *RetryingWriter) WriteWithRetry(ctx context.Context, table string, mapping model.ColumnMapping, rows *model.RowSet) error {
	if err := ValidateMapping(rows, mapping); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	return w.retry.Do(ctx, fmt.Sprintf("writer.Write(%s)", table), func(ctx context.Context) error {
		return w.next.Write(ctx, table, mapping, rows)
	})
}

// Write implements BulkWriter.
func (w *RetryingWriter) Write(ctx context.Context, table string, mapping model.ColumnMapping, rows *model.RowSet) error {
	return w.WriteWithRetry(ctx, table, mapping, rows)
}

var _ BulkWriter = (*RetryingWriter)(nil)
