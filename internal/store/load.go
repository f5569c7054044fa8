package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge/carelink/internal/asyncquery"
)

// LoadAndLog runs call through q with start/end telemetry and single-flight
// coordination: when a call is already in flight on q, this one is deferred
// until the prior call settles instead of interleaving state writes. Logging
// is best-effort and never alters the result.
func LoadAndLog[T any](
	ctx context.Context,
	log *zap.Logger,
	q *asyncquery.Query[T],
	call asyncquery.CallFunc[T],
	onConflict asyncquery.ConflictResolver[T],
) (T, error) {
	log.Debug("query start", zap.String("query", q.Name()))
	start := time.Now()

	v, err := q.RunDeferred(ctx, call, onConflict)

	fields := []zap.Field{
		zap.String("query", q.Name()),
		zap.String("state", q.State().String()),
		zap.Duration("dur", time.Since(start)),
	}
	if err != nil {
		log.Warn("query settled", append(fields, zap.Error(err))...)
	} else {
		log.Debug("query settled", fields...)
	}
	return v, err
}
