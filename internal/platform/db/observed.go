package db

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/internal/platform/telemetry"
)

// RunTx runs fn through tx under a span named op. Unexpected failures are
// counted and logged with the trace id; domain errors pass through quietly.
func RunTx(ctx context.Context, tx Transactor, metrics *telemetry.Metrics, logger zerolog.Logger,
	op string, fn func(ctx context.Context) error) (err error) {
	ctx, span := telemetry.StartSpan(ctx, op, attribute.String("ledger.operation", op))
	defer func() { telemetry.EndSpan(span, err) }()

	err = tx.InTx(ctx, fn)
	if errors.Is(err, apperr.ErrTransactionFailure) {
		metrics.TxFailure(op)
		logger.Error().Err(err).Str("operation", op).Str("trace_id", telemetry.TraceID(ctx)).Msg("transaction rolled back")
	}
	return err
}
