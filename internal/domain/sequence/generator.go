package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hms/ledger/internal/platform/db"
	"github.com/hms/ledger/internal/platform/telemetry"
)

// Counter atomically increments and returns the counter for (kind, day).
type Counter interface {
	Increment(ctx context.Context, kind Kind, day time.Time) (int, error)
}

type Generator struct {
	counter Counter
	loc     *time.Location
	metrics *telemetry.Metrics
}

// NewGenerator counts days in loc; nil means UTC.
func NewGenerator(counter Counter, loc *time.Location, metrics *telemetry.Metrics) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{counter: counter, loc: loc, metrics: metrics}
}

// Next mints the next number for kind on the calendar day containing at.
// When ctx carries a transaction the increment joins it, so a rolled-back
// creation gives its number back.
func (g *Generator) Next(ctx context.Context, kind Kind, at time.Time) (string, error) {
	if _, err := Prefix(kind); err != nil {
		return "", err
	}
	ctx, span := telemetry.StartSpan(ctx, "sequence.Next", attribute.String("sequence.kind", string(kind)))
	defer span.End()

	day := g.Day(at)
	n, err := g.counter.Increment(ctx, kind, day)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("increment %s counter: %w", kind, err)
	}
	g.metrics.DocumentIssued(string(kind))
	return Format(kind, day, n)
}

// Day returns the calendar day of t in the generator's zone, as UTC midnight.
func (g *Generator) Day(t time.Time) time.Time {
	y, m, d := t.In(g.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type counterPG struct{ pool *pgxpool.Pool }

func NewCounterPG(pool *pgxpool.Pool) Counter { return &counterPG{pool: pool} }

func (r *counterPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *counterPG) Increment(ctx context.Context, kind Kind, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO document_sequences (kind, day, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (kind, day) DO UPDATE SET last_value = document_sequences.last_value + 1
		RETURNING last_value`, string(kind), day).Scan(&n)
	return n, err
}
