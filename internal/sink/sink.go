// Package sink appends validated labels to the downstream relational
// label store (spec.md §4.E). It is the one insert-only collaborator the
// original spec treats as external; SPEC_FULL.md binds it concretely to
// Postgres via pgx, the same driver every Postgres-backed teacher service
// uses.
package sink

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arc-self/muncher/internal/wire"
)

// Row is the database row shape for one label (spec.md §3).
type Row struct {
	Src string
	URI string
	CID string
	Val string
	Neg bool
	CTS string
	Exp *string
}

// RowFromLabel maps a wire Label onto its database row, applying the
// missing-field defaults from spec.md §3: missing cid becomes "", missing
// neg becomes false, missing exp becomes null.
func RowFromLabel(l wire.Label) Row {
	row := Row{
		Src: l.Src,
		URI: l.URI,
		Val: l.Val,
		CTS: l.CTS,
		Neg: l.IsNeg(),
	}
	if l.CID != nil {
		row.CID = *l.CID
	}
	row.Exp = l.Exp
	return row
}

// Sink is the single public operation required by spec.md §4.E.
type Sink interface {
	Insert(ctx context.Context, row Row) error
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresSink inserts into {schema}.label via a pgx connection pool.
type PostgresSink struct {
	pool   *pgxpool.Pool
	table  string
	tracer trace.Tracer
	logger *zap.Logger
}

// NewPostgresSink builds a PostgresSink. schema defaults to "bsky" and
// must be a plain SQL identifier — it is interpolated into the insert
// statement because pgx cannot bind identifiers as parameters.
func NewPostgresSink(pool *pgxpool.Pool, schema string, logger *zap.Logger) (*PostgresSink, error) {
	if schema == "" {
		schema = "bsky"
	}
	if !identifierPattern.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema identifier %q", schema)
	}
	return &PostgresSink{
		pool:   pool,
		table:  schema + ".label",
		tracer: otel.Tracer("muncher-sink"),
		logger: logger,
	}, nil
}

// Insert appends row to the label table. Errors are returned for the
// caller to log per label without aborting the stream (spec.md §7).
func (s *PostgresSink) Insert(ctx context.Context, row Row) error {
	ctx, span := s.tracer.Start(ctx, "sink.Insert")
	defer span.End()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (src, uri, cid, val, neg, cts, exp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, row.Src, row.URI, row.CID, row.Val, row.Neg, row.CTS, row.Exp)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert label row for %s: %w", row.Src, err)
	}
	return nil
}
