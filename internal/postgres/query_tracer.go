package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tokenrail/tokenrail/internal/logger"
)

// TracedQuerier decorates a Querier so every statement logs its duration.
// Successful statements log at debug, failures at error, both tagged with
// the transaction id when one is open.
type TracedQuerier struct {
	Querier
	logger *logger.Logger
	txID   string
}

func NewTracedQuerier(q Querier, logger *logger.Logger, txID string) *TracedQuerier {
	return &TracedQuerier{
		Querier: q,
		logger:  logger,
		txID:    txID,
	}
}

// trace returns a completion callback capturing the statement and its
// start time.
func (tq *TracedQuerier) trace(query string, params interface{}) func(error) {
	start := time.Now()
	return func(err error) {
		fields := []interface{}{
			"duration_ms", time.Since(start).Milliseconds(),
			"query", query,
			"params", fmt.Sprintf("%+v", params),
		}
		if tq.txID != "" {
			fields = append(fields, "tx_id", tq.txID)
		}
		if err != nil {
			fields = append(fields, "error", err.Error())
			tq.logger.Errorw("database query failed", fields...)
			return
		}
		tq.logger.Debugw("database query completed", fields...)
	}
}

func (tq *TracedQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	done := tq.trace(query, args)
	result, err := tq.Querier.ExecContext(ctx, query, args...)
	done(err)
	return result, err
}

func (tq *TracedQuerier) NamedExec(query string, arg interface{}) (sql.Result, error) {
	done := tq.trace(query, arg)
	result, err := tq.Querier.NamedExec(query, arg)
	done(err)
	return result, err
}

func (tq *TracedQuerier) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	done := tq.trace(query, args)
	rows, err := tq.Querier.QueryContext(ctx, query, args...)
	done(err)
	return rows, err
}

func (tq *TracedQuerier) NamedQuery(query string, arg interface{}) (*sqlx.Rows, error) {
	done := tq.trace(query, arg)
	rows, err := tq.Querier.NamedQuery(query, arg)
	done(err)
	return rows, err
}
