package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmoiron/sqlx"
)

// RunLogRepository stores scheduler run history in ClickHouse.
type RunLogRepository interface {
	Insert(ctx context.Context, recs []model.RunRecord) error
	ListByCustomer(ctx context.Context, f RunFilter) ([]model.RunRecord, error)
}

type RunFilter struct {
	CustomerID   string
	RecurrenceID string
	Outcome      model.RunOutcome
	Since        time.Time
	Limit        int
	Offset       int
}

type chRunLogRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewRunLogRepository(ch *sqlx.DB) RunLogRepository {
	return &chRunLogRepository{ch: ch}
}

// Insert writes recs as one ClickHouse batch.
func (r *chRunLogRepository) Insert(ctx context.Context, recs []model.RunRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO recur.runs
		    (id, customer_id, recurrence_id, method, outcome, error,
		     cart_id, payment_collection_id, order_id, ran_at)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.CustomerID, rec.RecurrenceID, rec.Method, string(rec.Outcome), rec.Error,
			rec.CartID, rec.PaymentCollectionID, rec.OrderID, rec.RanAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *chRunLogRepository) ListByCustomer(ctx context.Context, f RunFilter) ([]model.RunRecord, error) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, customer_id, recurrence_id, method, outcome, error,
		       cart_id, payment_collection_id, order_id, ran_at
		FROM recur.runs
		WHERE customer_id = ?
	`
	args := []any{f.CustomerID}

	if f.RecurrenceID != "" {
		q += " AND recurrence_id = ?"
		args = append(args, f.RecurrenceID)
	}
	if f.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(f.Outcome))
	}
	if !f.Since.IsZero() {
		q += " AND ran_at >= ?"
		args = append(args, f.Since)
	}

	q += " ORDER BY ran_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.RunRecord
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
