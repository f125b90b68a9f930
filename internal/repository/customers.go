package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmoiron/sqlx"
)

type CustomersRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Customer, error)
	GetByID(ctx context.Context, id string) (*model.Customer, error)
	// ListPage returns up to limit customers ordered by id, strictly after afterID.
	ListPage(ctx context.Context, afterID string, limit int) ([]model.Customer, error)
	// UpdateMetadata writes metadata if the stored version still equals
	// c.Version, and bumps c.Version on success. A stale version yields
	// errs.ErrVersionConflict.
	UpdateMetadata(ctx context.Context, c *model.Customer) error
}

type CustomersRepositoryImpl struct {
	db *sqlx.DB
}

func NewCustomersRepository(db *sqlx.DB) *CustomersRepositoryImpl {
	return &CustomersRepositoryImpl{db: db}
}

var _ CustomersRepository = (*CustomersRepositoryImpl)(nil)

const customerColumns = `id, email, first_name, last_name, company_id, api_key, status,
	rate_limit_rps, metadata, version, created_at, updated_at`

func (r *CustomersRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Customer, error) {
	var c model.Customer
	err := r.db.GetContext(ctx, &c, `SELECT `+customerColumns+`
		  FROM customers
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CustomersRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Customer, error) {
	var c model.Customer
	err := r.db.GetContext(ctx, &c, `SELECT `+customerColumns+`
		  FROM customers
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("customer", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// customerRow defers metadata decoding so one malformed record cannot fail
// a whole listing.
type customerRow struct {
	model.Customer
	RawMetadata []byte `db:"raw_metadata"`
}

const customerListColumns = `id, email, first_name, last_name, company_id, api_key, status,
	rate_limit_rps, metadata AS raw_metadata, version, created_at, updated_at`

func (r *CustomersRepositoryImpl) ListPage(ctx context.Context, afterID string, limit int) ([]model.Customer, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []customerRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+customerListColumns+`
		  FROM customers
		 WHERE id > ? AND status = 'active'
		 ORDER BY id
		 LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Customer, 0, len(rows))
	for _, row := range rows {
		c := row.Customer
		if err := c.Metadata.Scan(row.RawMetadata); err != nil {
			c.Metadata = model.CustomerMetadata{}
			c.MetadataErr = fmt.Errorf("customer %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *CustomersRepositoryImpl) UpdateMetadata(ctx context.Context, c *model.Customer) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE customers
		   SET metadata = ?, version = version + 1, updated_at = NOW()
		 WHERE id = ? AND version = ?
	`, c.Metadata, c.ID, c.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrVersionConflict
	}
	c.Version++
	return nil
}

// DefaultMutateAttempts bounds MutateCustomer's reload-and-reapply loop.
const DefaultMutateAttempts = 5

// MutateCustomer loads the customer, applies fn and writes the metadata back.
// On a version conflict it reloads and re-applies fn, so fn must be a pure
// patch over the customer it is given.
func MutateCustomer(ctx context.Context, repo CustomersRepository, id string, attempts int, fn func(*model.Customer) error) (*model.Customer, error) {
	if attempts <= 0 {
		attempts = DefaultMutateAttempts
	}
	for attempt := 0; attempt < attempts; attempt++ {
		c, err := repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(c); err != nil {
			return nil, err
		}
		err = repo.UpdateMetadata(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, errs.ErrVersionConflict) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("customer %s: %w after %d attempts", id, errs.ErrVersionConflict, attempts)
}
