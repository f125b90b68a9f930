package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmoiron/sqlx"
)

type CompaniesRepository interface {
	GetByID(ctx context.Context, id string) (*model.Company, error)
}

type CompaniesRepositoryImpl struct {
	db *sqlx.DB
}

func NewCompaniesRepository(db *sqlx.DB) *CompaniesRepositoryImpl {
	return &CompaniesRepositoryImpl{db: db}
}

var _ CompaniesRepository = (*CompaniesRepositoryImpl)(nil)

func (r *CompaniesRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Company, error) {
	var c model.Company
	err := r.db.GetContext(ctx, &c, `
		SELECT id, name, tax_id, email, phone, address_1, address_2, district,
		       city, province, postal_code, country_code, created_at, updated_at
		  FROM companies
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("company", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
