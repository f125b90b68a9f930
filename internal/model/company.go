package model

import "time"

// Company is the billing/shipping entity (a condo) a purchase is made for.
type Company struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	TaxID       string    `db:"tax_id"` // CNPJ
	Email       string    `db:"email"`
	Phone       string    `db:"phone"`
	Address1    string    `db:"address_1"`
	Address2    string    `db:"address_2"`
	District    string    `db:"district"`
	City        string    `db:"city"`
	Province    string    `db:"province"`
	PostalCode  string    `db:"postal_code"`
	CountryCode string    `db:"country_code"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}
