package cmd

import (
	"fmt"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/app"
	"github.com/jmehdipour/recurring-orders/internal/logger"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/schedule"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo companies and customers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Named("seed")

		loc, err := cfg.Scheduler.Location()
		if err != nil {
			return err
		}

		sqlDB, err := app.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		if err := seedCompanies(sqlDB); err != nil {
			return err
		}
		n, err := seedCustomers(sqlDB, schedule.NewCalculator(loc), time.Now())
		if err != nil {
			return err
		}
		log.Info("seed completed", zap.Int("customers", n))
		return nil
	},
}

func seedCompanies(dbx *sqlx.DB) error {
	companies := []model.Company{
		{
			ID: "co_demo_1", Name: "Condomínio Jardim das Flores", TaxID: "12.345.678/0001-90",
			Email: "sindico@jardimflores.com.br", Phone: "+551130000001",
			Address1: "Rua das Acácias, 120", District: "Vila Mariana",
			City: "São Paulo", Province: "SP", PostalCode: "04101-000", CountryCode: "br",
		},
		{
			ID: "co_demo_2", Name: "Residencial Mar Azul", TaxID: "98.765.432/0001-10",
			Email: "adm@marazul.com.br", Phone: "+552130000002",
			Address1: "Av. Atlântica, 2000", Address2: "Bloco B", District: "Copacabana",
			City: "Rio de Janeiro", Province: "RJ", PostalCode: "22021-001", CountryCode: "br",
		},
	}

	// idempotent upsert on primary key
	const q = `
INSERT INTO companies
    (id, name, tax_id, email, phone, address_1, address_2, district, city, province, postal_code, country_code)
VALUES
    (:id, :name, :tax_id, :email, :phone, :address_1, :address_2, :district, :city, :province, :postal_code, :country_code)
ON DUPLICATE KEY UPDATE
    name      = VALUES(name),
    tax_id    = VALUES(tax_id),
    address_1 = VALUES(address_1),
    city      = VALUES(city)
`
	for _, c := range companies {
		if _, err := dbx.NamedExec(q, c); err != nil {
			return fmt.Errorf("insert company %q: %w", c.ID, err)
		}
	}
	return nil
}

// seedCustomers inserts deterministic demo customers, each with one
// recurrence due at its next slot.
func seedCustomers(dbx *sqlx.DB, cal schedule.Calculator, now time.Time) (int, error) {
	type seed struct {
		customer   model.Customer
		recurrence model.Recurrence
	}
	day := func(i int) *int { return &i }

	seeds := []seed{
		{
			customer: model.Customer{
				ID: "cus_demo_1", Email: "ana@jardimflores.com.br", FirstName: "Ana", LastName: "Souza",
				CompanyID: "co_demo_1", APIKey: "11111111111111111111111111111111", Status: "active",
				RateLimitRPS: intptr(20),
			},
			recurrence: model.Recurrence{
				ID: "rec_demo_1", Name: "Limpeza mensal", Frequency: model.FrequencyMonthly,
				DayOfMonth: day(5), PaymentMethod: model.MethodBoleto,
				Items: []model.LineItem{{VariantID: "variant_detergente", Quantity: 12}},
			},
		},
		{
			customer: model.Customer{
				ID: "cus_demo_2", Email: "bruno@marazul.com.br", FirstName: "Bruno",
				CompanyID: "co_demo_2", APIKey: "22222222222222222222222222222222", Status: "active",
			},
			recurrence: model.Recurrence{
				ID: "rec_demo_2", Name: "Café da portaria", Frequency: model.FrequencyWeekly,
				DayOfWeek: day(1), PaymentMethod: model.MethodPix,
				Items: []model.LineItem{{VariantID: "variant_cafe", Quantity: 2}},
			},
		},
		{
			customer: model.Customer{
				ID: "cus_demo_3", Email: "carla@marazul.com.br", FirstName: "Carla",
				CompanyID: "co_demo_2", APIKey: "33333333333333333333333333333333", Status: "suspended",
			},
			recurrence: model.Recurrence{
				ID: "rec_demo_3", Name: "Papel toalha", Frequency: model.FrequencyBiweekly,
				DayOfWeek: day(3), PaymentMethod: model.MethodCredit,
				Items: []model.LineItem{{VariantID: "variant_papel", Quantity: 6}},
			},
		},
	}

	const q = `
INSERT INTO customers
    (id, email, first_name, last_name, company_id, api_key, status, rate_limit_rps, metadata, version)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
ON DUPLICATE KEY UPDATE
    email          = VALUES(email),
    status         = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    metadata       = VALUES(metadata),
    version        = version + 1
`
	tx, err := dbx.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, s := range seeds {
		rec := s.recurrence
		rec.CompanyID = s.customer.CompanyID
		rec.Status = model.RecurrenceActive
		rec.StartDate = now
		rec.CreatedAt, rec.UpdatedAt = now, now
		next, err := cal.Next(schedule.FromRecurrence(rec), now)
		if err != nil {
			return 0, fmt.Errorf("schedule %s: %w", rec.ID, err)
		}
		rec.NextRunAt = &next

		c := s.customer
		c.Metadata.Recurrences = []model.Recurrence{rec}
		if _, err := tx.Exec(q, c.ID, c.Email, c.FirstName, c.LastName, c.CompanyID,
			c.APIKey, c.Status, c.RateLimitRPS, c.Metadata); err != nil {
			return 0, fmt.Errorf("insert customer %q: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit customers: %w", err)
	}
	return len(seeds), nil
}

func intptr(i int) *int { return &i }
