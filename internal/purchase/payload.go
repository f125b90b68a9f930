package purchase

import (
	"strings"

	"github.com/jmehdipour/recurring-orders/internal/commerce"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/payment"
	"github.com/stripe/stripe-go/v78"
)

// AddressFromCompany derives the shipping/billing address of a purchase.
func AddressFromCompany(co model.Company, cust model.Customer) commerce.Address {
	country := strings.ToLower(co.CountryCode)
	if country == "" {
		country = "br"
	}
	addr2 := co.Address2
	if co.District != "" {
		if addr2 != "" {
			addr2 += " - "
		}
		addr2 += co.District
	}
	first, last := cust.FirstName, cust.LastName
	if first == "" && last == "" {
		first = co.Name
	}
	a := commerce.Address{
		FirstName:   first,
		LastName:    last,
		Company:     co.Name,
		Address1:    co.Address1,
		Address2:    addr2,
		City:        co.City,
		Province:    co.Province,
		PostalCode:  co.PostalCode,
		CountryCode: country,
		Phone:       co.Phone,
	}
	if co.TaxID != "" || co.ID != "" {
		a.Metadata = map[string]any{"company_id": co.ID, "tax_id": co.TaxID}
	}
	return a
}

// SessionData is the provider payload for method. Card sessions are left
// unconfirmed; boleto and pix need no client step and confirm immediately.
func SessionData(method model.PaymentMethod, cust model.Customer, co model.Company) map[string]any {
	if method == model.MethodCredit {
		return map[string]any{
			"payment_method_types": []string{payment.MethodType(method)},
			"capture_method":       string(stripe.PaymentIntentCaptureMethodAutomatic),
			"confirm":              false,
		}
	}

	email := co.Email
	if email == "" {
		email = cust.Email
	}
	billing := map[string]any{
		"name":  co.Name,
		"email": email,
		"address": map[string]any{
			"line1":       co.Address1,
			"line2":       co.Address2,
			"city":        co.City,
			"state":       co.Province,
			"postal_code": co.PostalCode,
			"country":     strings.ToUpper(defaultCountry(co.CountryCode)),
		},
	}
	pmData := map[string]any{
		"type":            string(method),
		"billing_details": billing,
	}
	if method == model.MethodBoleto {
		pmData["boleto"] = map[string]any{"tax_id": digits(co.TaxID)}
	} else {
		pmData["pix"] = map[string]any{"tax_id": digits(co.TaxID)}
	}
	return map[string]any{
		"payment_method_types": []string{payment.MethodType(method)},
		"payment_method_data":  pmData,
		"confirm":              true,
	}
}

func defaultCountry(c string) string {
	if c == "" {
		return "br"
	}
	return c
}

// digits strips CNPJ/CPF punctuation.
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
