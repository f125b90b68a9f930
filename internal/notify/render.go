package notify

import (
	"bytes"
	htmltpl "html/template"
	"strings"
	texttpl "text/template"

	"github.com/jmehdipour/recurring-orders/internal/model"
)

type instructionsView struct {
	Name    string
	Method  string
	Pending model.PendingPayment
}

var (
	instructionsText = texttpl.Must(texttpl.New("instructions").Parse(
		`Hello {{.Name}},

Your {{.Method}} payment is waiting for settlement.
{{with .Pending.Details}}{{if .PixCode}}
PIX code: {{.PixCode}}
{{end}}{{if .BoletoLine}}
Boleto line: {{.BoletoLine}}
{{end}}{{if .BoletoURL}}Boleto: {{.BoletoURL}}
{{end}}{{if .BoletoExpiresAt}}Due: {{.BoletoExpiresAt}}
{{end}}{{end}}
Reference: {{.Pending.PaymentCollectionID}}
`))

	instructionsHTML = htmltpl.Must(htmltpl.New("instructions").Parse(
		`<p>Hello {{.Name}},</p>
<p>Your {{.Method}} payment is waiting for settlement.</p>
{{with .Pending.Details}}{{if .PixQR}}<p><img src="{{.PixQR}}" alt="PIX QR code"></p>{{end}}
{{if .PixCode}}<p>PIX code: <code>{{.PixCode}}</code></p>{{end}}
{{if .BoletoLine}}<p>Boleto line: <code>{{.BoletoLine}}</code></p>{{end}}
{{if .BoletoURL}}<p><a href="{{.BoletoURL}}">Open boleto</a></p>{{end}}
{{if .BoletoExpiresAt}}<p>Due: {{.BoletoExpiresAt}}</p>{{end}}{{end}}
<p>Reference: {{.Pending.PaymentCollectionID}}</p>`))
)

func greeting(c model.Customer) string {
	if n := strings.TrimSpace(c.FullName()); n != "" {
		return n
	}
	return "customer"
}

// PaymentInstructions renders the settlement instructions of an async payment.
func PaymentInstructions(c model.Customer, p model.PendingPayment) model.Email {
	v := instructionsView{Name: greeting(c), Method: strings.ToUpper(string(p.Method)), Pending: p}

	var text, html bytes.Buffer
	_ = instructionsText.Execute(&text, v)
	_ = instructionsHTML.Execute(&html, v)

	return model.Email{
		To:      c.Email,
		Subject: "Payment instructions for your order",
		Text:    text.String(),
		HTML:    html.String(),
	}
}

func OrderConfirmed(c model.Customer, orderID string) model.Email {
	name := htmltpl.HTMLEscapeString(greeting(c))
	id := htmltpl.HTMLEscapeString(orderID)
	return model.Email{
		To:      c.Email,
		Subject: "Order confirmed",
		Text:    "Hello " + greeting(c) + ",\n\nYour order " + orderID + " is confirmed.\n",
		HTML:    "<p>Hello " + name + ",</p><p>Your order <b>" + id + "</b> is confirmed.</p>",
	}
}

func RecurrencePaused(c model.Customer, r model.Recurrence) model.Email {
	name := htmltpl.HTMLEscapeString(greeting(c))
	rec := htmltpl.HTMLEscapeString(r.Name)
	reason := htmltpl.HTMLEscapeString(r.LastError)
	return model.Email{
		To:      c.Email,
		Subject: "Recurring order paused: " + r.Name,
		Text:    "Hello " + greeting(c) + ",\n\nYour recurring order \"" + r.Name + "\" was paused.\nReason: " + r.LastError + "\n",
		HTML:    "<p>Hello " + name + ",</p><p>Your recurring order <b>" + rec + "</b> was paused.</p><p>Reason: " + reason + "</p>",
	}
}
