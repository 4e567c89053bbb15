package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

const layout = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body style="font-family: Arial, sans-serif; background-color: #f9f9f9; padding: 20px;">
<div style="max-width: 600px; margin: auto; background-color: white; padding: 20px; border-radius: 10px;">
<h2 style="color: #333;">{{.Title}}</h2>
{{template "body" .}}
<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
<thead><tr style="background-color: #f0f0f0;"><th align="left">Product</th><th align="left">Qty</th><th align="left">Price</th><th align="left">Total</th></tr></thead>
<tbody>
{{range .Lines}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.Price}}</td><td>{{.Subtotal}}</td></tr>
{{end}}</tbody>
<tfoot><tr><td colspan="3" align="right"><strong>Total:</strong></td><td><strong>{{.Total}}</strong></td></tr></tfoot>
</table>
<p style="color: #555;">Order reference: <strong>{{.Reference}}</strong><br>
Track your order at <a href="{{.LookupURL}}">{{.LookupURL}}</a></p>
</div>
</body>
</html>`

const confirmationBody = `{{define "body"}}<p>Thank you for your order. We have received your payment and are preparing your items.</p>{{end}}`

const shippingBody = `{{define "body"}}<p>Good news: your order is on its way.</p>
<p>{{if .Carrier}}Carrier: {{.Carrier}}<br>{{end}}Tracking number: <strong>{{.TrackingNumber}}</strong>
{{if .TrackingURL}}<br><a href="{{.TrackingURL}}">Track your package</a>{{end}}</p>{{end}}`

var templates = map[orders.EmailKind]*template.Template{
	orders.EmailConfirmation: template.Must(template.Must(template.New("confirmation").Parse(layout)).Parse(confirmationBody)),
	orders.EmailShipping:     template.Must(template.Must(template.New("shipping").Parse(layout)).Parse(shippingBody)),
}

var subjects = map[orders.EmailKind]string{
	orders.EmailConfirmation: "Order confirmation %s",
	orders.EmailShipping:     "Your order %s has shipped",
}

type line struct {
	Name     string
	Quantity int
	Price    string
	Subtotal string
}

type emailData struct {
	Title          string
	Reference      string
	Lines          []line
	Total          string
	TrackingNumber string
	TrackingURL    string
	Carrier        string
	LookupURL      string
}

func render(kind orders.EmailKind, o *orders.Order, storeURL string) (subject, html string, err error) {
	tmpl, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown email kind %q", kind)
	}

	data := emailData{
		Reference:      o.OrderReference,
		Total:          money(decimal.NewFromFloat(o.TotalAmount)),
		TrackingNumber: o.TrackingNumber,
		TrackingURL:    o.TrackingURL,
		Carrier:        o.Carrier,
		LookupURL:      storeURL + "/orders",
	}
	for _, it := range o.Items {
		price := decimal.NewFromFloat(it.Price)
		data.Lines = append(data.Lines, line{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    money(price),
			Subtotal: money(price.Mul(decimal.NewFromInt(int64(it.Quantity)))),
		})
	}
	subject = fmt.Sprintf(subjects[kind], o.OrderReference)
	data.Title = subject

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s email: %w", kind, err)
	}
	return subject, buf.String(), nil
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
