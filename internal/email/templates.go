package email

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
)

const currency = "KES"

const pageHead = `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: linear-gradient(135deg, #0f9d58 0%, #0b8043 100%); padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">`

const pageBody = `</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
`

const pageFoot = `
		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This is an automated message. If you have any questions, reply to this email or contact support.
		</p>
	</div>
</body>
</html>`

func page(title, content string) string {
	return pageHead + html.EscapeString(title) + pageBody + content + pageFoot
}

func referenceBox(label, reference string) string {
	return fmt.Sprintf(`
		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">%s</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>
`, html.EscapeString(label), html.EscapeString(reference))
}

func greeting(name string) string {
	if name == "" {
		name = "customer"
	}
	return fmt.Sprintf(`		<p style="margin-top: 0;">Hello %s,</p>
`, html.EscapeString(name))
}

// BuildOrderConfirmationBody builds the HTML body for order confirmation email
func BuildOrderConfirmationBody(m OrderConfirmation) string {
	var itemsHTML strings.Builder
	for _, item := range m.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		if item.Variation != "" {
			name += " (" + item.Variation + ")"
		}
		itemsHTML.WriteString(fmt.Sprintf(
			`<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">%d</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
			</tr>`,
			html.EscapeString(name),
			item.Quantity,
			FormatAmount(item.UnitPrice),
			FormatAmount(item.LineTotal()),
		))
	}

	content := greeting(m.CustomerName) +
		`		<p>Thank you for your order. We have received it and will keep you posted as it progresses.</p>
` + referenceBox("Order reference", m.Reference) + fmt.Sprintf(`
		<h2 style="font-size: 18px; border-bottom: 2px solid #0f9d58; padding-bottom: 10px;">Order details</h2>

		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left; font-weight: 600;">Item</th>
					<th style="padding: 12px; text-align: center; font-weight: 600;">Qty</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Unit price</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Subtotal</th>
				</tr>
			</thead>
			<tbody>
				%s
			</tbody>
		</table>

		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Total</span>
			<span style="font-size: 24px; font-weight: bold; color: #0f9d58; margin-left: 10px;">%s</span>
		</div>
		<p style="font-size: 14px; color: #666;">Payment method: %s</p>
`, itemsHTML.String(), FormatAmount(m.Total), html.EscapeString(paymentLabel(m.PaymentMethod)))

	return page("Thank you for your order", content)
}

func BuildPaymentReceiptBody(m PaymentReceipt) string {
	var rows strings.Builder
	row := func(label, value string) {
		if value == "" {
			return
		}
		rows.WriteString(fmt.Sprintf(`
			<tr>
				<td style="padding: 8px; color: #666;">%s</td>
				<td style="padding: 8px; text-align: right; font-weight: 600;">%s</td>
			</tr>`, html.EscapeString(label), html.EscapeString(value)))
	}
	row("Amount paid", FormatAmount(m.Amount))
	row("Payment method", paymentLabel(m.Method))
	row("M-Pesa receipt", m.ReceiptNumber)
	if !m.PaidAt.IsZero() {
		row("Date", m.PaidAt.Format("02 Jan 2006 15:04"))
	}

	content := greeting(m.CustomerName) +
		`		<p>We have received your payment. Keep this email as your receipt.</p>
` + referenceBox("Order reference", m.Reference) + fmt.Sprintf(`
		<table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">%s
		</table>
`, rows.String())

	return page("Payment received", content)
}

func BuildShipmentUpdateBody(m ShipmentUpdate) string {
	content := greeting(m.CustomerName) + fmt.Sprintf(`		<p>Your order status has changed from <strong>%s</strong> to <strong>%s</strong>.</p>
`, html.EscapeString(m.OldStatus), html.EscapeString(m.NewStatus)) + referenceBox("Order reference", m.Reference)

	return page("Order update: "+m.NewStatus, content)
}

func paymentLabel(method string) string {
	switch method {
	case "COD":
		return "Cash on delivery"
	case "MPESA":
		return "M-Pesa"
	default:
		return method
	}
}

// FormatAmount renders a currency amount with two decimals and comma
// separators, e.g. "KES 12,500.00".
func FormatAmount(d decimal.Decimal) string {
	str := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(str, "-") {
		sign, str = "-", str[1:]
	}
	whole, frac, _ := strings.Cut(str, ".")
	return currency + " " + sign + formatNumber(whole) + "." + frac
}

// formatNumber inserts comma separators into a string of digits
func formatNumber(str string) string {
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		result.WriteString(",")
	}

	for i := remainder; i < len(str); i += 3 {
		result.WriteString(str[i : i+3])
		if i+3 < len(str) {
			result.WriteString(",")
		}
	}

	return result.String()
}
