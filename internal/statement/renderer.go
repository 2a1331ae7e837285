package statement

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/internal/audit/masking"
	payoutdomain "github.com/smallbiznis/settlement/internal/payout/domain"
)

const (
	contentType = "application/pdf"
	dateLayout  = "2006-01-02"
)

// Data is everything printed on a payout statement.
type Data struct {
	VendorName  string
	Batch       payoutdomain.Batch
	Items       []payoutdomain.Item
	// GeneratedAt is printed in the footer when set.
	GeneratedAt time.Time
}

// Document is a rendered statement ready to be served.
type Document struct {
	FileName    string
	ContentType string
	Content     []byte
}

// FileName builds the download name, e.g. payout-statement-pine-lodge-1234.pdf.
func FileName(vendorName string, batchID fmt.Stringer) string {
	name := slug.Make(vendorName)
	if name == "" {
		name = "vendor"
	}
	return fmt.Sprintf("payout-statement-%s-%s.pdf", name, batchID.String())
}

// Render lays out a single-batch statement.
func Render(data Data) (Document, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)
	batch := data.Batch

	m.AddRow(20,
		text.NewCol(8, "Payout statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, strings.ToUpper(string(batch.Status)), props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New(data.VendorName, props.Text{Style: fontstyle.Bold}),
			text.New("Vendor ID: "+batch.VendorID.String(), props.Text{Top: 5}),
			text.New("Cabin: "+cabinLabel(batch), props.Text{Top: 9}),
			text.New("Bank: "+bankLabel(batch), props.Text{Top: 13}),
		),
		col.New(6).Add(
			text.New("Batch: "+batch.ID.String(), props.Text{Align: align.Right}),
			text.New("Type: "+string(batch.Type), props.Text{Top: 4, Align: align.Right}),
			text.New("Period: "+periodLabel(batch), props.Text{Top: 8, Align: align.Right}),
			text.New("Requested: "+batch.RequestedAt.UTC().Format(dateLayout), props.Text{Top: 12, Align: align.Right}),
			text.New("Processed: "+optionalTime(batch.ProcessedAt), props.Text{Top: 16, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Revenue event", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Gross", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Commission", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Net", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, item := range data.Items {
		m.AddRow(8,
			text.NewCol(6, item.RevenueEventID.String(), props.Text{Size: 9}),
			text.NewCol(2, data.money(item.GrossAmount), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, data.money(item.CommissionAmount), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, data.money(item.GrossAmount-item.CommissionAmount), props.Text{Size: 9, Align: align.Right}),
		)
	}

	data.totalRow(m, "Gross", batch.GrossAmount)
	data.totalRow(m, "Commission", batch.CommissionAmount)
	if batch.RequestedAmount != nil {
		data.totalRow(m, "Requested", *batch.RequestedAmount)
	}
	if batch.ManualFee > 0 {
		label := "Manual fee"
		if batch.FeeDescription != nil {
			label = fmt.Sprintf("Manual fee (%s)", *batch.FeeDescription)
		}
		data.totalRow(m, label, batch.ManualFee)
	}
	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Net payout", props.Text{Size: 10, Style: fontstyle.Bold}),
		text.NewCol(3, data.money(batch.NetAmount), props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Right}),
	)

	if batch.TransactionID != nil {
		m.AddRow(8, text.NewCol(12, "Transaction: "+*batch.TransactionID, props.Text{Size: 9, Top: 2}))
	}
	if batch.Notes != nil {
		m.AddRow(8, text.NewCol(12, "Notes: "+*batch.Notes, props.Text{Size: 9, Top: 2}))
	}
	if !data.GeneratedAt.IsZero() {
		m.AddRow(8, text.NewCol(12, "Generated "+data.GeneratedAt.UTC().Format(time.RFC3339), props.Text{Size: 8, Top: 4}))
	}

	doc, err := m.Generate()
	if err != nil {
		return Document{}, err
	}

	return Document{
		FileName:    FileName(data.VendorName, batch.ID),
		ContentType: contentType,
		Content:     doc.GetBytes(),
	}, nil
}

func (d Data) totalRow(m core.Maroto, label string, amount int64) {
	m.AddRow(7,
		col.New(6),
		text.NewCol(3, label, props.Text{Size: 9}),
		text.NewCol(3, d.money(amount), props.Text{Size: 9, Align: align.Right}),
	)
}

// money prints minor units as a fixed two-decimal amount.
func (Data) money(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

func cabinLabel(batch payoutdomain.Batch) string {
	if batch.CabinID == nil {
		return "all cabins"
	}
	return batch.CabinID.String()
}

func periodLabel(batch payoutdomain.Batch) string {
	if batch.PeriodStart == nil || batch.PeriodEnd == nil {
		return "-"
	}
	return batch.PeriodStart.UTC().Format(dateLayout) + " to " + batch.PeriodEnd.UTC().Format(dateLayout)
}

func optionalTime(value *time.Time) string {
	if value == nil {
		return "-"
	}
	return value.UTC().Format(dateLayout)
}

// bankLabel prints the bank name and a masked account number.
func bankLabel(batch payoutdomain.Batch) string {
	var bank string
	for _, key := range []string{"bank_name", "bank"} {
		if value, ok := batch.BankDetails[key].(string); ok && strings.TrimSpace(value) != "" {
			bank = strings.TrimSpace(value)
			break
		}
	}
	account, _ := batch.BankDetails["account_number"].(string)
	account = masking.MaskSecret(account)
	switch {
	case bank == "" && account == "":
		return "-"
	case account == "":
		return bank
	case bank == "":
		return account
	default:
		return bank + " " + account
	}
}
