package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalesRecord is one e-commerce transaction line as read from the record
// source.
type SalesRecord struct {
	TransactionID string          `json:"transaction_id"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Category      string          `json:"category"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      int             `json:"quantity"`
	Timestamp     time.Time       `json:"timestamp"`
	CustomerID    string          `json:"customer_id"`
	PaymentMethod string          `json:"payment_method"`
}

func (r SalesRecord) Revenue() decimal.Decimal {
	return r.UnitPrice.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

// TimeWindow is the half-open interval [Start, End) covered by one run.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Hours int       `json:"hours"`
}

// NewTimeWindow returns the window of the given length ending at end.
func NewTimeWindow(end time.Time, hours int) TimeWindow {
	end = end.UTC()
	return TimeWindow{
		Start: end.Add(-time.Duration(hours) * time.Hour),
		End:   end,
		Hours: hours,
	}
}

func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

type CategoryRow struct {
	Category  string          `json:"category"`
	SaleCount int             `json:"sale_count"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type HourlyRow struct {
	Hour      int             `json:"hour"`
	SaleCount int             `json:"sale_count"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type ProductRollup struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	SaleCount   int             `json:"sale_count"`
	UnitsSold   int             `json:"units_sold"`
	Revenue     decimal.Decimal `json:"revenue"`
}
