package services

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	apperrors "sales-insight/internal/errors"
	"sales-insight/internal/models"
)

const hoursPerDay = 24

// FetchResult is the raw material of one run: the window's records and the
// grouped rows returned by the record source.
type FetchResult struct {
	Window     models.TimeWindow
	Records    []models.SalesRecord
	Categories []models.CategoryRow
	Hours      []models.HourlyRow
	Products   []models.ProductRollup
}

// Aggregator derives the published statistics from fetched rows. It holds no
// state between calls and performs no I/O.
type Aggregator struct {
	topCategories int
	topProducts   int
}

func NewAggregator(topCategories, topProducts int) *Aggregator {
	return &Aggregator{
		topCategories: topCategories,
		topProducts:   topProducts,
	}
}

func (a *Aggregator) Aggregate(in FetchResult) (models.Statistics, error) {
	if err := validateFetch(in); err != nil {
		return models.Statistics{}, err
	}

	stats := models.EmptyStatistics(in.Window)
	stats.WindowStats = a.WindowStats(in.Records, in.Window)
	stats.CategoryBreakdown = a.CategoryBreakdown(in.Categories)
	stats.HourlyTrend = a.HourlyTrend(in.Hours)
	stats.TopProducts = a.TopProducts(in.Products)
	return stats, nil
}

func (a *Aggregator) WindowStats(records []models.SalesRecord, window models.TimeWindow) models.WindowStats {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Revenue())
	}
	return models.WindowStats{
		RecordCount:  len(records),
		TotalRevenue: total,
		Window:       window,
	}
}

// CategoryBreakdown orders categories by revenue, highest first. Categories
// with equal revenue keep the order in which the source returned them.
func (a *Aggregator) CategoryBreakdown(rows []models.CategoryRow) models.CategoryBreakdown {
	merged := mergeCategories(rows)
	slices.SortStableFunc(merged, func(x, y models.CategoryRow) int {
		return y.Revenue.Cmp(x.Revenue)
	})
	merged = truncate(merged, a.topCategories)

	breakdown := models.CategoryBreakdown{
		Data:               merged,
		TopCategoryRevenue: decimal.Zero,
	}
	if len(merged) > 0 {
		top := merged[0].Category
		breakdown.TopCategory = &top
		breakdown.TopCategoryRevenue = merged[0].Revenue
	}
	return breakdown
}

// HourlyTrend orders rows by hour and picks the peak and slowest hours. The
// lowest hour wins a tie on either side.
func (a *Aggregator) HourlyTrend(rows []models.HourlyRow) models.HourlyTrend {
	var slots [hoursPerDay]*models.HourlyRow
	for _, r := range rows {
		if r.Hour < 0 || r.Hour >= hoursPerDay {
			continue
		}
		if slots[r.Hour] == nil {
			slots[r.Hour] = &models.HourlyRow{Hour: r.Hour, Revenue: decimal.Zero}
		}
		slots[r.Hour].SaleCount += r.SaleCount
		slots[r.Hour].Revenue = slots[r.Hour].Revenue.Add(r.Revenue)
	}

	trend := models.HourlyTrend{
		Data:   make([]models.HourlyRow, 0, len(rows)),
		Series: make([]decimal.Decimal, 0, len(rows)),
	}
	for _, slot := range slots {
		if slot == nil {
			continue
		}
		trend.Data = append(trend.Data, *slot)
		trend.Series = append(trend.Series, slot.Revenue)
	}

	if len(trend.Data) == 0 {
		return trend
	}

	peak, slowest := trend.Data[0], trend.Data[0]
	for _, r := range trend.Data[1:] {
		if r.Revenue.GreaterThan(peak.Revenue) {
			peak = r
		}
		if r.Revenue.LessThan(slowest.Revenue) {
			slowest = r
		}
	}
	trend.PeakHour = peak.Hour
	trend.SlowestHour = slowest.Hour
	return trend
}

// TopProducts orders products by units sold, keeping source order on ties.
func (a *Aggregator) TopProducts(rows []models.ProductRollup) []models.ProductRollup {
	merged := mergeProducts(rows)
	slices.SortStableFunc(merged, func(x, y models.ProductRollup) int {
		return y.UnitsSold - x.UnitsSold
	})
	return truncate(merged, a.topProducts)
}

// GroupByCategory rolls records up per category in first-seen order.
func GroupByCategory(records []models.SalesRecord) []models.CategoryRow {
	rows := make([]models.CategoryRow, 0)
	index := make(map[string]int)
	for _, r := range records {
		i, ok := index[r.Category]
		if !ok {
			i = len(rows)
			index[r.Category] = i
			rows = append(rows, models.CategoryRow{Category: r.Category, Revenue: decimal.Zero})
		}
		rows[i].SaleCount++
		rows[i].Revenue = rows[i].Revenue.Add(r.Revenue())
	}
	return rows
}

// GroupByHour rolls records up per UTC hour of day, ordered by hour.
func GroupByHour(records []models.SalesRecord) []models.HourlyRow {
	var slots [hoursPerDay]*models.HourlyRow
	for _, r := range records {
		h := r.Timestamp.UTC().Hour()
		if slots[h] == nil {
			slots[h] = &models.HourlyRow{Hour: h, Revenue: decimal.Zero}
		}
		slots[h].SaleCount++
		slots[h].Revenue = slots[h].Revenue.Add(r.Revenue())
	}

	rows := make([]models.HourlyRow, 0)
	for _, slot := range slots {
		if slot != nil {
			rows = append(rows, *slot)
		}
	}
	return rows
}

// GroupByProduct rolls records up per product in first-seen order.
func GroupByProduct(records []models.SalesRecord) []models.ProductRollup {
	rows := make([]models.ProductRollup, 0)
	index := make(map[string]int)
	for _, r := range records {
		key := r.ProductID + "|" + r.ProductName
		i, ok := index[key]
		if !ok {
			i = len(rows)
			index[key] = i
			rows = append(rows, models.ProductRollup{
				ProductID:   r.ProductID,
				ProductName: r.ProductName,
				Revenue:     decimal.Zero,
			})
		}
		rows[i].SaleCount++
		rows[i].UnitsSold += r.Quantity
		rows[i].Revenue = rows[i].Revenue.Add(r.Revenue())
	}
	return rows
}

func mergeCategories(rows []models.CategoryRow) []models.CategoryRow {
	merged := make([]models.CategoryRow, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, r := range rows {
		if i, ok := index[r.Category]; ok {
			merged[i].SaleCount += r.SaleCount
			merged[i].Revenue = merged[i].Revenue.Add(r.Revenue)
			continue
		}
		index[r.Category] = len(merged)
		merged = append(merged, r)
	}
	return merged
}

func mergeProducts(rows []models.ProductRollup) []models.ProductRollup {
	merged := make([]models.ProductRollup, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, r := range rows {
		key := r.ProductID + "|" + r.ProductName
		if i, ok := index[key]; ok {
			merged[i].SaleCount += r.SaleCount
			merged[i].UnitsSold += r.UnitsSold
			merged[i].Revenue = merged[i].Revenue.Add(r.Revenue)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, r)
	}
	return merged
}

func truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func validateFetch(in FetchResult) error {
	for _, r := range in.Records {
		if r.UnitPrice.IsNegative() || r.Quantity < 0 {
			return apperrors.Aggregation(fmt.Sprintf("record %s has negative price or quantity", r.TransactionID))
		}
	}
	for _, r := range in.Categories {
		if r.Revenue.IsNegative() || r.SaleCount < 0 {
			return apperrors.Aggregation(fmt.Sprintf("category %q has negative totals", r.Category))
		}
	}
	for _, r := range in.Hours {
		if r.Hour < 0 || r.Hour >= hoursPerDay {
			return apperrors.Aggregation(fmt.Sprintf("hour %d out of range", r.Hour))
		}
		if r.Revenue.IsNegative() || r.SaleCount < 0 {
			return apperrors.Aggregation(fmt.Sprintf("hour %d has negative totals", r.Hour))
		}
	}
	for _, r := range in.Products {
		if r.Revenue.IsNegative() || r.UnitsSold < 0 || r.SaleCount < 0 {
			return apperrors.Aggregation(fmt.Sprintf("product %s has negative totals", r.ProductID))
		}
	}
	return nil
}
