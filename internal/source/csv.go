package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "sales-insight/internal/errors"
	"sales-insight/internal/models"
	"sales-insight/internal/services"
)

var csvColumns = []string{
	"transaction_id", "product_id", "product_name", "category",
	"price", "quantity", "timestamp", "customer_id", "payment_method",
}

// CSVSource serves the window queries from a transaction export on disk.
// The parsed file is kept in memory until its modification time changes.
type CSVSource struct {
	path string

	mu      sync.Mutex
	records []models.SalesRecord
	modTime time.Time
	size    int64
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (s *CSVSource) Close() error { return nil }

func (s *CSVSource) FetchWindow(ctx context.Context, window models.TimeWindow) ([]models.SalesRecord, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.SalesRecord, 0)
	for _, r := range all {
		if window.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *CSVSource) FetchByCategory(ctx context.Context, window models.TimeWindow, limit int) ([]models.CategoryRow, error) {
	records, err := s.FetchWindow(ctx, window)
	if err != nil {
		return nil, err
	}
	return services.NewAggregator(limit, 0).CategoryBreakdown(services.GroupByCategory(records)).Data, nil
}

func (s *CSVSource) FetchByHour(ctx context.Context, window models.TimeWindow) ([]models.HourlyRow, error) {
	records, err := s.FetchWindow(ctx, window)
	if err != nil {
		return nil, err
	}
	return services.GroupByHour(records), nil
}

func (s *CSVSource) FetchTopProducts(ctx context.Context, window models.TimeWindow, limit int) ([]models.ProductRollup, error) {
	records, err := s.FetchWindow(ctx, window)
	if err != nil {
		return nil, err
	}
	return services.NewAggregator(0, limit).TopProducts(services.GroupByProduct(records)), nil
}

func (s *CSVSource) load(ctx context.Context) ([]models.SalesRecord, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.SourceUnavailable(err, "csv source file missing")
		}
		return nil, apperrors.SourceUnavailable(err, "stat csv source")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records != nil && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.records, nil
	}

	records, err := s.parse(ctx)
	if err != nil {
		return nil, err
	}
	s.records = records
	s.modTime = info.ModTime()
	s.size = info.Size()
	return records, nil
}

func (s *CSVSource) parse(ctx context.Context) ([]models.SalesRecord, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, apperrors.SourceUnavailable(err, "open csv source")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperrors.SourceQuery(err, "csv source has no header")
		}
		return nil, apperrors.SourceQuery(err, "read csv header")
	}
	index, err := columnIndex(header)
	if err != nil {
		return nil, apperrors.SourceQuery(err, "csv header")
	}

	records := make([]models.SalesRecord, 0)
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.SourceUnavailable(err, "parse csv source")
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.SourceQuery(err, fmt.Sprintf("read csv line %d", line))
		}

		record, err := parseRecord(row, index)
		if err != nil {
			return nil, apperrors.SourceQuery(err, fmt.Sprintf("csv line %d", line))
		}
		records = append(records, record)
	}
	return records, nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range csvColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	return index, nil
}

func parseRecord(row []string, index map[string]int) (models.SalesRecord, error) {
	field := func(name string) string {
		i := index[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	price, err := decimal.NewFromString(field("price"))
	if err != nil {
		return models.SalesRecord{}, fmt.Errorf("price: %w", err)
	}
	if price.IsNegative() {
		return models.SalesRecord{}, fmt.Errorf("negative price %s", price)
	}

	quantity, err := strconv.Atoi(field("quantity"))
	if err != nil {
		return models.SalesRecord{}, fmt.Errorf("quantity: %w", err)
	}
	if quantity < 0 {
		return models.SalesRecord{}, fmt.Errorf("negative quantity %d", quantity)
	}

	ts, err := parseTimestamp(field("timestamp"))
	if err != nil {
		return models.SalesRecord{}, fmt.Errorf("timestamp: %w", err)
	}

	return models.SalesRecord{
		TransactionID: field("transaction_id"),
		ProductID:     field("product_id"),
		ProductName:   field("product_name"),
		Category:      field("category"),
		UnitPrice:     price,
		Quantity:      quantity,
		Timestamp:     ts,
		CustomerID:    field("customer_id"),
		PaymentMethod: field("payment_method"),
	}, nil
}

// parseTimestamp accepts RFC 3339 or unix seconds.
func parseTimestamp(v string) (time.Time, error) {
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
