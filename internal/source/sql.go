package source

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "sales-insight/internal/errors"
	"sales-insight/internal/models"
)

// Schema is the table layout the SQL source expects. Timestamps are unix
// seconds; prices are stored as NUMERIC.
const Schema = `CREATE TABLE IF NOT EXISTS %s (
	transaction_id TEXT NOT NULL,
	product_id     TEXT NOT NULL,
	product_name   TEXT NOT NULL,
	category       TEXT NOT NULL,
	price          NUMERIC NOT NULL,
	quantity       INTEGER NOT NULL,
	ts             INTEGER NOT NULL,
	customer_id    TEXT,
	payment_method TEXT
)`

// revenueScale bounds the digits kept from floating point SUM() results.
const revenueScale = 6

// SQLSource runs the window queries against a SQLite database through
// database/sql.
type SQLSource struct {
	db    *sql.DB
	table string
}

func OpenSQL(dsn, table string) (*SQLSource, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	return NewSQLSource(db, table), nil
}

func NewSQLSource(db *sql.DB, table string) *SQLSource {
	return &SQLSource{db: db, table: table}
}

func (s *SQLSource) Close() error {
	return s.db.Close()
}

func (s *SQLSource) FetchWindow(ctx context.Context, window models.TimeWindow) ([]models.SalesRecord, error) {
	query := fmt.Sprintf(`
		SELECT transaction_id, product_id, product_name, category, price, quantity, ts,
		       COALESCE(customer_id, ''), COALESCE(payment_method, '')
		FROM %s
		WHERE ts >= ? AND ts < ?
		ORDER BY ts DESC`, s.table)

	rows, err := s.db.QueryContext(ctx, query, window.Start.Unix(), window.End.Unix())
	if err != nil {
		return nil, classify(err, "fetch window")
	}
	defer rows.Close()

	records := make([]models.SalesRecord, 0)
	for rows.Next() {
		var (
			r         models.SalesRecord
			price, ts any
			quantity  int64
		)
		if err := rows.Scan(&r.TransactionID, &r.ProductID, &r.ProductName, &r.Category,
			&price, &quantity, &ts, &r.CustomerID, &r.PaymentMethod); err != nil {
			return nil, classify(err, "scan sales record")
		}

		if r.UnitPrice, err = toDecimal(price); err != nil {
			return nil, apperrors.SourceQuery(err, fmt.Sprintf("record %s: price column", r.TransactionID))
		}
		if r.Timestamp, err = toTime(ts); err != nil {
			return nil, apperrors.SourceQuery(err, fmt.Sprintf("record %s: timestamp column", r.TransactionID))
		}
		r.Quantity = int(quantity)

		if r.UnitPrice.IsNegative() || r.Quantity < 0 {
			return nil, apperrors.SourceQuery(nil, fmt.Sprintf("record %s has negative price or quantity", r.TransactionID))
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate sales records")
	}
	return records, nil
}

func (s *SQLSource) FetchByCategory(ctx context.Context, window models.TimeWindow, limit int) ([]models.CategoryRow, error) {
	query := fmt.Sprintf(`
		SELECT category, COUNT(*) AS sale_count, SUM(price * quantity) AS revenue
		FROM %s
		WHERE ts >= ? AND ts < ?
		GROUP BY category
		ORDER BY revenue DESC, MIN(rowid) ASC
		LIMIT ?`, s.table)

	rows, err := s.db.QueryContext(ctx, query, window.Start.Unix(), window.End.Unix(), limit)
	if err != nil {
		return nil, classify(err, "fetch by category")
	}
	defer rows.Close()

	out := make([]models.CategoryRow, 0)
	for rows.Next() {
		var (
			r       models.CategoryRow
			count   int64
			revenue any
		)
		if err := rows.Scan(&r.Category, &count, &revenue); err != nil {
			return nil, classify(err, "scan category row")
		}
		if r.Revenue, err = toRevenue(revenue); err != nil {
			return nil, apperrors.SourceQuery(err, fmt.Sprintf("category %q: revenue column", r.Category))
		}
		r.SaleCount = int(count)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate category rows")
	}
	return out, nil
}

func (s *SQLSource) FetchByHour(ctx context.Context, window models.TimeWindow) ([]models.HourlyRow, error) {
	query := fmt.Sprintf(`
		SELECT CAST(strftime('%%H', ts, 'unixepoch') AS INTEGER) AS hour,
		       COUNT(*) AS sale_count, SUM(price * quantity) AS revenue
		FROM %s
		WHERE ts >= ? AND ts < ?
		GROUP BY hour
		ORDER BY hour`, s.table)

	rows, err := s.db.QueryContext(ctx, query, window.Start.Unix(), window.End.Unix())
	if err != nil {
		return nil, classify(err, "fetch by hour")
	}
	defer rows.Close()

	out := make([]models.HourlyRow, 0)
	for rows.Next() {
		var (
			r       models.HourlyRow
			hour    sql.NullInt64
			count   int64
			revenue any
		)
		if err := rows.Scan(&hour, &count, &revenue); err != nil {
			return nil, classify(err, "scan hourly row")
		}
		if !hour.Valid || hour.Int64 < 0 || hour.Int64 > 23 {
			return nil, apperrors.SourceQuery(nil, fmt.Sprintf("hour value %v out of range", hour))
		}
		if r.Revenue, err = toRevenue(revenue); err != nil {
			return nil, apperrors.SourceQuery(err, fmt.Sprintf("hour %d: revenue column", hour.Int64))
		}
		r.Hour = int(hour.Int64)
		r.SaleCount = int(count)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate hourly rows")
	}
	return out, nil
}

func (s *SQLSource) FetchTopProducts(ctx context.Context, window models.TimeWindow, limit int) ([]models.ProductRollup, error) {
	query := fmt.Sprintf(`
		SELECT product_id, product_name, COUNT(*) AS sale_count,
		       SUM(quantity) AS units_sold, SUM(price * quantity) AS revenue
		FROM %s
		WHERE ts >= ? AND ts < ?
		GROUP BY product_id, product_name
		ORDER BY units_sold DESC, MIN(rowid) ASC
		LIMIT ?`, s.table)

	rows, err := s.db.QueryContext(ctx, query, window.Start.Unix(), window.End.Unix(), limit)
	if err != nil {
		return nil, classify(err, "fetch top products")
	}
	defer rows.Close()

	out := make([]models.ProductRollup, 0)
	for rows.Next() {
		var (
			r            models.ProductRollup
			count, units int64
			revenue      any
		)
		if err := rows.Scan(&r.ProductID, &r.ProductName, &count, &units, &revenue); err != nil {
			return nil, classify(err, "scan product row")
		}
		if r.Revenue, err = toRevenue(revenue); err != nil {
			return nil, apperrors.SourceQuery(err, fmt.Sprintf("product %s: revenue column", r.ProductID))
		}
		r.SaleCount = int(count)
		r.UnitsSold = int(units)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate product rows")
	}
	return out, nil
}

// classify maps driver errors onto the source taxonomy: anything that may
// clear up on its own is unavailable, everything else is a query error.
func classify(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return apperrors.SourceUnavailable(err, op)
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN,
			sqlite3.SQLITE_IOERR, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM:
			return apperrors.SourceUnavailable(err, op)
		}
		return apperrors.SourceQuery(err, op)
	}

	if strings.Contains(err.Error(), "database is closed") {
		return apperrors.SourceUnavailable(err, op)
	}
	return apperrors.SourceQuery(err, op)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	case []byte:
		return decimal.NewFromString(strings.TrimSpace(string(x)))
	case nil:
		return decimal.Zero, fmt.Errorf("unexpected NULL")
	default:
		return decimal.Zero, fmt.Errorf("unsupported column type %T", v)
	}
}

// toRevenue converts a SUM() column. SUM over an empty group is NULL.
func toRevenue(v any) (decimal.Decimal, error) {
	if v == nil {
		return decimal.Zero, nil
	}
	d, err := toDecimal(v)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative revenue %s", d)
	}
	return d.Round(revenueScale), nil
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case time.Time:
		return x.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339, x)
		return t.UTC(), err
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}
