// Package source reads windowed sales data from the external record store.
package source

import (
	"context"
	"fmt"

	"sales-insight/internal/config"
	"sales-insight/internal/models"
)

// Source answers the read-only queries a pipeline run needs. Every call is
// side-effect free and may run concurrently with the others.
type Source interface {
	FetchWindow(ctx context.Context, window models.TimeWindow) ([]models.SalesRecord, error)
	FetchByCategory(ctx context.Context, window models.TimeWindow, limit int) ([]models.CategoryRow, error)
	FetchByHour(ctx context.Context, window models.TimeWindow) ([]models.HourlyRow, error)
	FetchTopProducts(ctx context.Context, window models.TimeWindow, limit int) ([]models.ProductRollup, error)
	Close() error
}

// Open builds the source selected by cfg.Driver.
func Open(cfg config.SourceConfig) (Source, error) {
	switch cfg.Driver {
	case "sqlite":
		return OpenSQL(cfg.DSN, cfg.Table)
	case "csv":
		return NewCSVSource(cfg.CSVFile), nil
	default:
		return nil, fmt.Errorf("unknown source driver %q", cfg.Driver)
	}
}
