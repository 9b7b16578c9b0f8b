package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type WindowStats struct {
	RecordCount  int             `json:"record_count"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	Window       TimeWindow      `json:"window"`
}

// CategoryBreakdown holds the top categories by revenue. TopCategory is nil
// when Data is empty.
type CategoryBreakdown struct {
	Data               []CategoryRow   `json:"data"`
	TopCategory        *string         `json:"top_category"`
	TopCategoryRevenue decimal.Decimal `json:"top_category_revenue"`
}

type HourlyTrend struct {
	Data        []HourlyRow       `json:"data"`
	PeakHour    int               `json:"peak_hour"`
	SlowestHour int               `json:"slowest_hour"`
	Series      []decimal.Decimal `json:"hourly_trend"`
}

// Statistics is everything one run derives from its window.
type Statistics struct {
	WindowStats       WindowStats       `json:"window_stats"`
	CategoryBreakdown CategoryBreakdown `json:"category_breakdown"`
	HourlyTrend       HourlyTrend       `json:"hourly_trend"`
	TopProducts       []ProductRollup   `json:"top_products"`
}

// Snapshot is the document read by the visualization layer.
type Snapshot struct {
	LastUpdated       time.Time         `json:"last_updated"`
	ReportID          string            `json:"report_id"`
	WindowStats       WindowStats       `json:"window_stats"`
	CategoryBreakdown CategoryBreakdown `json:"category_breakdown"`
	HourlyTrend       HourlyTrend       `json:"hourly_trend"`
	TopProducts       []ProductRollup   `json:"top_products"`
	Narrative         string            `json:"narrative"`
}

// SnapshotUpdate carries the fields a successful run overlays onto the
// current snapshot.
type SnapshotUpdate struct {
	Statistics Statistics
	Narrative  string
}

type HistoryEntry struct {
	Timestamp         time.Time         `json:"timestamp"`
	RunID             string            `json:"run_id"`
	WindowStats       WindowStats       `json:"window_stats"`
	CategoryBreakdown CategoryBreakdown `json:"category_breakdown"`
	HourlyTrend       HourlyTrend       `json:"hourly_trend"`
	TopProducts       []ProductRollup   `json:"top_products"`
	Narrative         string            `json:"narrative"`
}

// EmptyStatistics is the zero-record result: zero totals, no categories,
// no hourly data and peak/slowest hour 0.
func EmptyStatistics(window TimeWindow) Statistics {
	return Statistics{
		WindowStats: WindowStats{
			TotalRevenue: decimal.Zero,
			Window:       window,
		},
		CategoryBreakdown: CategoryBreakdown{
			Data:               []CategoryRow{},
			TopCategoryRevenue: decimal.Zero,
		},
		HourlyTrend: HourlyTrend{
			Data:   []HourlyRow{},
			Series: []decimal.Decimal{},
		},
		TopProducts: []ProductRollup{},
	}
}

// DefaultSnapshot is returned before the first successful run.
func DefaultSnapshot(reportID string) Snapshot {
	stats := EmptyStatistics(TimeWindow{})
	return Snapshot{
		LastUpdated:       time.Unix(0, 0).UTC(),
		ReportID:          reportID,
		WindowStats:       stats.WindowStats,
		CategoryBreakdown: stats.CategoryBreakdown,
		HourlyTrend:       stats.HourlyTrend,
		TopProducts:       stats.TopProducts,
	}
}

func (s Snapshot) Statistics() Statistics {
	return Statistics{
		WindowStats:       s.WindowStats,
		CategoryBreakdown: s.CategoryBreakdown,
		HourlyTrend:       s.HourlyTrend,
		TopProducts:       s.TopProducts,
	}
}

// Apply overlays the update and stamps the snapshot with now.
func (s Snapshot) Apply(u SnapshotUpdate, now time.Time) Snapshot {
	s.LastUpdated = now.UTC()
	s.WindowStats = u.Statistics.WindowStats
	s.CategoryBreakdown = u.Statistics.CategoryBreakdown
	s.HourlyTrend = u.Statistics.HourlyTrend
	s.TopProducts = u.Statistics.TopProducts
	s.Narrative = u.Narrative
	return s
}
