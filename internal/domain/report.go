package domain

import "time"

// Statistics is the dashboard summary cached by the statistics sweep.
type Statistics struct {
	TotalBatches       int64   `json:"total_batches"`
	ActiveBatches      int64   `json:"active_batches"`
	ClosedBatches      int64   `json:"closed_batches"`
	TotalProducts      int64   `json:"total_products"`
	AggregatedProducts int64   `json:"aggregated_products"`
	AggregationRate    float64 `json:"aggregation_rate"`
	CachedAt           string  `json:"cached_at"`
}

func NewStatistics(totalBatches, closedBatches, totalProducts, aggregatedProducts int64, now time.Time) Statistics {
	stats := Statistics{
		TotalBatches:       totalBatches,
		ActiveBatches:      totalBatches - closedBatches,
		ClosedBatches:      closedBatches,
		TotalProducts:      totalProducts,
		AggregatedProducts: aggregatedProducts,
		CachedAt:           now.UTC().Format(time.RFC3339),
	}
	if totalProducts > 0 {
		stats.AggregationRate = roundRate(float64(aggregatedProducts) / float64(totalProducts) * 100)
	}
	return stats
}

type BatchReportStats struct {
	TotalProducts   int     `json:"total_products"`
	Aggregated      int     `json:"aggregated"`
	Remaining       int     `json:"remaining"`
	AggregationRate float64 `json:"aggregation_rate"`
}

// BatchReport is the content of a generated batch report.
type BatchReport struct {
	Batch       Batch
	WorkCenter  *WorkCenter
	Products    []Product
	Stats       BatchReportStats
	GeneratedAt time.Time
}

func NewBatchReportStats(products []Product) BatchReportStats {
	stats := BatchReportStats{TotalProducts: len(products)}
	for _, p := range products {
		if p.IsAggregated {
			stats.Aggregated++
		}
	}
	stats.Remaining = stats.TotalProducts - stats.Aggregated
	if stats.TotalProducts > 0 {
		stats.AggregationRate = roundRate(float64(stats.Aggregated) / float64(stats.TotalProducts) * 100)
	}
	return stats
}

func roundRate(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// ImportRowError describes a spreadsheet row that was skipped.
type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportResult struct {
	TotalRows int              `json:"total_rows"`
	Created   int              `json:"created"`
	Skipped   int              `json:"skipped"`
	Errors    []ImportRowError `json:"errors"`
}

type ExportResult struct {
	FileURL      string `json:"file_url"`
	TotalBatches int    `json:"total_batches"`
}

type ReportResult struct {
	FileURL   string    `json:"file_url"`
	FileName  string    `json:"file_name"`
	FileSize  int       `json:"file_size"`
	ExpiresAt time.Time `json:"expires_at"`
}
