package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/production-control/internal/document"
	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/event"
	"github.com/kursadbilgin/production-control/internal/observability"
	"github.com/kursadbilgin/production-control/internal/repository"
	"github.com/kursadbilgin/production-control/internal/storage"
	"go.uber.org/zap"
)

const (
	reportTTL          = 7 * 24 * time.Hour
	reportTimeLayout   = "2006-01-02 15:04:05"
	reportDateLayout   = "2006-01-02"
	missingValueMarker = "-"
)

// ReportArgs are the args of a generate_report job.
type ReportArgs struct {
	BatchID   int64  `json:"batchId"`
	Format    string `json:"format"`
	UserEmail string `json:"userEmail,omitempty"`
}

func (a ReportArgs) Validate() error {
	if a.BatchID <= 0 {
		return fmt.Errorf("batchId must be positive")
	}
	_, err := a.format()
	return err
}

func (a ReportArgs) format() (document.Format, error) {
	if a.Format == "" {
		return document.FormatExcel, nil
	}
	return document.ParseFormat(a.Format, document.FormatExcel, document.FormatPDF)
}

// ReportService renders batch reports into the reports bucket.
type ReportService struct {
	batches     repository.BatchRepository
	workCenters repository.WorkCenterRepository
	products    repository.ProductRepository
	store       storage.ObjectStore
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time
}

func NewReportService(
	batches repository.BatchRepository,
	workCenters repository.WorkCenterRepository,
	products repository.ProductRepository,
	store storage.ObjectStore,
	notifier Notifier,
	logger *zap.Logger,
) (*ReportService, error) {
	if batches == nil || workCenters == nil || products == nil {
		return nil, fmt.Errorf("batch, work center and product repositories are required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReportService{
		batches:     batches,
		workCenters: workCenters,
		products:    products,
		store:       store,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *ReportService) Generate(ctx context.Context, args ReportArgs) (*domain.ReportResult, error) {
	format, err := args.format()
	if err != nil {
		return nil, err
	}

	report, err := s.load(ctx, args.BatchID)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch format {
	case document.FormatPDF:
		data, err = renderReportPDF(report)
	default:
		data, err = renderReportExcel(report)
	}
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("batch_%d_report_%s.%s", args.BatchID, report.GeneratedAt.Format(fileStampLayout), format.Extension())
	fileURL, err := s.store.Put(ctx, storage.BucketReports, key, data, storage.ContentTypeForKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to upload report: %w", err)
	}

	result := &domain.ReportResult{
		FileURL:   fileURL,
		FileName:  key,
		FileSize:  len(data),
		ExpiresAt: report.GeneratedAt.Add(reportTTL),
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(zap.Int64("batchId", args.BatchID))
	if err := s.notifier.Notify(ctx, event.ReportGenerated{
		BatchID:    args.BatchID,
		ReportType: string(format),
		FileURL:    result.FileURL,
		FileName:   result.FileName,
		FileSize:   result.FileSize,
		ExpiresAt:  event.FormatTimestamp(result.ExpiresAt),
	}); err != nil {
		return nil, fmt.Errorf("failed to record report event: %w", err)
	}

	logger.Info("report generated", zap.String("key", key), zap.Int("size", result.FileSize))
	if args.UserEmail != "" {
		logger.Info("report ready for user", zap.String("email", args.UserEmail), zap.String("fileUrl", fileURL))
	}
	return result, nil
}

func (s *ReportService) load(ctx context.Context, batchID int64) (*domain.BatchReport, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", batchID, err)
	}

	report := &domain.BatchReport{Batch: *batch, GeneratedAt: s.now().UTC()}
	if wc, err := s.workCenters.GetByID(ctx, batch.WorkCenterID); err == nil {
		report.WorkCenter = wc
	}

	report.Products, err = s.products.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	report.Stats = domain.NewBatchReportStats(report.Products)
	return report, nil
}

func batchInfoFields(r *domain.BatchReport) []document.Field {
	workCenter := ""
	if r.WorkCenter != nil {
		workCenter = r.WorkCenter.Name
	}
	return []document.Field{
		{Label: "Batch number", Value: strconv.Itoa(r.Batch.BatchNumber)},
		{Label: "Batch date", Value: r.Batch.BatchDate.Format(reportDateLayout)},
		{Label: "Status", Value: batchStatus(r.Batch)},
		{Label: "Work center", Value: workCenter},
		{Label: "Shift", Value: r.Batch.Shift},
		{Label: "Team", Value: r.Batch.Team},
		{Label: "Nomenclature", Value: r.Batch.Nomenclature},
		{Label: "EKN code", Value: r.Batch.EKNCode},
		{Label: "Shift start", Value: r.Batch.ShiftStart.Format(reportTimeLayout)},
		{Label: "Shift end", Value: r.Batch.ShiftEnd.Format(reportTimeLayout)},
	}
}

func statsFields(stats domain.BatchReportStats) []document.Field {
	return []document.Field{
		{Label: "Total products", Value: strconv.Itoa(stats.TotalProducts)},
		{Label: "Aggregated", Value: strconv.Itoa(stats.Aggregated)},
		{Label: "Remaining", Value: strconv.Itoa(stats.Remaining)},
		{Label: "Aggregation rate", Value: fmt.Sprintf("%.2f%%", stats.AggregationRate)},
	}
}

func productRow(p domain.Product) []string {
	aggregated, at := "no", missingValueMarker
	if p.IsAggregated {
		aggregated = "yes"
	}
	if p.AggregatedAt != nil {
		at = p.AggregatedAt.UTC().Format(reportTimeLayout)
	}
	return []string{strconv.FormatInt(p.ID, 10), p.UniqueCode, aggregated, at}
}

var productColumns = []string{"ID", "Unique code", "Aggregated", "Aggregated at"}

func renderReportExcel(r *domain.BatchReport) ([]byte, error) {
	info := fieldRows(batchInfoFields(r))
	stats := fieldRows(statsFields(r.Stats))

	products := make([][]any, 0, len(r.Products)+1)
	products = append(products, stringsToCells(productColumns))
	for _, p := range r.Products {
		products = append(products, stringsToCells(productRow(p)))
	}

	return document.WriteExcel(
		document.Sheet{Name: "Batch", Rows: info},
		document.Sheet{Name: "Products", Rows: products},
		document.Sheet{Name: "Statistics", Rows: stats},
	)
}

func renderReportPDF(r *domain.BatchReport) ([]byte, error) {
	table := &document.Table{Heading: "Products", Columns: productColumns}
	for _, p := range r.Products {
		table.Rows = append(table.Rows, productRow(p))
	}

	return document.PDF{
		Title: "Batch report",
		Sections: []document.Section{
			{Fields: batchInfoFields(r)[:7]},
			{Heading: "Statistics", Fields: statsFields(r.Stats)},
		},
		Table: table,
	}.Render()
}

func fieldRows(fields []document.Field) [][]any {
	rows := make([][]any, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, []any{strings.TrimSpace(f.Label) + ":", f.Value})
	}
	return rows
}

func stringsToCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
