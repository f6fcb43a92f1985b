package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kursadbilgin/production-control/internal/document"
	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/observability"
	"github.com/kursadbilgin/production-control/internal/repository"
	"github.com/kursadbilgin/production-control/internal/storage"
	"go.uber.org/zap"
)

const (
	maxExportBatches = 10000
	fileStampLayout  = "20060102_150405"
)

var exportHeader = []string{
	"batch_number", "batch_date", "status", "work_center", "shift", "team", "nomenclature", "ekn_code",
}

type ExportFilters struct {
	IsClosed     *bool   `json:"isClosed,omitempty"`
	BatchDate    *string `json:"batchDate,omitempty"`
	WorkCenterID *int64  `json:"workCenterId,omitempty"`
	Shift        *string `json:"shift,omitempty"`
}

// ExportArgs are the args of an export_batches job.
type ExportArgs struct {
	Filters ExportFilters `json:"filters"`
	Format  string        `json:"format"`
}

func (a ExportArgs) Validate() error {
	if _, err := a.format(); err != nil {
		return err
	}
	_, err := a.Filters.toDomain()
	return err
}

func (a ExportArgs) format() (document.Format, error) {
	if a.Format == "" {
		return document.FormatExcel, nil
	}
	return document.ParseFormat(a.Format, document.FormatExcel, document.FormatCSV)
}

func (f ExportFilters) toDomain() (domain.BatchFilter, error) {
	filter := domain.BatchFilter{
		IsClosed:     f.IsClosed,
		WorkCenterID: f.WorkCenterID,
		Shift:        f.Shift,
	}
	if f.BatchDate != nil {
		date, err := time.Parse("2006-01-02", *f.BatchDate)
		if err != nil {
			return domain.BatchFilter{}, fmt.Errorf("%w: batchDate must be YYYY-MM-DD", domain.ErrValidation)
		}
		filter.BatchDate = &date
	}
	return filter, nil
}

// ExportService writes filtered batch listings to the exports bucket.
type ExportService struct {
	batches     repository.BatchRepository
	workCenters repository.WorkCenterRepository
	store       storage.ObjectStore
	logger      *zap.Logger
	now         func() time.Time
}

func NewExportService(
	batches repository.BatchRepository,
	workCenters repository.WorkCenterRepository,
	store storage.ObjectStore,
	logger *zap.Logger,
) (*ExportService, error) {
	if batches == nil || workCenters == nil {
		return nil, fmt.Errorf("batch and work center repositories are required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExportService{
		batches:     batches,
		workCenters: workCenters,
		store:       store,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *ExportService) Export(ctx context.Context, args ExportArgs) (*domain.ExportResult, error) {
	format, err := args.format()
	if err != nil {
		return nil, err
	}
	filter, err := args.Filters.toDomain()
	if err != nil {
		return nil, err
	}

	batches, err := s.batches.List(ctx, filter, maxExportBatches)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	names := make(map[int64]string)
	rows := make([][]string, 0, len(batches)+1)
	rows = append(rows, exportHeader)
	for _, b := range batches {
		name, ok := names[b.WorkCenterID]
		if !ok {
			if wc, err := s.workCenters.GetByID(ctx, b.WorkCenterID); err == nil {
				name = wc.Name
			}
			names[b.WorkCenterID] = name
		}
		rows = append(rows, []string{
			strconv.Itoa(b.BatchNumber),
			b.BatchDate.Format("2006-01-02"),
			batchStatus(b),
			name,
			b.Shift,
			b.Team,
			b.Nomenclature,
			b.EKNCode,
		})
	}

	var data []byte
	switch format {
	case document.FormatCSV:
		data, err = document.WriteCSV(rows)
	default:
		data, err = document.WriteExcel(document.Sheet{Name: "Batches", Rows: toCells(rows)})
	}
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("batches_export_%s.%s", s.now().UTC().Format(fileStampLayout), format.Extension())
	fileURL, err := s.store.Put(ctx, storage.BucketExports, key, data, storage.ContentTypeForKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("batches exported",
		zap.String("key", key),
		zap.Int("totalBatches", len(batches)),
	)
	return &domain.ExportResult{FileURL: fileURL, TotalBatches: len(batches)}, nil
}

func batchStatus(b domain.Batch) string {
	if b.IsClosed {
		return "closed"
	}
	return "open"
}

func toCells(rows [][]string) [][]any {
	cells := make([][]any, len(rows))
	for i, row := range rows {
		cells[i] = stringsToCells(row)
	}
	return cells
}
