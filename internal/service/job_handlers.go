package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/jobs"
	"github.com/kursadbilgin/production-control/internal/observability"
	"go.uber.org/zap"
)

// Registrar is the part of jobs.Runner handlers are bound through.
type Registrar interface {
	Register(kind domain.JobKind, h jobs.HandlerFunc)
}

// JobHandlers binds every job body to its service.
type JobHandlers struct {
	Aggregation *AggregationService
	Import      *ImportService
	Export      *ExportService
	Report      *ReportService
	Sweeps      *SweepService
	SendWebhook jobs.HandlerFunc
	Metrics     *observability.Metrics
}

func (h JobHandlers) Register(r Registrar) error {
	if h.Aggregation == nil || h.Import == nil || h.Export == nil || h.Report == nil || h.Sweeps == nil || h.SendWebhook == nil {
		return fmt.Errorf("every job handler dependency is required")
	}

	r.Register(domain.JobAggregateProducts, h.aggregate)
	r.Register(domain.JobImportBatches, h.importBatches)
	r.Register(domain.JobExportBatches, h.exportBatches)
	r.Register(domain.JobGenerateReport, h.generateReport)
	r.Register(domain.JobSendWebhook, h.SendWebhook)
	r.Register(domain.JobCloseExpiredBatches, h.closeExpiredBatches)
	r.Register(domain.JobCleanupStaleFiles, h.cleanupStaleFiles)
	r.Register(domain.JobRefreshStatistics, h.refreshStatistics)
	r.Register(domain.JobRetryFailedWebhooks, h.retryFailedWebhooks)
	return nil
}

func (h JobHandlers) aggregate(ctx context.Context, task *jobs.Task) (any, error) {
	var args AggregateArgs
	if err := task.Decode(&args); err != nil {
		return nil, err
	}

	result, err := h.Aggregation.Aggregate(ctx, args.BatchID, args.UniqueCodes)
	if err != nil {
		return nil, err
	}
	// The work is already committed; only the progress write can fail here.
	_ = task.ReportProgress(ctx, result.Aggregated, result.Total)
	return result, nil
}

func (h JobHandlers) importBatches(ctx context.Context, task *jobs.Task) (any, error) {
	var args ImportArgs
	if err := task.Decode(&args); err != nil {
		return nil, err
	}
	return h.Import.Import(ctx, args, task.ReportProgress)
}

func (h JobHandlers) exportBatches(ctx context.Context, task *jobs.Task) (any, error) {
	var args ExportArgs
	if err := task.Decode(&args); err != nil {
		return nil, err
	}
	return h.Export.Export(ctx, args)
}

func (h JobHandlers) generateReport(ctx context.Context, task *jobs.Task) (any, error) {
	var args ReportArgs
	if err := task.Decode(&args); err != nil {
		return nil, err
	}
	return h.Report.Generate(ctx, args)
}

func (h JobHandlers) closeExpiredBatches(ctx context.Context, task *jobs.Task) (any, error) {
	result, err := h.Sweeps.CloseExpiredBatches(ctx)
	if err != nil {
		return nil, err
	}
	h.sweepDone(task, result.ClosedCount)
	return result, nil
}

func (h JobHandlers) cleanupStaleFiles(ctx context.Context, task *jobs.Task) (any, error) {
	result, err := h.Sweeps.CleanupStaleFiles(ctx)
	if err != nil {
		return nil, err
	}
	h.sweepDone(task, result.DeletedCount)
	return result, nil
}

func (h JobHandlers) refreshStatistics(ctx context.Context, task *jobs.Task) (any, error) {
	stats, err := h.Sweeps.RefreshStatistics(ctx)
	if err != nil {
		return nil, err
	}
	h.sweepDone(task, 1)
	return stats, nil
}

func (h JobHandlers) retryFailedWebhooks(ctx context.Context, task *jobs.Task) (any, error) {
	result, err := h.Sweeps.RetryFailedWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	h.sweepDone(task, result.RetriedCount+result.RequeuedCount)
	return result, nil
}

func (h JobHandlers) sweepDone(task *jobs.Task, items int) {
	h.Metrics.AddSweepItems(task.Kind().String(), items)
	task.Logger().Info("sweep finished", zap.String("sweep", task.Kind().String()), zap.Int("items", items))
}
