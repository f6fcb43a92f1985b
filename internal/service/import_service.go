package service

import (
	"context"
	"errors"
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
	"gorm.io/gorm"
)

// ImportArgs are the args of an import_batches job.
type ImportArgs struct {
	File   string `json:"file"`
	UserID int64  `json:"userId"`
}

func (a ImportArgs) Validate() error {
	if strings.TrimSpace(a.File) == "" {
		return fmt.Errorf("file is required")
	}
	return nil
}

type importColumn string

const (
	colIsClosed        importColumn = "is_closed"
	colTaskDescription importColumn = "task_description"
	colWorkCenterID    importColumn = "work_center_identifier"
	colWorkCenterName  importColumn = "work_center"
	colShift           importColumn = "shift"
	colTeam            importColumn = "team"
	colBatchNumber     importColumn = "batch_number"
	colBatchDate       importColumn = "batch_date"
	colNomenclature    importColumn = "nomenclature"
	colEKNCode         importColumn = "ekn_code"
	colShiftStart      importColumn = "shift_start"
	colShiftEnd        importColumn = "shift_end"
)

// importAliases lists accepted header names per column. Headers of the legacy 1C export are accepted as well.
var importAliases = []struct {
	column importColumn
	names  []string
}{
	{colIsClosed, []string{"is_closed", "статусзакрытия"}},
	{colTaskDescription, []string{"task_description", "представлениезаданиянасмену"}},
	{colWorkCenterID, []string{"work_center_identifier", "идентификаторрц"}},
	{colWorkCenterName, []string{"work_center", "рабочийцентр"}},
	{colShift, []string{"shift", "смена"}},
	{colTeam, []string{"team", "бригада"}},
	{colBatchNumber, []string{"batch_number", "номерпартии"}},
	{colBatchDate, []string{"batch_date", "датапартии"}},
	{colNomenclature, []string{"nomenclature", "номенклатура"}},
	{colEKNCode, []string{"ekn_code", "кодекн"}},
	{colShiftStart, []string{"shift_start", "датавремяначаласмены"}},
	{colShiftEnd, []string{"shift_end", "датавремяокончаниясмены"}},
}

var importHeaders = buildImportHeaders()

func buildImportHeaders() map[string]importColumn {
	headers := make(map[string]importColumn)
	for _, a := range importAliases {
		for _, name := range a.names {
			headers[name] = a.column
		}
	}
	return headers
}

var requiredImportColumns = []importColumn{
	colWorkCenterID, colShift, colBatchNumber, colBatchDate, colShiftStart, colShiftEnd,
}

var dateLayouts = []string{"2006-01-02", "02.01.2006", "01-02-06", "1/2/06", "2006/01/02"}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"1/2/06 15:04",
	"01-02-06 15:04",
}

// ImportService creates batches from uploaded spreadsheets.
type ImportService struct {
	db       *gorm.DB
	store    storage.ObjectStore
	notifier Notifier
	logger   *zap.Logger
}

func NewImportService(db *gorm.DB, store storage.ObjectStore, notifier Notifier, logger *zap.Logger) (*ImportService, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
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

	return &ImportService{
		db:       db,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// Import reads the file and creates one batch per data row. Each row runs in its own savepoint
// so failing rows are skipped and reported while the rest commit together.
func (s *ImportService) Import(ctx context.Context, args ImportArgs, progress ProgressFunc) (*domain.ImportResult, error) {
	if progress == nil {
		progress = noProgress
	}

	bucket, key, err := storage.ParseLocation(args.File)
	if err != nil {
		return nil, err
	}
	format, err := document.FormatFromKey(key)
	if err != nil {
		return nil, err
	}

	data, err := s.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s/%s: %w", bucket, key, err)
	}
	rows, err := document.ReadRows(data, format)
	if err != nil {
		return nil, err
	}

	var (
		header  map[importColumn]int
		records [][]string
	)
	if len(rows) > 0 {
		header, err = parseImportHeader(rows[0])
		if err != nil {
			return nil, err
		}
		records = dropBlankRows(rows[1:])
	}

	result := &domain.ImportResult{
		TotalRows: len(records),
		Errors:    []domain.ImportRowError{},
	}

	var jobIDs []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, record := range records {
			rowNumber := i + 1
			if err := s.importRow(ctx, tx, rowNumber, header, record); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrConflict) {
					s.logger.Warn("import row failed", zap.Int("row", rowNumber), zap.Error(err))
				}
				result.Skipped++
				result.Errors = append(result.Errors, domain.ImportRowError{Row: rowNumber, Error: err.Error()})
			} else {
				result.Created++
			}

			if err := progress(ctx, rowNumber, result.TotalRows); err != nil {
				return err
			}
		}

		var err error
		jobIDs, err = s.notifier.NotifyTx(ctx, tx, event.ImportCompleted{
			UserID:    args.UserID,
			TotalRows: result.TotalRows,
			Created:   result.Created,
			Skipped:   result.Skipped,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.WithContextLogger(s.logger, ctx).Info("batches imported",
		zap.String("file", bucket.String()+"/"+key),
		zap.Int("totalRows", result.TotalRows),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
	)

	if err := s.notifier.Dispatch(ctx, jobIDs...); err != nil {
		s.logger.Warn("failed to dispatch webhook jobs, scanner will pick them up", zap.Error(err))
	}
	return result, nil
}

func (s *ImportService) importRow(ctx context.Context, tx *gorm.DB, rowNumber int, header map[importColumn]int, record []string) (err error) {
	savepoint := "import_row_" + strconv.Itoa(rowNumber)
	if err := tx.SavePoint(savepoint).Error; err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
	}()

	value := func(c importColumn) string {
		idx, ok := header[c]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	batch, err := parseBatchRow(value)
	if err != nil {
		return err
	}

	name := value(colWorkCenterName)
	if name == "" {
		name = value(colWorkCenterID)
	}
	workCenter, err := repository.NewGormWorkCenterRepo(tx).GetOrCreate(ctx, value(colWorkCenterID), name)
	if err != nil {
		return fmt.Errorf("work center %q: %w", value(colWorkCenterID), err)
	}
	batch.WorkCenterID = workCenter.ID
	if err := batch.Validate(); err != nil {
		return err
	}

	batches := repository.NewGormBatchRepo(tx)
	exists, err := batches.ExistsByNumberAndDate(ctx, batch.BatchNumber, batch.BatchDate)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: batch %d for %s already exists", domain.ErrConflict, batch.BatchNumber, batch.BatchDate.Format("2006-01-02"))
	}
	return batches.Create(ctx, batch)
}

func parseBatchRow(value func(importColumn) string) (*domain.Batch, error) {
	if value(colWorkCenterID) == "" {
		return nil, fmt.Errorf("%w: work center identifier is required", domain.ErrValidation)
	}

	number, err := parseBatchNumber(value(colBatchNumber))
	if err != nil {
		return nil, err
	}
	batchDate, err := parseTime(value(colBatchDate), dateLayouts)
	if err != nil {
		return nil, fmt.Errorf("%w: batch_date: %v", domain.ErrValidation, err)
	}
	shiftStart, err := parseTime(value(colShiftStart), dateTimeLayouts)
	if err != nil {
		return nil, fmt.Errorf("%w: shift_start: %v", domain.ErrValidation, err)
	}
	shiftEnd, err := parseTime(value(colShiftEnd), dateTimeLayouts)
	if err != nil {
		return nil, fmt.Errorf("%w: shift_end: %v", domain.ErrValidation, err)
	}

	batch := &domain.Batch{
		TaskDescription: value(colTaskDescription),
		Shift:           value(colShift),
		Team:            value(colTeam),
		BatchNumber:     number,
		BatchDate:       batchDate,
		Nomenclature:    value(colNomenclature),
		EKNCode:         value(colEKNCode),
		ShiftStart:      shiftStart,
		ShiftEnd:        shiftEnd,
	}
	if parseBool(value(colIsClosed)) {
		batch.Close(shiftEnd)
	}
	return batch, nil
}

func parseImportHeader(row []string) (map[importColumn]int, error) {
	header := make(map[importColumn]int, len(row))
	for i, name := range row {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if c, ok := importHeaders[key]; ok {
			if _, dup := header[c]; !dup {
				header[c] = i
			}
		}
	}

	var missing []string
	for _, c := range requiredImportColumns {
		if _, ok := header[c]; !ok {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns: %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return header, nil
}

func dropBlankRows(rows [][]string) [][]string {
	out := rows[:0:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func parseBatchNumber(s string) (int, error) {
	// Spreadsheets may render integers as "12.0".
	s = strings.TrimSuffix(s, ".0")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: batch_number %q is not a positive integer", domain.ErrValidation, s)
	}
	return n, nil
}

func parseTime(s string, layouts []string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("value is required")
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "да", "истина", "closed", "закрыта":
		return true
	}
	return false
}
