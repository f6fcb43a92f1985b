package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/production-control/internal/document"
	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/kursadbilgin/production-control/internal/event"
	"github.com/kursadbilgin/production-control/internal/repository"
	"github.com/kursadbilgin/production-control/internal/repository/repotest"
	"github.com/kursadbilgin/production-control/internal/storage"
	"github.com/kursadbilgin/production-control/internal/storage/storagetest"
)

func importSheet(t *testing.T, rows ...[]any) []byte {
	t.Helper()

	header := []any{
		"work_center_identifier", "work_center", "shift", "team", "batch_number",
		"batch_date", "shift_start", "shift_end", "nomenclature", "is_closed",
	}
	data, err := document.WriteExcel(document.Sheet{Name: "Sheet1", Rows: append([][]any{header}, rows...)})
	if err != nil {
		t.Fatalf("WriteExcel() error = %v", err)
	}
	return data
}

func TestImportServiceSkipsBadRows(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	store := storagetest.NewMemoryStore()
	store.PutAt(storage.BucketImports, "batches.xlsx", importSheet(t,
		[]any{"WC-1", "Line 1", "day", "A", "12", "2026-03-01", "2026-03-01 08:00:00", "2026-03-01 20:00:00", "Widget", ""},
		[]any{"WC-1", "Line 1", "day", "A", "abc", "2026-03-01", "2026-03-01 08:00:00", "2026-03-01 20:00:00", "Widget", ""},
		[]any{"", "", "", "", "", "", "", "", "", ""},
		[]any{"WC-1", "Line 1", "day", "A", "12", "2026-03-01", "2026-03-01 08:00:00", "2026-03-01 20:00:00", "Widget", ""},
	), time.Now())

	notifier := &fakeNotifier{}
	svc, err := NewImportService(db, store, notifier, nil)
	if err != nil {
		t.Fatalf("NewImportService() error = %v", err)
	}

	var progress [][2]int
	result, err := svc.Import(context.Background(), ImportArgs{File: "imports/batches.xlsx", UserID: 7},
		func(_ context.Context, current, total int) error {
			progress = append(progress, [2]int{current, total})
			return nil
		})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if result.TotalRows != 3 || result.Created != 1 || result.Skipped != 2 {
		t.Fatalf("Import() = %+v, want 3 rows, 1 created, 2 skipped", result)
	}
	if len(result.Errors) != 2 || result.Errors[0].Row != 2 || result.Errors[1].Row != 3 {
		t.Fatalf("Errors = %+v, want rows 2 and 3", result.Errors)
	}
	if len(progress) != 3 || progress[2] != [2]int{3, 3} {
		t.Fatalf("progress = %v", progress)
	}

	events := notifier.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if ev, ok := events[0].(event.ImportCompleted); !ok || ev.UserID != 7 || ev.Created != 1 || ev.Skipped != 2 {
		t.Fatalf("event = %+v", events[0])
	}

	batches, err := repository.NewGormBatchRepo(db).List(context.Background(), domain.BatchFilter{}, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(batches) != 1 || batches[0].BatchNumber != 12 || batches[0].IsClosed {
		t.Fatalf("batches = %+v, want open batch 12", batches)
	}
}

func TestImportServiceAcceptsLegacyHeaders(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	store := storagetest.NewMemoryStore()
	csv := "\ufeffИдентификаторРЦ,Смена,НомерПартии,ДатаПартии,ДатаВремяНачалаСмены,ДатаВремяОкончанияСмены,СтатусЗакрытия\n" +
		"WC-9,night,5.0,01.03.2026,01.03.2026 20:00,02.03.2026 08:00,да\n"
	store.PutAt(storage.BucketImports, "legacy.csv", []byte(csv), time.Now())

	svc, err := NewImportService(db, store, &fakeNotifier{}, nil)
	if err != nil {
		t.Fatalf("NewImportService() error = %v", err)
	}

	result, err := svc.Import(context.Background(), ImportArgs{File: "legacy.csv"}, nil)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if result.Created != 1 || result.Skipped != 0 {
		t.Fatalf("Import() = %+v", result)
	}

	batches, err := repository.NewGormBatchRepo(db).List(context.Background(), domain.BatchFilter{}, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	b := batches[0]
	wantEnd := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if b.BatchNumber != 5 || !b.IsClosed || b.ClosedAt == nil || !b.ClosedAt.Equal(wantEnd) {
		t.Fatalf("batch = %+v, want closed batch 5 at shift end", b)
	}

	wc, err := repository.NewGormWorkCenterRepo(db).GetByID(context.Background(), b.WorkCenterID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if wc.Identifier != "WC-9" || wc.Name != "WC-9" {
		t.Fatalf("work center = %+v", wc)
	}
}

func TestImportServiceRejectsUnreadableInput(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	store := storagetest.NewMemoryStore()
	store.PutAt(storage.BucketImports, "partial.csv", []byte("shift,batch_number\nday,1\n"), time.Now())
	store.PutAt(storage.BucketImports, "notes.txt", []byte("hello"), time.Now())

	svc, err := NewImportService(db, store, &fakeNotifier{}, nil)
	if err != nil {
		t.Fatalf("NewImportService() error = %v", err)
	}

	tests := []struct {
		name string
		file string
		want error
	}{
		{name: "missing columns", file: "imports/partial.csv", want: domain.ErrValidation},
		{name: "unsupported type", file: "imports/notes.txt", want: domain.ErrValidation},
		{name: "missing file", file: "imports/absent.xlsx", want: domain.ErrNotFound},
		{name: "empty location", file: "", want: domain.ErrValidation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Import(context.Background(), ImportArgs{File: tc.file}, nil); !errors.Is(err, tc.want) {
				t.Fatalf("Import() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestImportServiceProgressErrorAborts(t *testing.T) {
	t.Parallel()

	db := repotest.NewDB(t)
	store := storagetest.NewMemoryStore()
	store.PutAt(storage.BucketImports, "batches.xlsx", importSheet(t,
		[]any{"WC-1", "Line 1", "day", "A", "1", "2026-03-01", "2026-03-01 08:00:00", "2026-03-01 20:00:00", "Widget", ""},
	), time.Now())

	notifier := &fakeNotifier{}
	svc, err := NewImportService(db, store, notifier, nil)
	if err != nil {
		t.Fatalf("NewImportService() error = %v", err)
	}

	stop := errors.New("soft limit")
	_, err = svc.Import(context.Background(), ImportArgs{File: "imports/batches.xlsx"},
		func(context.Context, int, int) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("Import() error = %v, want progress error", err)
	}

	batches, err := repository.NewGormBatchRepo(db).List(context.Background(), domain.BatchFilter{}, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(batches) != 0 || len(notifier.Events()) != 0 {
		t.Fatalf("batches = %d, events = %d, want rollback", len(batches), len(notifier.Events()))
	}
}

func TestParseBatchNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "12", want: 12},
		{in: "12.0", want: 12},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "12.5", wantErr: true},
	}

	for _, tc := range tests {
		got, err := parseBatchNumber(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("parseBatchNumber(%q) = %d, %v", tc.in, got, err)
		}
	}
}
