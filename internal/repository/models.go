package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
	"gorm.io/datatypes"
)

// WorkCenterModel is the persistence model for work_centers.
type WorkCenterModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Identifier string `gorm:"type:varchar(100);not null;uniqueIndex"`
	Name       string `gorm:"type:varchar(255);not null"`
	CreatedAt  time.Time
}

func (WorkCenterModel) TableName() string {
	return "work_centers"
}

// BatchModel is the persistence model for batches.
type BatchModel struct {
	ID              int64      `gorm:"primaryKey;autoIncrement"`
	IsClosed        bool       `gorm:"not null;default:false;index"`
	ClosedAt        *time.Time
	TaskDescription string     `gorm:"type:text;not null;default:''"`
	WorkCenterID    int64      `gorm:"not null;index"`
	Shift           string     `gorm:"type:varchar(50);not null"`
	Team            string     `gorm:"type:varchar(100);not null;default:''"`
	BatchNumber     int        `gorm:"not null;uniqueIndex:idx_batches_number_date"`
	BatchDate       time.Time  `gorm:"type:date;not null;uniqueIndex:idx_batches_number_date"`
	Nomenclature    string     `gorm:"type:varchar(255);not null;default:''"`
	EKNCode         string     `gorm:"column:ekn_code;type:varchar(100);not null;default:''"`
	ShiftStart      time.Time  `gorm:"not null"`
	ShiftEnd        time.Time  `gorm:"not null;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// ProductModel is the persistence model for products.
type ProductModel struct {
	ID           int64      `gorm:"primaryKey;autoIncrement"`
	UniqueCode   string     `gorm:"type:varchar(255);not null;uniqueIndex"`
	BatchID      int64      `gorm:"not null;index"`
	IsAggregated bool       `gorm:"not null;default:false"`
	AggregatedAt *time.Time
	CreatedAt    time.Time
}

func (ProductModel) TableName() string {
	return "products"
}

// WebhookSubscriptionModel is the persistence model for webhook_subscriptions.
type WebhookSubscriptionModel struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	URL        string         `gorm:"type:varchar(2048);not null"`
	Events     datatypes.JSON `gorm:"type:json;not null"`
	SecretKey  string         `gorm:"type:varchar(255);not null"`
	IsActive   bool           `gorm:"not null"`
	RetryCount int            `gorm:"not null;default:3"`
	Timeout    int            `gorm:"not null;default:10"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (WebhookSubscriptionModel) TableName() string {
	return "webhook_subscriptions"
}

// WebhookDeliveryModel is the persistence model for webhook_deliveries.
// Payload is stored as json (not jsonb) so the signed bytes are preserved.
type WebhookDeliveryModel struct {
	ID             int64                 `gorm:"primaryKey;autoIncrement"`
	SubscriptionID int64                 `gorm:"not null;index"`
	EventType      domain.EventType      `gorm:"type:varchar(50);not null"`
	Payload        datatypes.JSON        `gorm:"type:json;not null"`
	Status         domain.DeliveryStatus `gorm:"type:varchar(20);not null;index"`
	Attempts       int                   `gorm:"not null;default:0"`
	ResponseStatus *int
	ResponseBody   *string    `gorm:"type:text"`
	ErrorMessage   *string    `gorm:"type:text"`
	CreatedAt      time.Time  `gorm:"index"`
	DeliveredAt    *time.Time
	UpdatedAt      time.Time
}

func (WebhookDeliveryModel) TableName() string {
	return "webhook_deliveries"
}

// JobModel is the persistence model for jobs.
type JobModel struct {
	ID           string           `gorm:"type:uuid;primaryKey"`
	Kind         domain.JobKind   `gorm:"type:varchar(50);not null"`
	Args         datatypes.JSON   `gorm:"type:jsonb"`
	Status       domain.JobStatus `gorm:"type:varchar(20);not null"`
	Attempts     int              `gorm:"not null;default:0"`
	MaxAttempts  int              `gorm:"not null;default:1"`
	NextRunAt    time.Time        `gorm:"not null"`
	DispatchedAt *time.Time
	StartedAt    *time.Time
	HeartbeatAt  *time.Time
	FinishedAt   *time.Time
	Progress     datatypes.JSON   `gorm:"type:jsonb"`
	Result       datatypes.JSON   `gorm:"type:jsonb"`
	Error        *string          `gorm:"type:text"`
	DedupeKey    *string          `gorm:"type:varchar(100)"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (JobModel) TableName() string {
	return "jobs"
}

func workCenterModelToDomain(m *WorkCenterModel) *domain.WorkCenter {
	if m == nil {
		return nil
	}

	return &domain.WorkCenter{
		ID:         m.ID,
		Identifier: m.Identifier,
		Name:       m.Name,
		CreatedAt:  m.CreatedAt,
	}
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:              b.ID,
		IsClosed:        b.IsClosed,
		ClosedAt:        b.ClosedAt,
		TaskDescription: b.TaskDescription,
		WorkCenterID:    b.WorkCenterID,
		Shift:           b.Shift,
		Team:            b.Team,
		BatchNumber:     b.BatchNumber,
		BatchDate:       b.BatchDate,
		Nomenclature:    b.Nomenclature,
		EKNCode:         b.EKNCode,
		ShiftStart:      b.ShiftStart,
		ShiftEnd:        b.ShiftEnd,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:              m.ID,
		IsClosed:        m.IsClosed,
		ClosedAt:        m.ClosedAt,
		TaskDescription: m.TaskDescription,
		WorkCenterID:    m.WorkCenterID,
		Shift:           m.Shift,
		Team:            m.Team,
		BatchNumber:     m.BatchNumber,
		BatchDate:       m.BatchDate,
		Nomenclature:    m.Nomenclature,
		EKNCode:         m.EKNCode,
		ShiftStart:      m.ShiftStart,
		ShiftEnd:        m.ShiftEnd,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func productModelFromDomain(p *domain.Product) *ProductModel {
	if p == nil {
		return nil
	}

	return &ProductModel{
		ID:           p.ID,
		UniqueCode:   p.UniqueCode,
		BatchID:      p.BatchID,
		IsAggregated: p.IsAggregated,
		AggregatedAt: p.AggregatedAt,
		CreatedAt:    p.CreatedAt,
	}
}

func productModelToDomain(m *ProductModel) *domain.Product {
	if m == nil {
		return nil
	}

	return &domain.Product{
		ID:           m.ID,
		UniqueCode:   m.UniqueCode,
		BatchID:      m.BatchID,
		IsAggregated: m.IsAggregated,
		AggregatedAt: m.AggregatedAt,
		CreatedAt:    m.CreatedAt,
	}
}

func subscriptionModelFromDomain(s *domain.WebhookSubscription) (*WebhookSubscriptionModel, error) {
	if s == nil {
		return nil, nil
	}

	events := s.Events
	if events == nil {
		events = []domain.EventType{}
	}
	encoded, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}

	return &WebhookSubscriptionModel{
		ID:         s.ID,
		URL:        s.URL,
		Events:     datatypes.JSON(encoded),
		SecretKey:  s.SecretKey,
		IsActive:   s.IsActive,
		RetryCount: s.RetryCount,
		Timeout:    s.Timeout,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}, nil
}

func subscriptionModelToDomain(m *WebhookSubscriptionModel) (*domain.WebhookSubscription, error) {
	if m == nil {
		return nil, nil
	}

	var events []domain.EventType
	if len(m.Events) > 0 {
		if err := json.Unmarshal(m.Events, &events); err != nil {
			return nil, err
		}
	}

	return &domain.WebhookSubscription{
		ID:         m.ID,
		URL:        m.URL,
		Events:     events,
		SecretKey:  m.SecretKey,
		IsActive:   m.IsActive,
		RetryCount: m.RetryCount,
		Timeout:    m.Timeout,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

func deliveryModelFromDomain(d *domain.WebhookDelivery) *WebhookDeliveryModel {
	if d == nil {
		return nil
	}

	return &WebhookDeliveryModel{
		ID:             d.ID,
		SubscriptionID: d.SubscriptionID,
		EventType:      d.EventType,
		Payload:        datatypes.JSON(d.Payload),
		Status:         d.Status,
		Attempts:       d.Attempts,
		ResponseStatus: d.ResponseStatus,
		ResponseBody:   d.ResponseBody,
		ErrorMessage:   d.ErrorMessage,
		CreatedAt:      d.CreatedAt,
		DeliveredAt:    d.DeliveredAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func deliveryModelToDomain(m *WebhookDeliveryModel) *domain.WebhookDelivery {
	if m == nil {
		return nil
	}

	return &domain.WebhookDelivery{
		ID:             m.ID,
		SubscriptionID: m.SubscriptionID,
		EventType:      m.EventType,
		Payload:        []byte(m.Payload),
		Status:         m.Status,
		Attempts:       m.Attempts,
		ResponseStatus: m.ResponseStatus,
		ResponseBody:   m.ResponseBody,
		ErrorMessage:   m.ErrorMessage,
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func jobModelFromDomain(j *domain.Job) (*JobModel, error) {
	if j == nil {
		return nil, nil
	}

	model := &JobModel{
		ID:           j.ID,
		Kind:         j.Kind,
		Args:         datatypes.JSON(j.Args),
		Status:       j.Status,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		NextRunAt:    j.NextRunAt,
		DispatchedAt: j.DispatchedAt,
		StartedAt:    j.StartedAt,
		HeartbeatAt:  j.HeartbeatAt,
		FinishedAt:   j.FinishedAt,
		Result:       datatypes.JSON(j.Result),
		Error:        j.Error,
		DedupeKey:    j.DedupeKey,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if j.Progress != nil {
		encoded, err := json.Marshal(j.Progress)
		if err != nil {
			return nil, err
		}
		model.Progress = datatypes.JSON(encoded)
	}

	return model, nil
}

func jobModelToDomain(m *JobModel) (*domain.Job, error) {
	if m == nil {
		return nil, nil
	}

	job := &domain.Job{
		ID:           m.ID,
		Kind:         m.Kind,
		Args:         json.RawMessage(m.Args),
		Status:       m.Status,
		Attempts:     m.Attempts,
		MaxAttempts:  m.MaxAttempts,
		NextRunAt:    m.NextRunAt,
		DispatchedAt: m.DispatchedAt,
		StartedAt:    m.StartedAt,
		HeartbeatAt:  m.HeartbeatAt,
		FinishedAt:   m.FinishedAt,
		Result:       json.RawMessage(m.Result),
		Error:        m.Error,
		DedupeKey:    m.DedupeKey,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if len(m.Progress) > 0 {
		var progress domain.JobProgress
		if err := json.Unmarshal(m.Progress, &progress); err != nil {
			return nil, err
		}
		job.Progress = &progress
	}

	return job, nil
}

// Models lists every persistence model in migration order.
func Models() []any {
	return []any{
		&WorkCenterModel{},
		&BatchModel{},
		&ProductModel{},
		&WebhookSubscriptionModel{},
		&WebhookDeliveryModel{},
		&JobModel{},
	}
}
