package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when no log matches the lookup.
var ErrNotFound = errors.New("classification not found")

// ClassificationLog is one persisted classification request.
type ClassificationLog struct {
	ID             uint      `gorm:"primaryKey"`
	RequestID      string    `gorm:"column:request_id;uniqueIndex;size:64"`
	SHA256         string    `gorm:"column:sha256;index;size:64"`
	Backend        string    `gorm:"column:backend;size:32"`
	TopClass       uint32    `gorm:"column:top_class"`
	TopLabel       string    `gorm:"column:top_label;size:255"`
	TopProbability float32   `gorm:"column:top_probability"`
	Results        string    `gorm:"column:results;type:text"`
	LatencyMs      float64   `gorm:"column:latency_ms"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ClassificationLog) TableName() string {
	return "classification_logs"
}

// Aggregation summarizes the stored logs.
type Aggregation struct {
	TotalCount            int64
	AverageTopProbability float64
	AverageLatencyMs      float64
}

// ClassificationRepository provides persistence APIs for classification logs.
type ClassificationRepository struct {
	db *gorm.DB
}

// NewClassificationRepository creates a new repository instance.
func NewClassificationRepository(db *gorm.DB) *ClassificationRepository {
	return &ClassificationRepository{db: db}
}

// AutoMigrate ensures the schema is available.
func (r *ClassificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ClassificationLog{})
}

// Save persists a classification log entry.
func (r *ClassificationRepository) Save(ctx context.Context, log *ClassificationLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// FindByRequestID retrieves the log written for requestID.
func (r *ClassificationRepository) FindByRequestID(ctx context.Context, requestID string) (*ClassificationLog, error) {
	var log ClassificationLog
	err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// Aggregate computes count and averages over every stored log.
func (r *ClassificationRepository) Aggregate(ctx context.Context) (*Aggregation, error) {
	var row struct {
		TotalCount            int64
		AverageTopProbability float64
		AverageLatencyMs      float64
	}
	err := r.db.WithContext(ctx).
		Model(&ClassificationLog{}).
		Select("COUNT(*) AS total_count, COALESCE(AVG(top_probability), 0) AS average_top_probability, COALESCE(AVG(latency_ms), 0) AS average_latency_ms").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &Aggregation{
		TotalCount:            row.TotalCount,
		AverageTopProbability: row.AverageTopProbability,
		AverageLatencyMs:      row.AverageLatencyMs,
	}, nil
}
