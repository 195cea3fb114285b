// Package repository persists an audit trail of liveness verdicts.
package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// VerdictLog represents one persisted liveness decision.
type VerdictLog struct {
	ID            uint      `gorm:"primaryKey"`
	RequestID     string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Digest        string    `gorm:"column:digest;index;size:128"`
	Score         float32   `gorm:"column:score"`
	Threshold     float32   `gorm:"column:threshold"`
	ModelLive     bool      `gorm:"column:model_live"`
	Live          bool      `gorm:"column:live"`
	MotionChecked bool      `gorm:"column:motion_checked"`
	MotionPass    bool      `gorm:"column:motion_pass"`
	Cached        bool      `gorm:"column:cached"`
	Source        string    `gorm:"column:source;size:16"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerdictLog) TableName() string {
	return "verdict_logs"
}

// VerdictRepository provides persistence APIs for verdict logs.
type VerdictRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to Postgres using dsn.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*VerdictRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return NewVerdictRepository(db, logger), nil
}

// NewVerdictRepository creates a new repository instance.
func NewVerdictRepository(db *gorm.DB, logger *zap.Logger) *VerdictRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerdictRepository{db: db, logger: logger.Named("verdict_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *VerdictRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerdictLog{})
}

// SaveLog persists a verdict log entry.
func (r *VerdictRepository) SaveLog(ctx context.Context, log *VerdictLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to save verdict log %s: %w", log.RequestID, err)
	}
	return nil
}

// FindByRequestID retrieves the verdict log for a request.
func (r *VerdictRepository) FindByRequestID(ctx context.Context, requestID string) (*VerdictLog, error) {
	var log VerdictLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// Close releases the underlying connection pool.
func (r *VerdictRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
