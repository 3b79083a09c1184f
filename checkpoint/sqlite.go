package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// checkpointRow workflow_checkpoints 表的 GORM 模型
// 表是追加式审计日志：只 INSERT，永不 UPDATE
type checkpointRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	SessionID string    `gorm:"index:idx_session_created,priority:1;size:64;not null"`
	StepName  string    `gorm:"size:64;not null"`
	Snapshot  []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index:idx_session_created,priority:2;not null"`
}

func (checkpointRow) TableName() string {
	return "workflow_checkpoints"
}

// SQLiteStore SQLite 检查点存储
// 嵌入式不依赖外部服务，适合单机部署与审计回放
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteStore 打开（必要时创建）SQLite 检查点数据库
// path 形如 "checkpoints.db"，测试可用 "file::memory:?cache=shared"
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite checkpoint db: %w", err)
	}

	if err := db.AutoMigrate(&checkpointRow{}); err != nil {
		return nil, fmt.Errorf("migrate checkpoint schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("store", "sqlite_checkpoint")),
	}, nil
}

// Save 追加一条检查点记录
func (s *SQLiteStore) Save(ctx context.Context, record *Record) error {
	row := checkpointRow{
		ID:        record.ID,
		SessionID: record.SessionID,
		StepName:  record.StepName,
		Snapshot:  record.Snapshot,
		CreatedAt: record.CreatedAt,
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint saved to sqlite",
		zap.String("checkpoint_id", record.ID),
		zap.String("session_id", record.SessionID),
		zap.String("step", record.StepName),
	)

	return nil
}

// List 按时间倒序列出会话的检查点
func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []checkpointRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	records := make([]*Record, len(rows))
	for i, row := range rows {
		records[i] = &Record{
			ID:        row.ID,
			SessionID: row.SessionID,
			StepName:  row.StepName,
			Snapshot:  row.Snapshot,
			CreatedAt: row.CreatedAt,
		}
	}

	return records, nil
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
