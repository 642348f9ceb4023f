package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stagerun/pkg/models"
	"stagerun/pkg/storage"
)

type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens the database and migrates the execution schema.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.Execution{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *models.Execution) error {
	if err := s.db.WithContext(ctx).Create(exec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRunState(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	return s.update(ctx, id, map[string]interface{}{
		"status":     models.TaskRunning,
		"started_at": startedAt,
	})
}

func (s *PostgresStore) UpdateResult(ctx context.Context, id uuid.UUID, status models.TaskStatus, exitCode int, outputURI, errMsg string) error {
	return s.update(ctx, id, map[string]interface{}{
		"status":       status,
		"exit_code":    exitCode,
		"output_uri":   outputURI,
		"error":        errMsg,
		"completed_at": time.Now(),
	})
}

func (s *PostgresStore) update(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&models.Execution{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update execution %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	var exec models.Execution
	result := s.db.WithContext(ctx).First(&exec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &exec, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, limit int) ([]models.Execution, error) {
	var execs []models.Execution
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&execs).Error; err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return execs, nil
}
