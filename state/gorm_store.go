// Copyright 2025 The agentwire Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"github.com/agentwire/agentwire"
)

// StateRecord is the database row backing one StateData bundle. The bundle
// is stored as a JSON blob; the task id is the primary key.
type StateRecord struct {
	TaskID    string    `gorm:"primaryKey;column:task_id"`
	Data      []byte    `gorm:"column:data"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName implements the gorm table-name convention.
func (StateRecord) TableName() string { return "task_states" }

// GormStore is a database-backed Store using GORM.
type GormStore struct {
	db        *gorm.DB
	tableName string
}

var _ Store = (*GormStore)(nil)

// GormStoreConfig holds configuration for a GormStore.
type GormStoreConfig struct {
	DB *gorm.DB
	// TableName overrides the default "task_states" table.
	TableName string
	// CreateTable runs AutoMigrate on initialization.
	CreateTable bool
}

// NewGormStore creates a GormStore and optionally migrates its table.
func NewGormStore(ctx context.Context, cfg GormStoreConfig) (*GormStore, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}

	s := &GormStore{db: cfg.DB, tableName: cfg.TableName}
	if cfg.CreateTable {
		if err := s.session(ctx).AutoMigrate(&StateRecord{}); err != nil {
			return nil, fmt.Errorf("failed to migrate state table: %w", err)
		}
	}
	return s, nil
}

func (s *GormStore) session(ctx context.Context) *gorm.DB {
	db := s.db.WithContext(ctx)
	if s.tableName != "" {
		db = db.Table(s.tableName)
	}
	return db
}

// Get implements [Store].
func (s *GormStore) Get(ctx context.Context, taskID string) (*agentwire.StateData, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task ID cannot be empty")
	}

	var record StateRecord
	if err := s.session(ctx).Where("task_id = ?", taskID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load state for task %s: %w", taskID, err)
	}

	var data agentwire.StateData
	if err := sonic.ConfigDefault.Unmarshal(record.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode state for task %s: %w", taskID, err)
	}
	return &data, nil
}

// Put implements [Store].
func (s *GormStore) Put(ctx context.Context, taskID string, data *agentwire.StateData) error {
	if taskID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if data == nil {
		return fmt.Errorf("state data cannot be nil")
	}

	blob, err := sonic.ConfigDefault.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode state for task %s: %w", taskID, err)
	}

	record := StateRecord{
		TaskID:    taskID,
		Data:      blob,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.session(ctx).Save(&record).Error; err != nil {
		return fmt.Errorf("failed to persist state for task %s: %w", taskID, err)
	}
	return nil
}

// Delete implements [Store].
func (s *GormStore) Delete(ctx context.Context, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}

	if err := s.session(ctx).Where("task_id = ?", taskID).Delete(&StateRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete state for task %s: %w", taskID, err)
	}
	return nil
}
