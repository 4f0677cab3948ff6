package core

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/RecoveryAshes/NewsHarvest/internal/models"
)

// BatchSink 批次刷新后的持久化
type BatchSink interface {
	Persist(store *Store, batch models.Batch) error
}

// CheckpointStore 检查点文件
type CheckpointStore struct {
	path    string
	runID   string
	baseURL string
	created time.Time
}

// NewCheckpointStore 创建检查点存储
func NewCheckpointStore(path, runID, baseURL string) *CheckpointStore {
	return &CheckpointStore{path: path, runID: runID, baseURL: baseURL}
}

// Path 检查点路径
func (c *CheckpointStore) Path() string {
	return c.path
}

// Load 读取已有检查点,文件不存在时返回nil
// 列表URL不一致的检查点不用于续爬
func (c *CheckpointStore) Load() (*models.Checkpoint, error) {
	cp, err := models.LoadCheckpointFromFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取检查点失败: %w", err)
	}
	if cp.BaseURL != "" && cp.BaseURL != c.baseURL {
		return nil, fmt.Errorf("检查点列表URL不一致: %s", cp.BaseURL)
	}
	c.created = cp.CreatedAt
	return cp, nil
}

// Save 用存储的当前状态覆盖检查点
func (c *CheckpointStore) Save(store *Store, lastBatch int) error {
	now := time.Now()
	if c.created.IsZero() {
		c.created = now
	}
	cp := &models.Checkpoint{
		RunID:          c.runID,
		BaseURL:        c.baseURL,
		SucceededPages: store.SucceededPages(),
		Failures:       store.Failures(),
		Records:        store.RecordCount(),
		LastBatch:      lastBatch,
		CreatedAt:      c.created,
		UpdatedAt:      now,
	}
	if err := cp.SaveToFile(c.path); err != nil {
		return fmt.Errorf("保存检查点失败: %w", err)
	}
	return nil
}

// FileSink 快照和检查点同时覆盖写入
type FileSink struct {
	Snapshot   SnapshotWriter
	Checkpoint *CheckpointStore
}

// Persist 实现BatchSink
func (s *FileSink) Persist(store *Store, batch models.Batch) error {
	if err := s.Snapshot.Write(store.Records()); err != nil {
		return err
	}
	if s.Checkpoint == nil {
		return nil
	}
	return s.Checkpoint.Save(store, batch.Index)
}
