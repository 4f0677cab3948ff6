package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Checkpoint 检查点
// 与快照文件同时覆盖写入,记录各页面结果,用于断点续爬
type Checkpoint struct {
	// 运行信息
	RunID   string `json:"run_id"`   // 最近一次写入的运行ID
	BaseURL string `json:"base_url"` // 列表URL模板

	// 进度信息
	SucceededPages []int         `json:"succeeded_pages"` // 已成功页码(升序)
	Failures       []PageOutcome `json:"failures"`        // 失败记录
	Records        int           `json:"records"`         // 快照中的记录数
	LastBatch      int           `json:"last_batch"`      // 最后完成的批次

	// 时间戳
	CreatedAt time.Time `json:"created_at"` // 检查点创建时间
	UpdatedAt time.Time `json:"updated_at"` // 最后更新时间
}

// CheckpointFilename 根据快照路径生成检查点文件名
func CheckpointFilename(snapshotPath string) string {
	ext := filepath.Ext(snapshotPath)
	return strings.TrimSuffix(snapshotPath, ext) + ".checkpoint.json"
}

// ToJSON 序列化为JSON
func (c *Checkpoint) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// FromJSON 从JSON反序列化
func (c *Checkpoint) FromJSON(data []byte) error {
	return json.Unmarshal(data, c)
}

// SaveToFile 保存到文件(先写临时文件再重命名,保证文件完整)
func (c *Checkpoint) SaveToFile(path string) error {
	sort.Ints(c.SucceededPages)
	data, err := c.ToJSON()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建检查点目录失败: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadCheckpointFromFile 从文件加载
func LoadCheckpointFromFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cp Checkpoint
	if err := cp.FromJSON(data); err != nil {
		return nil, err
	}

	return &cp, nil
}
