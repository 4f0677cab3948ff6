package models

import (
	"encoding/json"
	"time"
)

// HarvestReport 采集报告
type HarvestReport struct {
	// 运行信息
	RunID   string `json:"run_id"`
	BaseURL string `json:"base_url"`
	Backend string `json:"backend"`

	// 时间信息
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// 统计信息
	Summary RunSummary `json:"summary"`

	// 页面结果
	Outcomes []PageOutcome `json:"outcomes"`

	// 输出路径
	SnapshotPath   string `json:"snapshot_path"`
	CheckpointPath string `json:"checkpoint_path"`

	// 配置快照
	Config HarvestConfig `json:"config"`
}

// ToJSON 序列化为JSON
func (r *HarvestReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *HarvestReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
