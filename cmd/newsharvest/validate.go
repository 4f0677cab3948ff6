package main

import (
	"fmt"
	"strings"

	"github.com/RecoveryAshes/NewsHarvest/internal/core"
	"github.com/RecoveryAshes/NewsHarvest/internal/crawlers"
	"github.com/RecoveryAshes/NewsHarvest/internal/models"
	"github.com/rs/zerolog"
)

// ValidateConfig 验证合并命令行参数后的完整配置
func ValidateConfig(config *core.Config) error {
	if err := config.Harvest.Validate(); err != nil {
		return fmt.Errorf("无效的采集配置: %w", err)
	}

	if config.Output.Snapshot == "" {
		return fmt.Errorf("快照路径不能为空")
	}

	if !crawlers.ValidBackend(config.Session.Backend) {
		return fmt.Errorf("无效的会话后端: %s (有效值: %s, %s, %s)",
			config.Session.Backend, crawlers.BackendRod, crawlers.BackendChromedp, crawlers.BackendStatic)
	}

	if config.Extract.LinkBase != "" {
		if err := models.ValidateURL(config.Extract.LinkBase); err != nil {
			return fmt.Errorf("无效的链接基地址: %w", err)
		}
	}

	if err := ValidatePacing(config.Pacing); err != nil {
		return err
	}

	// 验证内存阈值
	threshold := config.Resource.MemoryThreshold
	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("内存阈值必须在0-100之间,当前值: %.1f", threshold)
	}

	if config.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(config.Logging.Level)); err != nil {
			return fmt.Errorf("无效的日志级别: %s", config.Logging.Level)
		}
	}

	return nil
}

// ValidatePacing 验证各等待点的时长
func ValidatePacing(pacing core.PacingConfig) error {
	if pacing.Settle < 0 || pacing.PostTeardown < 0 {
		return fmt.Errorf("等待时长不能为负数")
	}

	ranges := []struct {
		name string
		r    core.DurationRange
	}{
		{"pre_tab", pacing.PreTab},
		{"inter_page", pacing.InterPage},
		{"inter_batch", pacing.InterBatch},
	}
	for _, item := range ranges {
		if item.r.Min < 0 || item.r.Max < 0 {
			return fmt.Errorf("%s 等待时长不能为负数", item.name)
		}
		if item.r.Max < item.r.Min {
			return fmt.Errorf("%s 最大等待时长(%s)不能小于最小值(%s)", item.name, item.r.Max, item.r.Min)
		}
	}
	return nil
}
