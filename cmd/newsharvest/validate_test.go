package main

import (
	"testing"
	"time"

	"github.com/RecoveryAshes/NewsHarvest/internal/core"
	"github.com/stretchr/testify/assert"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *core.Config)
		wantErr bool
	}{
		{"默认配置", func(c *core.Config) {}, false},
		{"页码模板", func(c *core.Config) { c.Harvest.BaseURL = "https://news.example.com/list?p={page}" }, false},
		{"结束页小于起始页", func(c *core.Config) { c.Harvest.StartPage, c.Harvest.EndPage = 5, 4 }, true},
		{"批次过大", func(c *core.Config) { c.Harvest.BatchSize = 50 }, true},
		{"未知后端", func(c *core.Config) { c.Session.Backend = "playwright" }, true},
		{"后端大小写", func(c *core.Config) { c.Session.Backend = "Static" }, false},
		{"空快照路径", func(c *core.Config) { c.Output.Snapshot = "" }, true},
		{"非法链接基地址", func(c *core.Config) { c.Extract.LinkBase = "ftp://example.com" }, true},
		{"内存阈值越界", func(c *core.Config) { c.Resource.MemoryThreshold = 120 }, true},
		{"非法日志级别", func(c *core.Config) { c.Logging.Level = "loud" }, true},
		{"等待区间颠倒", func(c *core.Config) { c.Pacing.InterBatch = core.DurationRange{Min: 10 * time.Second, Max: time.Second} }, true},
		{"负等待时长", func(c *core.Config) { c.Pacing.Settle = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := core.DefaultConfig()
			tt.mutate(&cfg)
			err := ValidateConfig(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePacing_ZeroIsAllowed(t *testing.T) {
	assert.NoError(t, ValidatePacing(core.PacingConfig{}))
}
