package models

import (
	"fmt"
	"strings"
	"time"
)

// HarvestConfig 采集配置
type HarvestConfig struct {
	BaseURL       string        `json:"base_url" mapstructure:"base_url" yaml:"base_url"`                   // 列表URL模板,页码追加在末尾或替换{page}
	StartPage     int           `json:"start_page" mapstructure:"start_page" yaml:"start_page"`             // 起始页(含)
	EndPage       int           `json:"end_page" mapstructure:"end_page" yaml:"end_page"`                   // 结束页(含)
	BatchSize     int           `json:"batch_size" mapstructure:"batch_size" yaml:"batch_size"`             // 每批页数(标签页预算)
	ReadyTimeout  time.Duration `json:"ready_timeout" mapstructure:"ready_timeout" yaml:"ready_timeout"`    // 文章容器等待超时
	SkipSucceeded bool          `json:"skip_succeeded" mapstructure:"skip_succeeded" yaml:"skip_succeeded"` // 续爬时跳过已成功页面
}

// Validate 验证配置
func (c *HarvestConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("列表URL不能为空")
	}
	if err := ValidateURL(strings.ReplaceAll(c.BaseURL, "{page}", "1")); err != nil {
		return err
	}
	if c.StartPage < 1 {
		return fmt.Errorf("起始页必须大于等于1")
	}
	if c.EndPage < c.StartPage {
		return fmt.Errorf("结束页(%d)不能小于起始页(%d)", c.EndPage, c.StartPage)
	}
	if c.BatchSize < 1 || c.BatchSize > 20 {
		return fmt.Errorf("批次大小必须在1-20之间")
	}
	if c.ReadyTimeout <= 0 || c.ReadyTimeout > 5*time.Minute {
		return fmt.Errorf("等待超时必须在0-5分钟之间")
	}
	return nil
}

// TotalPages 请求范围内的页数
func (c *HarvestConfig) TotalPages() int {
	if c.EndPage < c.StartPage {
		return 0
	}
	return c.EndPage - c.StartPage + 1
}

// Batches 将页码范围按批次大小切分为连续批次
func (c *HarvestConfig) Batches() []Batch {
	return PartitionPages(c.StartPage, c.EndPage, c.BatchSize)
}

// PartitionPages 将[start,end]切分为大小为size的连续批次,最后一批可能不足
func PartitionPages(start, end, size int) []Batch {
	if size < 1 || end < start {
		return nil
	}
	batches := make([]Batch, 0, (end-start+size)/size)
	for s := start; s <= end; s += size {
		e := s + size - 1
		if e > end {
			e = end
		}
		batches = append(batches, Batch{Index: len(batches) + 1, Start: s, End: e})
	}
	return batches
}

// PartitionList 将升序页码列表按批次大小切分,批次内页码可能不连续
func PartitionList(pages []int, size int) []Batch {
	if size < 1 || len(pages) == 0 {
		return nil
	}
	batches := make([]Batch, 0, (len(pages)+size-1)/size)
	for i := 0; i < len(pages); i += size {
		j := i + size
		if j > len(pages) {
			j = len(pages)
		}
		chunk := append([]int(nil), pages[i:j]...)
		batches = append(batches, Batch{
			Index:       len(batches) + 1,
			Start:       chunk[0],
			End:         chunk[len(chunk)-1],
			PageNumbers: chunk,
		})
	}
	return batches
}
