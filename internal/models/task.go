package models

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeStatus 页面结果状态
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success" // 成功
	OutcomeFailure OutcomeStatus = "failure" // 失败
)

// PageTask 页面任务,不可变的输入单元
type PageTask struct {
	Page int `json:"page"`
}

// URL 根据列表URL模板生成页面地址
// 模板中包含 {page} 时替换,否则直接追加页码
func (t PageTask) URL(baseURL string) string {
	if strings.Contains(baseURL, "{page}") {
		return strings.ReplaceAll(baseURL, "{page}", fmt.Sprint(t.Page))
	}
	return fmt.Sprintf("%s%d", baseURL, t.Page)
}

// PageOutcome 单次页面尝试的最终结果
type PageOutcome struct {
	Page   int           `json:"page"`             // 页码
	Status OutcomeStatus `json:"status"`           // 成功/失败
	Reason string        `json:"reason,omitempty"` // 失败原因(已截断)
	Batch  int           `json:"batch"`            // 所属批次序号(从1开始)
	At     time.Time     `json:"at"`               // 记录时间
}

// Succeeded 是否成功
func (o PageOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// Batch 页码范围内的一个连续批次
type Batch struct {
	Index int // 批次序号(从1开始)
	Start int // 起始页(含)
	End   int // 结束页(含)

	// PageNumbers 非空时只处理这些页码,用于跳过已成功页面后的批次
	PageNumbers []int
}

// Pages 批次内的页面任务,升序
func (b Batch) Pages() []PageTask {
	if len(b.PageNumbers) > 0 {
		tasks := make([]PageTask, 0, len(b.PageNumbers))
		for _, p := range b.PageNumbers {
			tasks = append(tasks, PageTask{Page: p})
		}
		return tasks
	}
	if b.End < b.Start {
		return nil
	}
	tasks := make([]PageTask, 0, b.End-b.Start+1)
	for p := b.Start; p <= b.End; p++ {
		tasks = append(tasks, PageTask{Page: p})
	}
	return tasks
}

// String 日志显示
func (b Batch) String() string {
	return fmt.Sprintf("批次#%d [%d-%d]", b.Index, b.Start, b.End)
}

// RunSummary 运行摘要
type RunSummary struct {
	RunID           string  `json:"run_id"`
	SuccessfulPages int     `json:"successful_pages"` // 成功页数(去重)
	FailedPages     int     `json:"failed_pages"`     // 失败页数(去重)
	FailureOutcomes int     `json:"failure_outcomes"` // 失败记录数(含重复)
	SkippedPages    int     `json:"skipped_pages"`    // 因已成功而跳过的页数
	TotalRecords    int     `json:"total_records"`    // 文章总数
	NewRecords      int     `json:"new_records"`      // 本次新增文章数
	FailedPageList  []int   `json:"failed_page_list"` // 失败页码,升序去重
	Batches         int     `json:"batches"`
	Interrupted     bool    `json:"interrupted"`
	Reclamations    int     `json:"reclamations"` // 内存回收次数
	Duration        float64 `json:"duration"`     // 秒
}
