package core

import (
	"sort"
	"sync"

	"github.com/RecoveryAshes/NewsHarvest/internal/models"
)

// Store 运行期间的累积状态
// 文章按批次追加,页面结果在批次刷新时写入;读取方获得副本
type Store struct {
	mu sync.RWMutex

	records   []models.ArticleRecord
	succeeded map[int]bool
	failures  []models.PageOutcome
	outcomes  []models.PageOutcome

	// priorFailures 检查点中之前运行的失败记录
	priorFailures []models.PageOutcome

	loadedRecords int
	skipped       []int
}

// NewStore 创建存储,seed为从快照加载的记录
func NewStore(seed []models.ArticleRecord) *Store {
	records := make([]models.ArticleRecord, len(seed))
	copy(records, seed)
	return &Store{
		records:       records,
		succeeded:     make(map[int]bool),
		loadedRecords: len(seed),
	}
}

// SeedCheckpoint 从检查点恢复已成功页面,用于跳过已完成页面
func (s *Store) SeedCheckpoint(cp *models.Checkpoint) {
	if cp == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range cp.SucceededPages {
		s.succeeded[p] = true
	}
	s.priorFailures = append(s.priorFailures, cp.Failures...)
}

// MarkSkipped 记录因已成功而跳过的页面,沿用之前的成功结果
func (s *Store) MarkSkipped(pages []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped = append(s.skipped, pages...)
}

// Flush 批次刷新:追加文章和页面结果
func (s *Store) Flush(records []models.ArticleRecord, outcomes []models.PageOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, records...)
	for _, o := range outcomes {
		s.outcomes = append(s.outcomes, o)
		if o.Succeeded() {
			s.succeeded[o.Page] = true
		} else {
			s.failures = append(s.failures, o)
		}
	}
}

// Records 文章副本
func (s *Store) Records() []models.ArticleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ArticleRecord, len(s.records))
	copy(out, s.records)
	return out
}

// RecordCount 文章总数
func (s *Store) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// NewRecordCount 本次运行新增的文章数
func (s *Store) NewRecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records) - s.loadedRecords
}

// IsSucceeded 页面是否已成功
func (s *Store) IsSucceeded(page int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.succeeded[page]
}

// SucceededPages 已成功页码,升序
func (s *Store) SucceededPages() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := make([]int, 0, len(s.succeeded))
	for p := range s.succeeded {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// Failures 失败记录副本,按记录顺序
// 之前运行的失败记录排在前面;页面已成功或本次重新处理过时不再保留旧记录
func (s *Store) Failures() []models.PageOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attempted := make(map[int]bool, len(s.outcomes))
	for _, o := range s.outcomes {
		attempted[o.Page] = true
	}

	out := make([]models.PageOutcome, 0, len(s.priorFailures)+len(s.failures))
	for _, f := range s.priorFailures {
		if s.succeeded[f.Page] || attempted[f.Page] {
			continue
		}
		out = append(out, f)
	}
	return append(out, s.failures...)
}

// Outcomes 本次运行的全部页面结果
func (s *Store) Outcomes() []models.PageOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PageOutcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Summary 汇总统计
// 失败页数按页码去重;本次成功的页面不计入失败页
func (s *Store) Summary() models.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	succeeded := make(map[int]bool)
	failed := make(map[int]bool)
	for _, o := range s.outcomes {
		if o.Succeeded() {
			succeeded[o.Page] = true
		} else {
			failed[o.Page] = true
		}
	}

	failedList := make([]int, 0, len(failed))
	for p := range failed {
		failedList = append(failedList, p)
	}
	sort.Ints(failedList)

	return models.RunSummary{
		SuccessfulPages: len(succeeded),
		FailedPages:     len(failedList),
		FailureOutcomes: len(s.failures),
		SkippedPages:    len(s.skipped),
		TotalRecords:    len(s.records),
		NewRecords:      len(s.records) - s.loadedRecords,
		FailedPageList:  failedList,
	}
}
