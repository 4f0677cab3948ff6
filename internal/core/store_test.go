package core

import (
	"sync"
	"testing"

	"github.com/RecoveryAshes/NewsHarvest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_FlushAndSummary(t *testing.T) {
	s := NewStore([]models.ArticleRecord{{Title: "seed"}})

	s.Flush(
		[]models.ArticleRecord{{Title: "a", Page: 1}, {Title: "b", Page: 1}},
		[]models.PageOutcome{
			{Page: 1, Status: models.OutcomeSuccess},
			{Page: 2, Status: models.OutcomeFailure, Reason: ReasonNoArticles},
		},
	)
	s.Flush(nil, []models.PageOutcome{
		{Page: 3, Status: models.OutcomeFailure, Reason: ReasonLoadTimeout},
	})

	sum := s.Summary()
	assert.Equal(t, 1, sum.SuccessfulPages)
	assert.Equal(t, 2, sum.FailedPages)
	assert.Equal(t, 2, sum.FailureOutcomes)
	assert.Equal(t, []int{2, 3}, sum.FailedPageList)
	assert.Equal(t, 3, sum.TotalRecords)
	assert.Equal(t, 2, sum.NewRecords)

	assert.True(t, s.IsSucceeded(1))
	assert.False(t, s.IsSucceeded(2))
	assert.Len(t, s.Failures(), 2)
	assert.Equal(t, "seed", s.Records()[0].Title)
}

func TestStore_RecordsIsCopy(t *testing.T) {
	s := NewStore(nil)
	s.Flush([]models.ArticleRecord{{Title: "a"}}, nil)

	got := s.Records()
	got[0].Title = "changed"
	assert.Equal(t, "a", s.Records()[0].Title)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.Summary()
				_ = s.RecordCount()
			}
		}()
	}
	for p := 1; p <= 50; p++ {
		s.Flush([]models.ArticleRecord{{Title: "x", Page: p}}, []models.PageOutcome{{Page: p, Status: models.OutcomeSuccess}})
	}
	wg.Wait()
	assert.Equal(t, 50, s.RecordCount())
}

func TestStore_PriorFailuresCarried(t *testing.T) {
	s := NewStore(nil)
	s.SeedCheckpoint(&models.Checkpoint{
		SucceededPages: []int{1},
		Failures: []models.PageOutcome{
			{Page: 5, Status: models.OutcomeFailure, Reason: ReasonLoadTimeout},
			{Page: 6, Status: models.OutcomeFailure, Reason: ReasonNoArticles},
			{Page: 8, Status: models.OutcomeFailure, Reason: ReasonNoArticles},
		},
	})

	s.Flush(nil, []models.PageOutcome{
		{Page: 5, Status: models.OutcomeSuccess},
		{Page: 7, Status: models.OutcomeFailure, Reason: ReasonLoadTimeout},
		{Page: 8, Status: models.OutcomeFailure, Reason: ReasonLoadTimeout},
	})

	failures := s.Failures()
	require.Len(t, failures, 3)
	assert.Equal(t, 6, failures[0].Page, "未重新处理的旧失败保留")
	assert.Equal(t, 7, failures[1].Page)
	assert.Equal(t, 8, failures[2].Page)
	assert.Equal(t, ReasonLoadTimeout, failures[2].Reason, "重新处理的页面使用本次结果")

	assert.Equal(t, 2, s.Summary().FailureOutcomes, "摘要只统计本次运行")
}
