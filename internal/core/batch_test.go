package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/RecoveryAshes/NewsHarvest/internal/crawlers"
	"github.com/RecoveryAshes/NewsHarvest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFixture struct {
	browser  *fakeBrowser
	pacer    *recordingPacer
	store    *Store
	snapshot *CSVSnapshot
	runner   *BatchRunner
}

func newRunnerFixture(t *testing.T, cfg models.HarvestConfig, perPage int, seed []models.ArticleRecord, onOutcome func(models.PageOutcome)) *runnerFixture {
	t.Helper()
	dir := t.TempDir()
	extractor, err := crawlers.NewSelectorExtractor(crawlers.DefaultExtractConfig())
	require.NoError(t, err)

	f := &runnerFixture{
		browser:  newFakeBrowser(perPage),
		pacer:    &recordingPacer{},
		store:    NewStore(seed),
		snapshot: NewCSVSnapshot(filepath.Join(dir, "news.csv")),
	}
	sink := &FileSink{
		Snapshot:   f.snapshot,
		Checkpoint: NewCheckpointStore(filepath.Join(dir, "news.checkpoint.json"), "run-test", cfg.BaseURL),
	}
	orch := NewOrchestrator(OrchestratorConfig{
		BaseURL:      cfg.BaseURL,
		ReadyTimeout: cfg.ReadyTimeout,
		Session:      crawlers.DefaultSessionConfig(),
	}, Components{
		Factory:   f.browser,
		Extractor: extractor,
		Monitor:   &fixedMonitor{},
		Pacer:     f.pacer,
		Store:     f.store,
		Sink:      sink,
		Reclaim:   func() {},
		OnOutcome: onOutcome,
	})
	f.runner = NewBatchRunner(cfg, orch, f.store, f.pacer, sink, "run-test")
	return f
}

func harvestConfig(start, end, size int) models.HarvestConfig {
	return models.HarvestConfig{
		BaseURL:      testBaseURL,
		StartPage:    start,
		EndPage:      end,
		BatchSize:    size,
		ReadyTimeout: time.Second,
	}
}

// assertOneOutcomePerPage 请求范围内每页恰好一个结果
func assertOneOutcomePerPage(t *testing.T, outcomes []models.PageOutcome, start, end int) {
	t.Helper()
	seen := make(map[int]int)
	for _, o := range outcomes {
		seen[o.Page]++
	}
	for p := start; p <= end; p++ {
		assert.Equal(t, 1, seen[p], "第%d页的结果数", p)
	}
	assert.Len(t, seen, end-start+1)
}

func TestBatchRunner_SessionCycles(t *testing.T) {
	f := newRunnerFixture(t, harvestConfig(1, 7, 3), 2, nil, nil)

	summary := f.runner.Run(context.Background())

	created, terminated := f.browser.stats()
	assert.Equal(t, 3, created, "[1,7]按3切分为3个批次")
	assert.Equal(t, 3, terminated)
	assert.Equal(t, 2, f.pacer.count(PaceInterBatch), "最后一个批次之后不冷却")
	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, 7, summary.SuccessfulPages)
	assert.Zero(t, summary.FailedPages)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, "run-test", summary.RunID)
	assertOneOutcomePerPage(t, f.store.Outcomes(), 1, 7)
}

func TestBatchRunner_SnapshotHasAllRows(t *testing.T) {
	f := newRunnerFixture(t, harvestConfig(1, 10, 3), 5, nil, nil)

	summary := f.runner.Run(context.Background())
	assert.Equal(t, 50, summary.TotalRecords)

	data, err := os.ReadFile(f.snapshot.Path())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, utf8BOM), "快照以UTF-8 BOM开头")

	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 51)
	assert.Equal(t, []string{"title", "link", "description", "published_at"}, rows[0])
	assert.Equal(t, "Headline 1-1", rows[1][0])
	assert.Equal(t, `Summary, "quoted" 1`, rows[1][2])
	assert.Equal(t, "Headline 10-5", rows[50][0])
}

func TestBatchRunner_FailuresIsolated(t *testing.T) {
	f := newRunnerFixture(t, harvestConfig(1, 6, 3), 2, nil, nil)
	f.browser.scripts[2] = pageScript{empty: true}
	f.browser.scripts[4] = pageScript{openErr: crawlers.ErrSessionLost}

	summary := f.runner.Run(context.Background())

	assert.Equal(t, 2, summary.SuccessfulPages)
	assert.Equal(t, 4, summary.FailedPages)
	assert.Equal(t, 4, summary.FailureOutcomes)
	assert.Equal(t, []int{2, 4, 5, 6}, summary.FailedPageList)
	assert.Equal(t, 4, summary.TotalRecords)
	assert.Equal(t, 2, f.browser.created, "批次失败不影响后续批次调度")
	assertOneOutcomePerPage(t, f.store.Outcomes(), 1, 6)
}

func TestBatchRunner_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newRunnerFixture(t, harvestConfig(1, 6, 2), 1, nil, func(o models.PageOutcome) {
		if o.Page == 2 {
			cancel()
		}
	})

	summary := f.runner.Run(ctx)

	assert.True(t, summary.Interrupted)
	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, 2, summary.SuccessfulPages)
	assert.Equal(t, []int{3, 4, 5, 6}, summary.FailedPageList)

	outcomes := f.store.Outcomes()
	assertOneOutcomePerPage(t, outcomes, 1, 6)
	for _, o := range outcomes {
		if o.Page > 2 {
			assert.Equal(t, ReasonInterrupted, o.Reason)
		}
	}

	cp, err := models.LoadCheckpointFromFile(models.CheckpointFilename(f.snapshot.Path()))
	require.NoError(t, err)
	assert.Len(t, cp.Failures, 4, "中断状态写入检查点")
	assert.Equal(t, 1, cp.LastBatch)
}

func TestBatchRunner_ResumeAppends(t *testing.T) {
	seed := []models.ArticleRecord{
		{Title: "old 1", Link: "https://news.example.com/old-1"},
		{Title: "old 2", Link: "https://news.example.com/old-2"},
		{Title: "old 3"},
	}
	f := newRunnerFixture(t, harvestConfig(1, 2, 2), 4, seed, nil)

	summary := f.runner.Run(context.Background())

	assert.Equal(t, 11, summary.TotalRecords, "已有记录数 + 新记录数")
	assert.Equal(t, 8, summary.NewRecords)

	loaded, err := f.snapshot.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 11)
	assert.Equal(t, "old 1", loaded[0].Title, "已有记录在前")
	assert.Equal(t, "Headline 1-1", loaded[3].Title)
}

func TestBatchRunner_SkipSucceeded(t *testing.T) {
	cfg := harvestConfig(1, 5, 2)
	cfg.SkipSucceeded = true
	f := newRunnerFixture(t, cfg, 1, nil, nil)
	f.store.SeedCheckpoint(&models.Checkpoint{SucceededPages: []int{1, 2, 4}})

	batches, skipped := f.runner.Plan()
	assert.Equal(t, []int{1, 2, 4}, skipped)
	require.Len(t, batches, 1)
	assert.Equal(t, []int{3, 5}, batches[0].PageNumbers)

	summary := f.runner.Run(context.Background())

	visited := f.browser.visitedPages()
	sort.Ints(visited)
	assert.Equal(t, []int{3, 5}, visited)
	assert.Equal(t, 3, summary.SkippedPages)
	assert.Equal(t, 2, summary.SuccessfulPages)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, f.store.SucceededPages())
}

func TestPlanBatches_WithoutSkip(t *testing.T) {
	store := NewStore(nil)
	store.SeedCheckpoint(&models.Checkpoint{SucceededPages: []int{1, 2}})

	batches, skipped := PlanBatches(harvestConfig(1, 4, 2), store)
	assert.Nil(t, skipped, "未开启跳过时全部重新采集")
	assert.Len(t, batches, 2)
}
