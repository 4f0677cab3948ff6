package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RecoveryAshes/NewsHarvest/internal/crawlers"
	"github.com/RecoveryAshes/NewsHarvest/internal/models"
	"github.com/RecoveryAshes/NewsHarvest/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) *Config {
	cfg := DefaultConfig()
	cfg.Harvest = models.HarvestConfig{
		BaseURL:      testBaseURL,
		StartPage:    1,
		EndPage:      4,
		BatchSize:    2,
		ReadyTimeout: time.Second,
	}
	cfg.Output = OutputConfig{
		Snapshot:  filepath.Join(dir, "news.csv"),
		ReportDir: filepath.Join(dir, "reports"),
	}
	return &cfg
}

func newTestHarvester(t *testing.T, cfg *Config, browser *fakeBrowser) *Harvester {
	t.Helper()
	h, err := NewHarvester(cfg, nil,
		WithSessionFactory(browser),
		WithPacer(NoopPacer{}),
		WithMemoryMonitor(&fixedMonitor{}),
		WithReclaim(func() {}),
	)
	require.NoError(t, err)
	return h
}

func TestHarvester_RunWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	browser := newFakeBrowser(3)
	browser.scripts[3] = pageScript{notReady: true}

	h := newTestHarvester(t, cfg, browser)
	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, h.RunID(), report.RunID)
	assert.Equal(t, 3, report.Summary.SuccessfulPages)
	assert.Equal(t, []int{3}, report.Summary.FailedPageList)
	assert.Equal(t, 9, report.Summary.TotalRecords)
	assert.Len(t, report.Outcomes, 4)

	assert.FileExists(t, cfg.Output.Snapshot)
	assert.FileExists(t, filepath.Join(dir, "news.checkpoint.json"))
	assert.FileExists(t, filepath.Join(cfg.Output.ReportDir, utils.ReportFilename))

	cp, err := models.LoadCheckpointFromFile(filepath.Join(dir, "news.checkpoint.json"))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, cp.SucceededPages)
	assert.Equal(t, 9, cp.Records)
	assert.Equal(t, 2, cp.LastBatch)
}

func TestHarvester_ResumeFromSnapshotAndCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	first := newFakeBrowser(2)
	first.scripts[2] = pageScript{empty: true}
	_, err := newTestHarvester(t, cfg, first).Run(context.Background())
	require.NoError(t, err)

	cfg.Harvest.SkipSucceeded = true
	second := newFakeBrowser(2)
	h := newTestHarvester(t, cfg, second)
	assert.Equal(t, 6, h.Store().RecordCount(), "从快照加载已有记录")

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{2}, second.visitedPages(), "只重试失败的页面")
	assert.Equal(t, 3, report.Summary.SkippedPages)
	assert.Equal(t, 8, report.Summary.TotalRecords, "已有记录数 + 新记录数")
	assert.Equal(t, 2, report.Summary.NewRecords)
}

func TestHarvester_InvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Harvest.BatchSize = 0

	_, err := NewHarvester(cfg, nil)
	assert.Error(t, err)
}

func TestHarvester_CorruptCheckpointIgnored(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "news.checkpoint.json"), []byte("{not json"), 0644))

	h := newTestHarvester(t, cfg, newFakeBrowser(1))
	report, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Summary.SuccessfulPages)
}

func TestHarvester_CheckpointKeepsEarlierFailures(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	first := newFakeBrowser(2)
	first.scripts[4] = pageScript{empty: true}
	_, err := newTestHarvester(t, cfg, first).Run(context.Background())
	require.NoError(t, err)

	cfg.Harvest.EndPage = 2
	_, err = newTestHarvester(t, cfg, newFakeBrowser(2)).Run(context.Background())
	require.NoError(t, err)

	cp, err := models.LoadCheckpointFromFile(filepath.Join(dir, "news.checkpoint.json"))
	require.NoError(t, err)
	require.Len(t, cp.Failures, 1, "未在本次范围内的失败页保留在检查点中")
	assert.Equal(t, 4, cp.Failures[0].Page)
	assert.Equal(t, []int{1, 2, 3}, cp.SucceededPages)
}

func TestHarvester_ReportsReclamations(t *testing.T) {
	cfg := testConfig(t.TempDir())
	monitor := crawlers.NewResourceMonitor(crawlers.ResourceMonitorConfig{MemoryThreshold: 80},
		crawlers.WithSampler(func(ctx context.Context) (float64, error) { return 91, nil }),
		crawlers.WithReclaimer(func() {}),
		crawlers.WithSleep(func(ctx context.Context, d time.Duration) {}),
	)

	h, err := NewHarvester(cfg, nil,
		WithSessionFactory(newFakeBrowser(1)),
		WithPacer(NoopPacer{}),
		WithMemoryMonitor(monitor),
		WithReclaim(func() {}),
	)
	require.NoError(t, err)

	report, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.Reclamations, "每批次采样时各回收一次")
}
