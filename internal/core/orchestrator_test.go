package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/RecoveryAshes/NewsHarvest/internal/crawlers"
	"github.com/RecoveryAshes/NewsHarvest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orchestratorFixture struct {
	browser  *fakeBrowser
	pacer    *recordingPacer
	monitor  *fixedMonitor
	store    *Store
	outcomes []models.PageOutcome
	reclaims int
	orch     *Orchestrator
}

func newOrchestratorFixture(t *testing.T, perPage int) *orchestratorFixture {
	t.Helper()
	extractor, err := crawlers.NewSelectorExtractor(crawlers.DefaultExtractConfig())
	require.NoError(t, err)

	f := &orchestratorFixture{
		browser: newFakeBrowser(perPage),
		pacer:   &recordingPacer{},
		monitor: &fixedMonitor{},
		store:   NewStore(nil),
	}
	f.orch = NewOrchestrator(OrchestratorConfig{
		BaseURL:      testBaseURL,
		ReadyTimeout: 0,
		Session:      crawlers.DefaultSessionConfig(),
	}, Components{
		Factory:   f.browser,
		Extractor: extractor,
		Monitor:   f.monitor,
		Pacer:     f.pacer,
		Store:     f.store,
		Reclaim:   func() { f.reclaims++ },
		OnOutcome: func(o models.PageOutcome) { f.outcomes = append(f.outcomes, o) },
	})
	return f
}

func outcomeByPage(outcomes []models.PageOutcome) map[int]models.PageOutcome {
	m := make(map[int]models.PageOutcome)
	for _, o := range outcomes {
		m[o.Page] = o
	}
	return m
}

func TestOrchestrator_AllPagesSucceed(t *testing.T) {
	f := newOrchestratorFixture(t, 5)
	batch := models.Batch{Index: 1, Start: 1, End: 3}

	res := f.orch.RunBatch(context.Background(), batch)

	assert.NoError(t, res.Err)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 15, f.store.RecordCount())
	assert.Equal(t, []int{1, 2, 3}, f.store.SucceededPages())

	created, terminated := f.browser.stats()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, terminated)
	assert.Equal(t, 1, f.monitor.calls, "每批次采样一次内存")
	assert.Equal(t, 1, f.reclaims)
	assert.Equal(t, 3, f.browser.closed, "每个标签页都被关闭")

	assert.Equal(t, 1, f.pacer.count(PaceSettle))
	assert.Equal(t, 3, f.pacer.count(PacePreTab))
	assert.Equal(t, 2, f.pacer.count(PaceInterPage), "最后一页之后不等待")
	assert.Equal(t, 1, f.pacer.count(PacePostTeardown))

	records := f.store.Records()
	assert.Equal(t, "Headline 1-1", records[0].Title)
	assert.Equal(t, "Headline 3-5", records[14].Title, "按批次内页码顺序追加")
}

func TestOrchestrator_ReturnsToAnchorAfterEachPage(t *testing.T) {
	f := newOrchestratorFixture(t, 2)

	res := f.orch.RunBatch(context.Background(), models.Batch{Index: 1, Start: 1, End: 3})

	require.NoError(t, res.Err)
	assert.Equal(t,
		[]crawlers.TabHandle{"tab-1", "anchor", "tab-2", "anchor", "tab-3", "anchor"},
		f.browser.switchedTabs(),
		"关闭标签页后切回锚点页")
}

func TestOrchestrator_SessionLostWhileReturningToAnchor(t *testing.T) {
	f := newOrchestratorFixture(t, 2)
	f.browser.onOpen = func(page int) {
		if page == 2 {
			f.browser.failTabs(fmt.Errorf("%w: target closed", crawlers.ErrSessionLost))
		}
	}

	res := f.orch.RunBatch(context.Background(), models.Batch{Index: 1, Start: 1, End: 3})

	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, crawlers.ErrSessionLost))
	assert.Equal(t, 2, res.Succeeded, "切回前的页面已经完成")
	assert.Equal(t, 1, res.Failed)

	got := outcomeByPage(f.store.Outcomes())
	assert.True(t, strings.HasPrefix(got[3].Reason, "batch failure: "), got[3].Reason)
	assert.Equal(t, []int{1, 2}, f.browser.visitedPages())
	_, terminated := f.browser.stats()
	assert.Equal(t, 1, terminated)
}

func TestOrchestrator_ZeroArticles(t *testing.T) {
	f := newOrchestratorFixture(t, 2)
	f.browser.scripts[2] = pageScript{empty: true}

	res := f.orch.RunBatch(context.Background(), models.Batch{Index: 1, Start: 1, End: 3})

	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	got := outcomeByPage(f.store.Outcomes())
	assert.Equal(t, models.OutcomeFailure, got[2].Status)
	assert.Equal(t, ReasonNoArticles, got[2].Reason)
	assert.Equal(t, 4, f.store.RecordCount())
	assert.Equal(t, 3, f.browser.closed, "零结果的标签页也被关闭")
}

func TestOrchestrator_LoadTimeout(t *testing.T) {
	f := newOrchestratorFixture(t, 2)
	f.browser.scripts[1] = pageScript{notReady: true}

	f.orch.RunBatch(context.Background(), models.Batch{Index: 1, Start: 1, End: 2})

	got := outcomeByPage(f.store.Outcomes())
	assert.Equal(t, ReasonLoadTimeout, got[1].Reason)
	assert.True(t, got[2].Succeeded(), "后续页面不受影响")
	assert.Equal(t, 2, f.browser.closed)
}

func TestOrchestrator_PageLevelErrors(t *testing.T) {
	f := newOrchestratorFixture(t, 1)
	f.browser.scripts[1] = pageScript{openErr: fmt.Errorf("%w: no new handle", crawlers.ErrTabOpen)}
	f.browser.scripts[2] = pageScript{switchErr: fmt.Errorf("%w: tab-2", crawlers.ErrTabGone)}
	f.browser.scripts[3] = pageScript{readyErr: errors.New("navigation aborted")}

	res := f.orch.RunBatch(context.Background(), models.Batch{Index: 4, Start: 1, End: 4})

	assert.NoError(t, res.Err, "页面级错误不会上升为批次失败")
	got := outcomeByPage(f.store.Outcomes())
	assert.Contains(t, got[1].Reason, "no new handle")
	assert.Contains(t, got[2].Reason, "tab-2")
	assert.Equal(t, "navigation aborted", got[3].Reason)
	assert.True(t, got[4].Succeeded())
	for _, o := range got {
		assert.Equal(t, 4, o.Batch)
	}
}

func TestOrchestrator_SessionLostKeepsEarlierPages(t *testing.T) {
	f := newOrchestratorFixture(t, 3)
	f.browser.scripts[3] = pageScript{openErr: fmt.Errorf("%w: websocket closed", crawlers.ErrSessionLost)}

	res := f.orch.RunBatch(context.Background(), models.Batch{Index: 1, Start: 1, End: 5})

	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, crawlers.ErrSessionLost))
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 3, res.Failed, "B-K个页面记为批次失败")

	outcomes := f.store.Outcomes()
	require.Len(t, outcomes, 5, "每页恰好一个结果")
	got := outcomeByPage(outcomes)
	assert.True(t, got[1].Succeeded())
	assert.True(t, got[2].Succeeded())
	for _, p := range []int{3, 4, 5} {
		assert.True(t, strings.HasPrefix(got[p].Reason, "batch failure: "), "page %d: %s", p, got[p].Reason)
	}

	assert.Equal(t, 6, f.store.RecordCount(), "已成功页面的文章照常保存")
	_, terminated := f.browser.stats()
	assert.Equal(t, 1, terminated)
	assert.Equal(t, []int{1, 2, 3}, f.browser.visitedPages(), "会话断开后不再打开新页面")
}

func TestOrchestrator_SessionCreateFailure(t *testing.T) {
	f := newOrchestratorFixture(t, 3)
	f.browser.createErr = errors.New("chrome not found")

	res := f.orch.RunBatch(context.Background(), models.Batch{Index: 2, Start: 4, End: 6})

	require.Error(t, res.Err)
	assert.Equal(t, 3, res.Failed)
	for _, o := range f.store.Outcomes() {
		assert.Contains(t, o.Reason, "batch failure: ")
		assert.Contains(t, o.Reason, "chrome not found")
	}
	_, terminated := f.browser.stats()
	assert.Zero(t, terminated, "没有会话需要结束")
	assert.Zero(t, f.pacer.count(PacePostTeardown))
}

func TestOrchestrator_PanicBecomesBatchFailure(t *testing.T) {
	f := newOrchestratorFixture(t, 2)
	f.browser.scripts[2] = pageScript{panics: true}

	var res BatchResult
	require.NotPanics(t, func() {
		res = f.orch.RunBatch(context.Background(), models.Batch{Index: 1, Start: 1, End: 3})
	})

	require.Error(t, res.Err)
	got := outcomeByPage(f.store.Outcomes())
	assert.True(t, got[1].Succeeded())
	assert.Contains(t, got[2].Reason, "renderer crashed")
	assert.Contains(t, got[3].Reason, "batch failure: ")
	_, terminated := f.browser.stats()
	assert.Equal(t, 1, terminated, "panic后仍然结束会话")
}

func TestOrchestrator_ReasonTruncated(t *testing.T) {
	f := newOrchestratorFixture(t, 1)
	f.browser.scripts[1] = pageScript{openErr: errors.New(strings.Repeat("页", 300))}

	f.orch.RunBatch(context.Background(), models.Batch{Index: 1, Start: 1, End: 1})

	reason := f.store.Outcomes()[0].Reason
	assert.LessOrEqual(t, utf8.RuneCountInString(reason), 100)
}

func TestOrchestrator_CancelledBatch(t *testing.T) {
	f := newOrchestratorFixture(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	f.browser.onOpen = func(page int) {
		if page == 2 {
			cancel()
		}
	}
	f.browser.scripts[2] = pageScript{readyErr: context.Canceled}

	res := f.orch.RunBatch(ctx, models.Batch{Index: 1, Start: 1, End: 3})

	require.Error(t, res.Err)
	outcomes := f.store.Outcomes()
	require.Len(t, outcomes, 3)
	got := outcomeByPage(outcomes)
	assert.True(t, got[1].Succeeded())
	assert.Contains(t, got[2].Reason, "batch failure: ")
	assert.Contains(t, got[3].Reason, "batch failure: ")
	_, terminated := f.browser.stats()
	assert.Equal(t, 1, terminated)
}

func TestOrchestrator_FinalTeardownIdempotent(t *testing.T) {
	f := newOrchestratorFixture(t, 1)
	f.orch.RunBatch(context.Background(), models.Batch{Index: 1, Start: 1, End: 1})

	f.orch.FinalTeardown()
	f.orch.FinalTeardown()

	_, terminated := f.browser.stats()
	assert.Equal(t, 1, terminated, "批次结束后会话已销毁,不会重复结束")
}

func TestRelease_SwallowsPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		release("测试", func() error { panic("boom") })
	})
	assert.NotPanics(t, func() {
		release("测试", func() error { return errors.New("ignored") })
	})
}
