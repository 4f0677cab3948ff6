package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/RecoveryAshes/NewsHarvest/internal/crawlers"
	"github.com/RecoveryAshes/NewsHarvest/internal/models"
	"github.com/RecoveryAshes/NewsHarvest/internal/utils"
	"github.com/rs/zerolog/log"
)

// 页面失败原因
const (
	ReasonNoArticles   = "no articles found"
	ReasonLoadTimeout  = "articles didn't load in time"
	ReasonInterrupted  = "run interrupted"
	batchFailurePrefix = "batch failure: "
)

// MemoryMonitor 创建会话前的内存检查
type MemoryMonitor interface {
	Sample(ctx context.Context) float64
}

// Components 编排器依赖
type Components struct {
	Factory   crawlers.SessionFactory
	Extractor crawlers.ArticleExtractor
	Monitor   MemoryMonitor
	Pacer     Pacer
	Store     *Store
	Sink      BatchSink

	// Reclaim 会话结束后的内存回收,为nil时使用crawlers.ReclaimMemory
	Reclaim func()
	// OnOutcome 每产生一个页面结果时回调,用于进度显示
	OnOutcome func(models.PageOutcome)
}

// OrchestratorConfig 编排参数
type OrchestratorConfig struct {
	BaseURL      string
	ReadyTimeout time.Duration
	Session      crawlers.SessionConfig
}

// BatchResult 单个批次的结果
type BatchResult struct {
	Batch     models.Batch
	Succeeded int
	Failed    int
	Records   int
	Err       error // 批次级错误,页面级错误不在此处
}

// Orchestrator 批次编排器
// 每个批次创建一个会话,逐页打开、等待、提取、关闭,批次结束后刷新存储并销毁会话
type Orchestrator struct {
	config OrchestratorConfig
	deps   Components

	mu   sync.Mutex
	live crawlers.BrowserSession
}

// NewOrchestrator 创建编排器
func NewOrchestrator(config OrchestratorConfig, deps Components) *Orchestrator {
	if deps.Pacer == nil {
		deps.Pacer = NoopPacer{}
	}
	if deps.Reclaim == nil {
		deps.Reclaim = crawlers.ReclaimMemory
	}
	return &Orchestrator{config: config, deps: deps}
}

// batchState 批次内缓冲,刷新前不写入存储
type batchState struct {
	batch    models.Batch
	records  []models.ArticleRecord
	outcomes []models.PageOutcome
	recorded map[int]bool
}

func newBatchState(batch models.Batch) *batchState {
	return &batchState{batch: batch, recorded: make(map[int]bool)}
}

func (st *batchState) has(page int) bool {
	return st.recorded[page]
}

// RunBatch 执行一个批次,从不返回错误
// 批次级失败时,本批次尚无结果的页面记为 "batch failure: <err>",已完成页面的结果和文章照常刷新
func (o *Orchestrator) RunBatch(ctx context.Context, batch models.Batch) BatchResult {
	st := newBatchState(batch)

	err := o.runPages(ctx, st)
	if err != nil {
		utils.Errorf("%s 批次失败: %s", batch, utils.ErrorText(err))
		o.failRemaining(st, err)
	}

	o.flush(st)
	o.teardown(ctx)

	res := BatchResult{Batch: batch, Records: len(st.records), Err: err}
	for _, oc := range st.outcomes {
		if oc.Succeeded() {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	return res
}

// runPages 创建会话并处理批次内每一页,返回批次级错误
func (o *Orchestrator) runPages(ctx context.Context, st *batchState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("batch", st.batch.Index).Str("stack", string(debug.Stack())).Msgf("批次发生panic: %v", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if o.deps.Monitor != nil {
		usage := o.deps.Monitor.Sample(ctx)
		utils.Infof("内存占用: %.1f%%", usage)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	session, err := o.deps.Factory.NewSession(ctx, o.config.Session)
	if err != nil {
		return err
	}
	o.setLive(session)

	if err := session.OpenBlank(ctx); err != nil {
		return fmt.Errorf("打开锚点页失败: %w", err)
	}
	o.deps.Pacer.Pause(ctx, PaceSettle)

	pages := st.batch.Pages()
	for i, task := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.processPage(ctx, session, st, task); err != nil {
			return err
		}
		if err := o.returnToAnchor(ctx, session); err != nil {
			return err
		}
		if i < len(pages)-1 {
			o.deps.Pacer.Pause(ctx, PaceInterPage)
		}
	}
	return nil
}

// processPage 处理单页:打开、切换、等待、提取、关闭
// 页面级错误记为失败结果并返回nil;会话断开或取消时返回错误
func (o *Orchestrator) processPage(ctx context.Context, session crawlers.BrowserSession, st *batchState, task models.PageTask) error {
	page := task.Page
	url := task.URL(o.config.BaseURL)
	logger := log.With().Int("batch", st.batch.Index).Int("page", page).Logger()

	tab, err := session.OpenTab(ctx, url)
	if err != nil {
		if escalate(ctx, err) {
			return err
		}
		o.fail(st, page, utils.ErrorText(err))
		return nil
	}
	logger.Debug().Str("tab", string(tab)).Str("url", url).Msg("已打开标签页")

	o.deps.Pacer.Pause(ctx, PacePreTab)

	if err := session.SwitchTo(ctx, tab); err != nil {
		if escalate(ctx, err) {
			return err
		}
		o.fail(st, page, utils.ErrorText(err))
		o.closeTab(ctx, session, tab)
		return nil
	}

	ready, err := session.WaitReady(ctx, tab, o.config.ReadyTimeout)
	if err != nil {
		if escalate(ctx, err) {
			return err
		}
		o.fail(st, page, utils.ErrorText(err))
		o.closeTab(ctx, session, tab)
		return nil
	}
	if !ready {
		o.fail(st, page, ReasonLoadTimeout)
		o.closeTab(ctx, session, tab)
		return nil
	}

	markup, err := session.ReadMarkup(ctx, tab)
	if err != nil {
		if escalate(ctx, err) {
			return err
		}
		o.fail(st, page, utils.ErrorText(err))
		o.closeTab(ctx, session, tab)
		return nil
	}

	records, err := o.deps.Extractor.Extract(markup, page)
	o.closeTab(ctx, session, tab)
	if err != nil {
		o.fail(st, page, utils.ErrorText(err))
		return nil
	}
	if len(records) == 0 {
		o.fail(st, page, ReasonNoArticles)
		return nil
	}

	st.records = append(st.records, records...)
	o.record(st, models.PageOutcome{Page: page, Status: models.OutcomeSuccess})
	logger.Info().Int("articles", len(records)).Msgf("第%d页: %d篇文章", page, len(records))
	return nil
}

// returnToAnchor 还有标签页时切回第一个
func (o *Orchestrator) returnToAnchor(ctx context.Context, session crawlers.BrowserSession) error {
	tabs, err := session.Tabs(ctx)
	if err != nil {
		if escalate(ctx, err) {
			return err
		}
		log.Warn().Err(err).Msg("获取标签页列表失败")
		return nil
	}
	if len(tabs) == 0 {
		return nil
	}
	if err := session.SwitchTo(ctx, tabs[0]); err != nil {
		if escalate(ctx, err) {
			return err
		}
		log.Warn().Err(err).Str("tab", string(tabs[0])).Msg("切回锚点页失败")
	}
	return nil
}

// escalate 会话断开或运行被取消时上升为批次级失败
func escalate(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, crawlers.ErrSessionLost)
}

func (o *Orchestrator) fail(st *batchState, page int, reason string) {
	o.record(st, models.PageOutcome{Page: page, Status: models.OutcomeFailure, Reason: reason})
	log.Warn().Int("batch", st.batch.Index).Int("page", page).Str("reason", reason).Msgf("第%d页失败", page)
}

func (o *Orchestrator) record(st *batchState, outcome models.PageOutcome) {
	if st.has(outcome.Page) {
		return
	}
	outcome.Batch = st.batch.Index
	outcome.At = time.Now()
	st.outcomes = append(st.outcomes, outcome)
	st.recorded[outcome.Page] = true
	if o.deps.OnOutcome != nil {
		o.deps.OnOutcome(outcome)
	}
}

// failRemaining 批次内尚无结果的页面记为批次失败
func (o *Orchestrator) failRemaining(st *batchState, cause error) {
	reason := batchFailurePrefix + utils.ErrorText(cause)
	for _, task := range st.batch.Pages() {
		if !st.has(task.Page) {
			o.record(st, models.PageOutcome{Page: task.Page, Status: models.OutcomeFailure, Reason: reason})
		}
	}
}

// Abandon 未执行批次的页面记为失败,只写入存储
func (o *Orchestrator) Abandon(batch models.Batch, reason string) {
	st := newBatchState(batch)
	for _, task := range batch.Pages() {
		o.record(st, models.PageOutcome{Page: task.Page, Status: models.OutcomeFailure, Reason: reason})
	}
	o.deps.Store.Flush(nil, st.outcomes)
}

// flush 写入存储并覆盖快照和检查点,持久化失败只记录日志
func (o *Orchestrator) flush(st *batchState) {
	o.deps.Store.Flush(st.records, st.outcomes)
	if o.deps.Sink == nil {
		return
	}
	if err := o.deps.Sink.Persist(o.deps.Store, st.batch); err != nil {
		utils.Errorf("%s 保存失败: %v", st.batch, err)
		return
	}
	utils.Infof("%s 已保存: 新增%d篇文章,累计%d篇", st.batch, len(st.records), o.deps.Store.RecordCount())
}

// closeTab 尽力关闭标签页
func (o *Orchestrator) closeTab(ctx context.Context, session crawlers.BrowserSession, tab crawlers.TabHandle) {
	release("关闭标签页", func() error { return session.CloseTab(ctx, tab) })
}

// teardown 结束会话,回收内存并等待
func (o *Orchestrator) teardown(ctx context.Context) {
	if o.terminateLive() {
		o.deps.Reclaim()
		o.deps.Pacer.Pause(ctx, PacePostTeardown)
	}
}

// FinalTeardown 结束仍存活的会话,可重复调用
func (o *Orchestrator) FinalTeardown() {
	o.terminateLive()
}

func (o *Orchestrator) setLive(session crawlers.BrowserSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.live = session
}

func (o *Orchestrator) terminateLive() bool {
	o.mu.Lock()
	session := o.live
	o.live = nil
	o.mu.Unlock()

	if session == nil {
		return false
	}
	release("结束浏览器会话", session.Terminate)
	return true
}

// release 尽力释放资源,错误和panic只记录日志
func release(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Msgf("%s时发生panic: %v", what, r)
		}
	}()
	if err := fn(); err != nil {
		log.Debug().Err(err).Msgf("%s失败(忽略)", what)
	}
}
