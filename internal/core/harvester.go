package core

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/NewsHarvest/internal/crawlers"
	"github.com/RecoveryAshes/NewsHarvest/internal/models"
	"github.com/RecoveryAshes/NewsHarvest/internal/utils"
)

// Harvester 采集任务协调器
// 负责加载已有快照和检查点、组装编排器并生成运行报告
type Harvester struct {
	config *Config
	runID  string

	headers   models.HeaderProvider
	factory   crawlers.SessionFactory
	extractor crawlers.ArticleExtractor
	monitor   MemoryMonitor
	pacer     Pacer
	reclaim   func()
	progress  bool

	store      *Store
	snapshot   *CSVSnapshot
	checkpoint *CheckpointStore
}

// HarvesterOption 协调器选项
type HarvesterOption func(*Harvester)

// WithSessionFactory 替换浏览器会话工厂
func WithSessionFactory(f crawlers.SessionFactory) HarvesterOption {
	return func(h *Harvester) { h.factory = f }
}

// WithPacer 替换节奏控制
func WithPacer(p Pacer) HarvesterOption {
	return func(h *Harvester) { h.pacer = p }
}

// WithMemoryMonitor 替换内存监控
func WithMemoryMonitor(m MemoryMonitor) HarvesterOption {
	return func(h *Harvester) { h.monitor = m }
}

// WithReclaim 替换会话结束后的内存回收
func WithReclaim(f func()) HarvesterOption {
	return func(h *Harvester) { h.reclaim = f }
}

// WithProgress 是否在stderr显示进度条
func WithProgress(show bool) HarvesterOption {
	return func(h *Harvester) { h.progress = show }
}

// NewHarvester 创建采集协调器
// 已有快照中的文章作为存储的初始内容;检查点中的成功页面用于跳过已完成页面
func NewHarvester(config *Config, headers models.HeaderProvider, opts ...HarvesterOption) (*Harvester, error) {
	if err := config.Harvest.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	extractor, err := crawlers.NewSelectorExtractor(config.Extract)
	if err != nil {
		return nil, err
	}

	h := &Harvester{
		config:    config,
		runID:     models.NewRunID(),
		headers:   headers,
		factory:   crawlers.BackendFactory{},
		extractor: extractor,
		snapshot:  NewCSVSnapshot(config.Output.Snapshot),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.monitor == nil {
		h.monitor = crawlers.NewResourceMonitor(config.Resource)
	}
	if h.pacer == nil {
		h.pacer = NewJitterPacer(config.Pacing)
	}
	h.checkpoint = NewCheckpointStore(config.Output.CheckpointPath(), h.runID, config.Harvest.BaseURL)

	seed, err := h.snapshot.Load()
	if err != nil {
		return nil, err
	}
	if len(seed) > 0 {
		utils.Infof("从已有快照加载%d条记录: %s", len(seed), h.snapshot.Path())
	}
	h.store = NewStore(seed)

	cp, err := h.checkpoint.Load()
	if err != nil {
		utils.Warnf("忽略检查点: %v", err)
	} else if cp != nil {
		h.store.SeedCheckpoint(cp)
		utils.Infof("加载检查点: %d个已成功页面", len(cp.SucceededPages))
	}

	return h, nil
}

// RunID 本次运行ID
func (h *Harvester) RunID() string {
	return h.runID
}

// Store 运行状态
func (h *Harvester) Store() *Store {
	return h.store
}

// Run 执行采集并生成报告,启动后不会因页面或批次失败返回错误
func (h *Harvester) Run(ctx context.Context) (*models.HarvestReport, error) {
	startTime := time.Now()

	sessionConfig, err := h.config.SessionConfig(h.headers)
	if err != nil {
		return nil, err
	}

	utils.Infof("运行ID: %s", h.runID)
	utils.Infof("列表URL: %s", h.config.Harvest.BaseURL)
	utils.Infof("浏览器后端: %s", sessionConfig.Backend)
	utils.Infof("快照文件: %s", h.snapshot.Path())
	if rm, ok := h.monitor.(*crawlers.ResourceMonitor); ok {
		snap := rm.Snapshot(ctx)
		utils.Infof("系统资源: 内存 %.1f%%, CPU %.1f%% (%s)", snap.MemoryPercent, snap.CPUPercent, snap.Pressure)
	}

	sink := &FileSink{Snapshot: h.snapshot, Checkpoint: h.checkpoint}
	_, skipped := PlanBatches(h.config.Harvest, h.store)
	progress := utils.NewPageProgress(h.config.Harvest.TotalPages()-len(skipped), h.progress)

	orchestrator := NewOrchestrator(OrchestratorConfig{
		BaseURL:      h.config.Harvest.BaseURL,
		ReadyTimeout: h.config.Harvest.ReadyTimeout,
		Session:      sessionConfig,
	}, Components{
		Factory:   h.factory,
		Extractor: h.extractor,
		Monitor:   h.monitor,
		Pacer:     h.pacer,
		Store:     h.store,
		Sink:      sink,
		Reclaim:   h.reclaim,
		OnOutcome: progress.PageDone,
	})
	runner := NewBatchRunner(h.config.Harvest, orchestrator, h.store, h.pacer, sink, h.runID)

	summary := runner.Run(ctx)
	progress.Finish()
	if rm, ok := h.monitor.(*crawlers.ResourceMonitor); ok {
		summary.Reclamations = rm.Reclamations()
	}

	report := &models.HarvestReport{
		RunID:          h.runID,
		BaseURL:        h.config.Harvest.BaseURL,
		Backend:        sessionConfig.Backend,
		StartTime:      startTime,
		EndTime:        time.Now(),
		Summary:        summary,
		Outcomes:       h.store.Outcomes(),
		SnapshotPath:   h.snapshot.Path(),
		CheckpointPath: h.checkpoint.Path(),
		Config:         h.config.Harvest,
	}

	if h.config.Output.ReportDir != "" {
		if _, err := utils.NewReporter(h.config.Output.ReportDir).GenerateReport(report); err != nil {
			utils.Warnf("生成报告失败: %v", err)
		}
	}

	return report, nil
}
