package core

import (
	"context"
	"time"

	"github.com/RecoveryAshes/NewsHarvest/internal/models"
	"github.com/RecoveryAshes/NewsHarvest/internal/utils"
)

// BatchRunner 批次调度器
// 将页码范围切分为批次并顺序执行,批次之间随机冷却
type BatchRunner struct {
	config       models.HarvestConfig
	orchestrator *Orchestrator
	store        *Store
	pacer        Pacer
	sink         BatchSink
	runID        string
}

// NewBatchRunner 创建批次调度器
func NewBatchRunner(config models.HarvestConfig, orchestrator *Orchestrator, store *Store, pacer Pacer, sink BatchSink, runID string) *BatchRunner {
	if pacer == nil {
		pacer = NoopPacer{}
	}
	return &BatchRunner{
		config:       config,
		orchestrator: orchestrator,
		store:        store,
		pacer:        pacer,
		sink:         sink,
		runID:        runID,
	}
}

// Plan 本次运行的批次
func (br *BatchRunner) Plan() (batches []models.Batch, skipped []int) {
	return PlanBatches(br.config, br.store)
}

// PlanBatches 切分批次
// 开启 SkipSucceeded 时排除存储中已成功的页面,返回被跳过的页码
func PlanBatches(config models.HarvestConfig, store *Store) (batches []models.Batch, skipped []int) {
	if !config.SkipSucceeded {
		return config.Batches(), nil
	}

	var pending []int
	for p := config.StartPage; p <= config.EndPage; p++ {
		if store.IsSucceeded(p) {
			skipped = append(skipped, p)
			continue
		}
		pending = append(pending, p)
	}
	if len(skipped) == 0 {
		return config.Batches(), nil
	}
	return models.PartitionList(pending, config.BatchSize), skipped
}

// Run 顺序执行所有批次
// 无论正常结束还是被中断,都会结束残留会话并返回摘要;中断后未执行的页面记为 "run interrupted"
func (br *BatchRunner) Run(ctx context.Context) models.RunSummary {
	startTime := time.Now()
	batches, skipped := br.Plan()
	if len(skipped) > 0 {
		br.store.MarkSkipped(skipped)
		utils.Infof("跳过%d个已成功页面", len(skipped))
	}

	utils.Infof("🚀 开始采集: 第%d-%d页, 共%d个批次", br.config.StartPage, br.config.EndPage, len(batches))

	executed := 0
	interrupted := false
	defer br.orchestrator.FinalTeardown()

	for i, batch := range batches {
		if ctx.Err() != nil {
			interrupted = true
			br.abandon(batches[i:], executed)
			break
		}

		utils.Infof("==================== 批次 %d/%d: 第%d-%d页 ====================", batch.Index, len(batches), batch.Start, batch.End)
		result := br.orchestrator.RunBatch(ctx, batch)
		executed++
		utils.Infof("%s 完成: 成功%d页, 失败%d页, %d篇文章", batch, result.Succeeded, result.Failed, result.Records)

		if i < len(batches)-1 {
			br.pacer.Pause(ctx, PaceInterBatch)
		}
	}
	if ctx.Err() != nil {
		interrupted = true
	}

	summary := br.store.Summary()
	summary.RunID = br.runID
	summary.Batches = executed
	summary.Interrupted = interrupted
	summary.Duration = time.Since(startTime).Seconds()

	br.printSummary(summary)
	return summary
}

// abandon 未执行批次的页面记为中断失败并保存
func (br *BatchRunner) abandon(batches []models.Batch, lastDone int) {
	utils.Warnf("运行被中断,%d个批次未执行", len(batches))
	for _, b := range batches {
		br.orchestrator.Abandon(b, ReasonInterrupted)
	}
	if br.sink == nil {
		return
	}
	if err := br.sink.Persist(br.store, models.Batch{Index: lastDone}); err != nil {
		utils.Errorf("保存中断状态失败: %v", err)
	}
}

// printSummary 打印运行摘要
func (br *BatchRunner) printSummary(summary models.RunSummary) {
	utils.Info("==================================================")
	utils.Info("📊 采集摘要")
	utils.Info("==================================================")
	utils.Infof("✅ 成功: %d页", summary.SuccessfulPages)
	utils.Infof("❌ 失败: %d页 (%d条失败记录)", summary.FailedPages, summary.FailureOutcomes)
	if summary.SkippedPages > 0 {
		utils.Infof("⏭️  跳过: %d页", summary.SkippedPages)
	}
	utils.Infof("📦 文章总数: %d (本次新增%d)", summary.TotalRecords, summary.NewRecords)
	utils.Infof("⏱️  总耗时: %.2f秒", summary.Duration)
	if summary.Interrupted {
		utils.Warn("运行被中断")
	}
	utils.Info("==================================================")

	if len(summary.FailedPageList) > 0 {
		utils.Warnf("失败页面: %v", summary.FailedPageList)
	} else {
		utils.Info("所有页面采集成功")
	}
}
