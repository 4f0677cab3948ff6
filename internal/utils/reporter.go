package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/NewsHarvest/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"
)

// ReportFilename 运行报告文件名
const ReportFilename = "harvest_report.json"

// Reporter 报告生成器
type Reporter struct {
	outputDir string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string) *Reporter {
	return &Reporter{outputDir: outputDir}
}

// GenerateReport 写入JSON运行报告,返回报告路径
func (r *Reporter) GenerateReport(report *models.HarvestReport) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	path := filepath.Join(r.outputDir, ReportFilename)
	if err := r.saveJSONReport(path, report); err != nil {
		return "", err
	}

	Infof("✅ 报告已生成: %s", path)
	return path, nil
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(path string, report *models.HarvestReport) error {
	jsonData, err := report.ToJSON()
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return nil
}

// RenderSummary 以表格形式输出运行摘要
func RenderSummary(w io.Writer, summary models.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("采集摘要")

	t.AppendHeader(table.Row{"项目", "数值"})
	t.AppendRows([]table.Row{
		{"运行ID", summary.RunID},
		{"批次数", summary.Batches},
		{"成功页数", summary.SuccessfulPages},
		{"失败页数", summary.FailedPages},
		{"失败记录数", summary.FailureOutcomes},
		{"跳过页数", summary.SkippedPages},
		{"本次新增文章", summary.NewRecords},
		{"文章总数", summary.TotalRecords},
		{"失败页码", formatPages(summary.FailedPageList)},
		{"内存回收次数", summary.Reclamations},
		{"是否中断", summary.Interrupted},
		{"耗时(秒)", fmt.Sprintf("%.1f", summary.Duration)},
	})

	t.Render()
}

func formatPages(pages []int) string {
	if len(pages) == 0 {
		return "-"
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ", ")
}

// PageProgress 页面进度条
type PageProgress struct {
	bar *progressbar.ProgressBar
}

// NewPageProgress 创建页面进度条,输出到stderr
func NewPageProgress(total int, visible bool) *PageProgress {
	return &PageProgress{bar: NewProgressBar(total, "采集页面", os.Stderr, visible)}
}

// PageDone 记录一个页面的最终结果
func (p *PageProgress) PageDone(outcome models.PageOutcome) {
	if p == nil || p.bar == nil {
		return
	}
	if outcome.Succeeded() {
		p.bar.Describe(fmt.Sprintf("采集页面 (第%d页 ✓)", outcome.Page))
	} else {
		p.bar.Describe(fmt.Sprintf("采集页面 (第%d页 ✗)", outcome.Page))
	}
	_ = p.bar.Add(1)
}

// Finish 结束进度条
func (p *PageProgress) Finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string, w io.Writer, visible bool) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
