package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RecoveryAshes/NewsHarvest/internal/core"
	"github.com/RecoveryAshes/NewsHarvest/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers        []string // 额外HTTP请求头
	validateConfig bool     // 验证配置文件

	// 采集参数
	baseURL       string
	startPage     int
	endPage       int
	batchSize     int
	readyTimeout  time.Duration
	skipSucceeded bool
	backend       string
	headless      bool
	linkBase      string
	noProgress    bool

	// 输出参数
	snapshotPath string
	reportDir    string

	// init-config参数
	initOutput string
	initForce  bool
)

// appConfig 由PersistentPreRunE加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "newsharvest",
	Short: "分页新闻列表批量采集工具",
	Long: `NewsHarvest - 分页新闻列表批量采集工具

按批次驱动浏览器逐页打开新闻列表,提取标题、链接、摘要和发布时间:
  • 每批使用全新的浏览器会话 (rod | chromedp | static)
  • 单页失败不影响其他页面,浏览器崩溃只影响当前批次
  • 每批结束后原子写入CSV快照 (UTF-8 BOM) 和检查点
  • 内存占用超过阈值时自动回收
  • 运行结束输出汇总表和JSON报告

示例:
  # 使用默认配置采集第1-286页
  newsharvest

  # 指定页码范围和批次大小
  newsharvest -s 10 -e 40 -b 5 -o forex.csv

  # 续跑时跳过已成功的页面
  newsharvest --skip-succeeded

  # 额外请求头部
  newsharvest -H "Cookie: session=abc" -H "Referer: https://www.investing.com/"

  # 生成配置文件模板
  newsharvest init-config -o configs/config.yaml

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		// 命令行参数覆盖配置文件
		if logLevel != "" {
			config.Logging.Level = logLevel
		}

		if err := utils.InitLogger(config.Logging.LogConfig()); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if verbose {
			utils.Info("详细模式已启用")
		}

		appConfig = config
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// 创建HTTP头部管理器
		headerManager, err := core.NewHeaderManager(appConfig.Session.Headers, headers)
		if err != nil {
			return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
		}

		// 如果用户请求验证配置
		if validateConfig {
			utils.Info("🔍 验证配置...")
			if err := headerManager.Validate(); err != nil {
				return fmt.Errorf("头部验证失败: %w", err)
			}
			appConfig.MergeCLIFlags(collectOverrides(cmd))
			if err := ValidateConfig(appConfig); err != nil {
				return fmt.Errorf("配置验证失败: %w", err)
			}
			utils.Info("✅ 配置验证通过!")
			utils.Infof("当前有效的HTTP头部: %s", headerManager.GetSafeHeaders())
			return nil
		}

		appConfig.MergeCLIFlags(collectOverrides(cmd))
		if err := ValidateConfig(appConfig); err != nil {
			return err
		}

		// 设置信号处理(Ctrl+C优雅退出,当前批次收尾后停止)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		harvester, err := core.NewHarvester(appConfig, headerManager, core.WithProgress(!noProgress))
		if err != nil {
			return fmt.Errorf("创建采集器失败: %w", err)
		}

		report, err := harvester.Run(ctx)
		if err != nil {
			return fmt.Errorf("采集失败: %w", err)
		}

		// 显示统计结果
		utils.RenderSummary(os.Stdout, report.Summary)

		if report.Summary.Interrupted {
			utils.Warn("采集被中断,已保存进度,可使用 --skip-succeeded 续跑")
			return nil
		}
		utils.Info("✨ 采集任务完成!")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "NewsHarvest %s\n", Version)
		fmt.Fprintf(cmd.OutOrStdout(), "构建时间: %s\n", BuildTime)
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "生成默认配置文件模板",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := WriteConfigTemplate(initOutput, initForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已生成配置文件: %s\n", initOutput)
		return nil
	},
}

// collectOverrides 收集用户显式指定的命令行参数
func collectOverrides(cmd *cobra.Command) core.CLIOverrides {
	flags := cmd.Flags()
	overrides := core.CLIOverrides{
		BaseURL:      baseURL,
		StartPage:    startPage,
		EndPage:      endPage,
		BatchSize:    batchSize,
		ReadyTimeout: readyTimeout,
		Snapshot:     snapshotPath,
		ReportDir:    reportDir,
		Backend:      backend,
		LinkBase:     linkBase,
		LogLevel:     logLevel,
	}
	if flags.Changed("skip-succeeded") {
		v := skipSucceeded
		overrides.SkipSucceeded = &v
	}
	if flags.Changed("headless") {
		v := headless
		overrides.Headless = &v
	}
	return overrides
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "额外HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.Flags().BoolVar(&validateConfig, "validate-config", false, "验证配置后退出")

	// 采集参数
	rootCmd.Flags().StringVarP(&baseURL, "url", "u", "", "列表页基础URL,可包含{page}占位符")
	rootCmd.Flags().IntVarP(&startPage, "start", "s", 0, "起始页码")
	rootCmd.Flags().IntVarP(&endPage, "end", "e", 0, "结束页码(包含)")
	rootCmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "每批页数 (1-20)")
	rootCmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 0, "等待文章列表出现的超时时间")
	rootCmd.Flags().BoolVar(&skipSucceeded, "skip-succeeded", false, "跳过检查点中已成功的页面")
	rootCmd.Flags().StringVar(&backend, "backend", "", "会话后端 (rod|chromedp|static)")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().StringVar(&linkBase, "link-base", "", "相对链接的基地址")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "不显示进度条")

	// 输出参数
	rootCmd.Flags().StringVarP(&snapshotPath, "output", "o", "", "CSV快照路径")
	rootCmd.Flags().StringVar(&reportDir, "report-dir", "", "运行报告目录")

	// init-config参数
	initConfigCmd.Flags().StringVarP(&initOutput, "output", "o", "configs/config.yaml", "配置文件输出路径")
	initConfigCmd.Flags().BoolVarP(&initForce, "force", "f", false, "覆盖已存在的文件")

	// 添加子命令
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
