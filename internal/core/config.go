package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/NewsHarvest/internal/crawlers"
	"github.com/RecoveryAshes/NewsHarvest/internal/models"
	"github.com/RecoveryAshes/NewsHarvest/internal/utils"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀,例如 NEWSHARVEST_HARVEST_BATCH_SIZE
const EnvPrefix = "NEWSHARVEST"

// Config 应用程序配置
type Config struct {
	Harvest  models.HarvestConfig           `mapstructure:"harvest" yaml:"harvest"`
	Output   OutputConfig                   `mapstructure:"output" yaml:"output"`
	Session  SessionSettings                `mapstructure:"session" yaml:"session"`
	Extract  crawlers.ExtractConfig         `mapstructure:"extract" yaml:"extract"`
	Pacing   PacingConfig                   `mapstructure:"pacing" yaml:"pacing"`
	Resource crawlers.ResourceMonitorConfig `mapstructure:"resource" yaml:"resource"`
	Logging  LoggingConfig                  `mapstructure:"logging" yaml:"logging"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Snapshot   string `mapstructure:"snapshot" yaml:"snapshot"`     // CSV快照路径
	Checkpoint string `mapstructure:"checkpoint" yaml:"checkpoint"` // 检查点路径,为空时根据快照路径生成
	ReportDir  string `mapstructure:"report_dir" yaml:"report_dir"` // 运行报告目录
}

// CheckpointPath 检查点文件路径
func (o OutputConfig) CheckpointPath() string {
	if o.Checkpoint != "" {
		return o.Checkpoint
	}
	return models.CheckpointFilename(o.Snapshot)
}

// SessionSettings 浏览器会话配置,Headers为配置文件中的额外头部
type SessionSettings struct {
	crawlers.SessionConfig `mapstructure:",squash" yaml:",inline"`

	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level" yaml:"level"`
	LogDir   string         `mapstructure:"log_dir" yaml:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int  `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// LogConfig 转换为utils.LogConfig
func (l LoggingConfig) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      l.Level,
		LogDir:     l.LogDir,
		MaxSize:    l.Rotation.MaxSize,
		MaxBackups: l.Rotation.MaxBackups,
		MaxAge:     l.Rotation.MaxAge,
		Compress:   l.Rotation.Compress,
	}
}

// LoadConfig 加载配置文件
// configPath为空时在 ./configs、当前目录和 ~/.newsharvest 中查找 config.yaml,找不到则使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".newsharvest"))
		}
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &models.ConfigError{FilePath: configPath, Cause: fmt.Errorf("读取配置文件失败: %w", err)}
		}
		utils.Debug("未找到配置文件,使用默认配置")
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: fmt.Errorf("解析配置文件失败: %w", err)}
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// 采集配置默认值
	v.SetDefault("harvest.base_url", d.Harvest.BaseURL)
	v.SetDefault("harvest.start_page", d.Harvest.StartPage)
	v.SetDefault("harvest.end_page", d.Harvest.EndPage)
	v.SetDefault("harvest.batch_size", d.Harvest.BatchSize)
	v.SetDefault("harvest.ready_timeout", d.Harvest.ReadyTimeout)
	v.SetDefault("harvest.skip_succeeded", d.Harvest.SkipSucceeded)

	// 输出配置默认值
	v.SetDefault("output.snapshot", d.Output.Snapshot)
	v.SetDefault("output.checkpoint", d.Output.Checkpoint)
	v.SetDefault("output.report_dir", d.Output.ReportDir)

	// 会话配置默认值
	v.SetDefault("session.backend", d.Session.Backend)
	v.SetDefault("session.headless", d.Session.Headless)
	v.SetDefault("session.user_agent", d.Session.UserAgent)
	v.SetDefault("session.disable_cache", d.Session.DisableCache)
	v.SetDefault("session.block_resources", d.Session.BlockResources)
	v.SetDefault("session.stealth", d.Session.Stealth)
	v.SetDefault("session.presence_timeout", d.Session.PresenceTimeout)
	v.SetDefault("session.navigate_timeout", d.Session.NavigateTimeout)
	v.SetDefault("session.content_selector", d.Session.ContentSelector)
	v.SetDefault("session.browser_bin", d.Session.BrowserBin)
	v.SetDefault("session.no_sandbox", d.Session.NoSandbox)

	// 提取规则默认值
	v.SetDefault("extract.article_selector", d.Extract.ArticleSelector)
	v.SetDefault("extract.link_selector", d.Extract.LinkSelector)
	v.SetDefault("extract.description_selector", d.Extract.DescriptionSelector)
	v.SetDefault("extract.time_selector", d.Extract.TimeSelector)
	v.SetDefault("extract.link_base", d.Extract.LinkBase)

	// 节奏控制默认值
	v.SetDefault("pacing.settle", d.Pacing.Settle)
	v.SetDefault("pacing.pre_tab.min", d.Pacing.PreTab.Min)
	v.SetDefault("pacing.pre_tab.max", d.Pacing.PreTab.Max)
	v.SetDefault("pacing.inter_page.min", d.Pacing.InterPage.Min)
	v.SetDefault("pacing.inter_page.max", d.Pacing.InterPage.Max)
	v.SetDefault("pacing.inter_batch.min", d.Pacing.InterBatch.Min)
	v.SetDefault("pacing.inter_batch.max", d.Pacing.InterBatch.Max)
	v.SetDefault("pacing.post_teardown", d.Pacing.PostTeardown)

	// 资源监控默认值
	v.SetDefault("resource.memory_threshold", d.Resource.MemoryThreshold)
	v.SetDefault("resource.cooldown", d.Resource.Cooldown)

	// 日志配置默认值
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.log_dir", d.Logging.LogDir)
	v.SetDefault("logging.rotation.max_size", d.Logging.Rotation.MaxSize)
	v.SetDefault("logging.rotation.max_backups", d.Logging.Rotation.MaxBackups)
	v.SetDefault("logging.rotation.max_age", d.Logging.Rotation.MaxAge)
	v.SetDefault("logging.rotation.compress", d.Logging.Rotation.Compress)
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	logging := utils.DefaultLogConfig()
	return Config{
		Harvest: models.HarvestConfig{
			BaseURL:      "https://www.investing.com/news/forex-news/",
			StartPage:    1,
			EndPage:      286,
			BatchSize:    3,
			ReadyTimeout: 20 * time.Second,
		},
		Output: OutputConfig{
			Snapshot:  "investing_forex_news.csv",
			ReportDir: "reports",
		},
		Session: SessionSettings{SessionConfig: crawlers.DefaultSessionConfig()},
		Extract: crawlers.ExtractConfig{
			ArticleSelector:     crawlers.DefaultArticleSelector,
			LinkSelector:        crawlers.DefaultLinkSelector,
			DescriptionSelector: crawlers.DefaultDescriptionSelector,
			TimeSelector:        crawlers.DefaultTimeSelector,
			LinkBase:            "https://www.investing.com",
		},
		Pacing: DefaultPacingConfig(),
		Resource: crawlers.ResourceMonitorConfig{
			MemoryThreshold: crawlers.DefaultMemoryThreshold,
			Cooldown:        crawlers.DefaultCooldown,
		},
		Logging: LoggingConfig{
			Level:  logging.Level,
			LogDir: logging.LogDir,
			Rotation: RotationConfig{
				MaxSize:    logging.MaxSize,
				MaxBackups: logging.MaxBackups,
				MaxAge:     logging.MaxAge,
				Compress:   logging.Compress,
			},
		},
	}
}

// SessionConfig 合并额外头部后的会话配置
func (c *Config) SessionConfig(headers models.HeaderProvider) (crawlers.SessionConfig, error) {
	sc := c.Session.SessionConfig
	if headers != nil {
		h, err := headers.GetHeaders()
		if err != nil {
			return sc, err
		}
		sc.Headers = h
	}
	return sc, nil
}

// MergeCLIFlags 合并命令行参数到配置,零值表示未指定
func (c *Config) MergeCLIFlags(flags CLIOverrides) {
	if flags.BaseURL != "" {
		c.Harvest.BaseURL = flags.BaseURL
	}
	if flags.StartPage > 0 {
		c.Harvest.StartPage = flags.StartPage
	}
	if flags.EndPage > 0 {
		c.Harvest.EndPage = flags.EndPage
	}
	if flags.BatchSize > 0 {
		c.Harvest.BatchSize = flags.BatchSize
	}
	if flags.ReadyTimeout > 0 {
		c.Harvest.ReadyTimeout = flags.ReadyTimeout
	}
	if flags.SkipSucceeded != nil {
		c.Harvest.SkipSucceeded = *flags.SkipSucceeded
	}
	if flags.Snapshot != "" {
		c.Output.Snapshot = flags.Snapshot
	}
	if flags.ReportDir != "" {
		c.Output.ReportDir = flags.ReportDir
	}
	if flags.Backend != "" {
		c.Session.Backend = flags.Backend
	}
	if flags.Headless != nil {
		c.Session.Headless = *flags.Headless
	}
	if flags.LinkBase != "" {
		c.Extract.LinkBase = flags.LinkBase
	}
	if flags.LogLevel != "" {
		c.Logging.Level = flags.LogLevel
	}
}

// CLIOverrides 命令行覆盖项,指针字段为nil表示未设置
type CLIOverrides struct {
	BaseURL       string
	StartPage     int
	EndPage       int
	BatchSize     int
	ReadyTimeout  time.Duration
	SkipSucceeded *bool
	Snapshot      string
	ReportDir     string
	Backend       string
	Headless      *bool
	LinkBase      string
	LogLevel      string
}
