package crawlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// 会话错误类型
var (
	// ErrSessionCreate 浏览器进程无法启动或连接
	ErrSessionCreate = errors.New("浏览器会话创建失败")
	// ErrTabOpen 打开标签页后未出现新的句柄
	ErrTabOpen = errors.New("打开标签页失败")
	// ErrTabGone 标签页句柄已不存在
	ErrTabGone = errors.New("标签页已不存在")
	// ErrSessionLost 整个浏览器已断开,需要上升为批次级失败
	ErrSessionLost = errors.New("浏览器会话已断开")
)

// 后端名称
const (
	BackendRod      = "rod"
	BackendChromedp = "chromedp"
	BackendStatic   = "static"
)

// 可屏蔽的资源类型
const (
	ResourceImage      = "image"
	ResourceStylesheet = "stylesheet"
	ResourceFont       = "font"
	ResourceMedia      = "media"
)

const (
	// DefaultPresenceTimeout 第一阶段等待document body的时间
	DefaultPresenceTimeout = 5 * time.Second
	// DefaultNavigateTimeout 单次导航等待响应头的上限
	DefaultNavigateTimeout = 30 * time.Second
	// DefaultUserAgent 默认浏览器标识
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"
)

// TabHandle 标签页句柄,不同后端使用各自的目标ID
type TabHandle string

// SessionConfig 浏览器会话配置
type SessionConfig struct {
	Backend         string        `mapstructure:"backend" yaml:"backend"`                   // rod | chromedp | static
	Headless        bool          `mapstructure:"headless" yaml:"headless"`                 // 无头模式
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`             // 浏览器标识
	DisableCache    bool          `mapstructure:"disable_cache" yaml:"disable_cache"`       // 禁用缓存
	BlockResources  []string      `mapstructure:"block_resources" yaml:"block_resources"`   // 屏蔽的资源类型
	Stealth         bool          `mapstructure:"stealth" yaml:"stealth"`                   // 注入反自动化检测脚本
	PresenceTimeout time.Duration `mapstructure:"presence_timeout" yaml:"presence_timeout"` // 第一阶段超时
	NavigateTimeout time.Duration `mapstructure:"navigate_timeout" yaml:"navigate_timeout"` // 导航超时
	ContentSelector string        `mapstructure:"content_selector" yaml:"content_selector"` // 第二阶段内容选择器
	BrowserBin      string        `mapstructure:"browser_bin" yaml:"browser_bin"`           // 浏览器可执行文件,为空时自动查找
	NoSandbox       bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`             // 禁用沙箱

	// Headers 额外请求头部,由HeaderManager合并后注入
	Headers http.Header `mapstructure:"-" yaml:"-"`
}

// DefaultSessionConfig 默认会话配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Backend:         BackendRod,
		Headless:        true,
		UserAgent:       DefaultUserAgent,
		DisableCache:    true,
		BlockResources:  []string{ResourceImage, ResourceStylesheet},
		Stealth:         true,
		PresenceTimeout: DefaultPresenceTimeout,
		NavigateTimeout: DefaultNavigateTimeout,
		ContentSelector: DefaultArticleSelector,
		NoSandbox:       true,
	}
}

// withDefaults 补全零值字段
func (c SessionConfig) withDefaults() SessionConfig {
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = DefaultPresenceTimeout
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = DefaultNavigateTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.ContentSelector == "" {
		c.ContentSelector = DefaultArticleSelector
	}
	return c
}

// blocks 是否屏蔽指定资源类型
func (c SessionConfig) blocks(resource string) bool {
	for _, r := range c.BlockResources {
		if strings.EqualFold(r, resource) {
			return true
		}
	}
	return false
}

// BrowserSession 单个批次使用的浏览器会话
// 所有调用都在控制goroutine上发生,实现无需支持并发调用
type BrowserSession interface {
	// OpenBlank 在锚点标签页打开空白页
	OpenBlank(ctx context.Context) error
	// OpenTab 先打开空白标签页再开始导航,未出现新句柄时返回ErrTabOpen
	OpenTab(ctx context.Context, url string) (TabHandle, error)
	// Tabs 当前存活的标签页,锚点在首位
	Tabs(ctx context.Context) ([]TabHandle, error)
	// SwitchTo 激活标签页,句柄不存在时返回ErrTabGone
	SwitchTo(ctx context.Context, tab TabHandle) error
	// WaitReady 两阶段等待,超时返回false而非错误
	WaitReady(ctx context.Context, tab TabHandle, timeout time.Duration) (bool, error)
	// ReadMarkup 读取标签页当前HTML
	ReadMarkup(ctx context.Context, tab TabHandle) (string, error)
	// CloseTab 关闭标签页,句柄已不存在时为空操作
	CloseTab(ctx context.Context, tab TabHandle) error
	// Terminate 结束会话
	Terminate() error
}

// SessionFactory 会话工厂
type SessionFactory interface {
	NewSession(ctx context.Context, config SessionConfig) (BrowserSession, error)
}

// SessionFactoryFunc 函数适配器
type SessionFactoryFunc func(ctx context.Context, config SessionConfig) (BrowserSession, error)

// NewSession 实现SessionFactory
func (f SessionFactoryFunc) NewSession(ctx context.Context, config SessionConfig) (BrowserSession, error) {
	return f(ctx, config)
}
