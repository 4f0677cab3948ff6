package crawlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// blockedURLPatterns 按扩展名屏蔽资源,Network.setBlockedURLs不支持按资源类型过滤
var blockedURLPatterns = map[string][]string{
	ResourceImage:      {"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico", "*.avif"},
	ResourceStylesheet: {"*.css"},
	ResourceFont:       {"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot"},
	ResourceMedia:      {"*.mp4", "*.webm", "*.mp3", "*.m4a", "*.ogg"},
}

type chromedpTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// ChromedpSession 基于chromedp的浏览器会话
type ChromedpSession struct {
	cfg SessionConfig

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	tabs *tabRegistry[chromedpTab]
}

// NewChromedpSession 启动浏览器,首个目标作为锚点
func NewChromedpSession(ctx context.Context, cfg SessionConfig) (*ChromedpSession, error) {
	cfg = cfg.withDefaults()

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.BrowserBin != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BrowserBin))
	}
	for name, value := range chromeFlags(cfg) {
		if name == "user-agent" {
			continue
		}
		if value == "" {
			opts = append(opts, chromedp.Flag(name, true))
		} else {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: 启动浏览器失败: %v", ErrSessionCreate, err)
	}

	s := &ChromedpSession{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabs:          newTabRegistry[chromedpTab](),
	}
	log.Debug().Bool("headless", cfg.Headless).Msg("chromedp浏览器已启动")
	return s, nil
}

// OpenBlank 锚点使用浏览器启动时的首个目标
func (s *ChromedpSession) OpenBlank(ctx context.Context) error {
	c := chromedp.FromContext(s.browserCtx)
	if c == nil || c.Target == nil {
		return fmt.Errorf("%w: 锚点目标不存在", ErrSessionLost)
	}
	runCtx, cancel := s.bound(ctx, s.browserCtx, s.cfg.NavigateTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate("about:blank")); err != nil {
		return s.classify(ctx, fmt.Errorf("打开锚点页失败: %w", err), ErrSessionLost)
	}
	s.tabs.setAnchor(TabHandle(c.Target.TargetID), chromedpTab{ctx: s.browserCtx, cancel: func() {}})
	return nil
}

// OpenTab 新建空白目标,安装覆盖后发送Page.navigate
func (s *ChromedpSession) OpenTab(ctx context.Context, url string) (TabHandle, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)

	// 首次Run分配目标,必须直接使用NewContext返回的ctx
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, s.overrides()...)
	stop()
	if err != nil {
		tabCancel()
		return "", s.classify(ctx, fmt.Errorf("%w: %v", ErrTabOpen, err), ErrTabOpen)
	}

	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		tabCancel()
		return "", fmt.Errorf("%w: 未获得目标ID", ErrTabOpen)
	}
	handle := TabHandle(c.Target.TargetID)
	s.tabs.add(handle, chromedpTab{ctx: tabCtx, cancel: tabCancel})

	live, err := s.Tabs(ctx)
	if err != nil {
		return "", err
	}
	if !containsHandle(live, handle) {
		return "", fmt.Errorf("%w: 新标签页未出现在目标列表中", ErrTabOpen)
	}

	runCtx, cancel := s.bound(ctx, tabCtx, s.cfg.NavigateTimeout)
	defer cancel()
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return errors.New(errorText)
		}
		return nil
	}))
	if err != nil {
		log.Warn().Err(err).Str("tab", string(handle)).Str("url", url).Msg("导航返回错误,继续等待页面")
	}
	return handle, nil
}

// overrides 每个标签页的身份、头部、缓存、屏蔽和反检测脚本
func (s *ChromedpSession) overrides() []chromedp.Action {
	actions := []chromedp.Action{network.Enable()}

	ua := emulation.SetUserAgentOverride(s.cfg.UserAgent)
	if lang := s.cfg.Headers.Get("Accept-Language"); lang != "" {
		ua = ua.WithAcceptLanguage(lang)
	}
	actions = append(actions, ua)

	if len(s.cfg.Headers) > 0 {
		headers := make(network.Headers, len(s.cfg.Headers))
		for name, values := range s.cfg.Headers {
			if len(values) > 0 && name != "User-Agent" {
				headers[name] = values[0]
			}
		}
		actions = append(actions, network.SetExtraHTTPHeaders(headers))
	}

	var patterns []string
	for _, rt := range s.cfg.BlockResources {
		patterns = append(patterns, blockedURLPatterns[rt]...)
	}
	if len(patterns) > 0 {
		actions = append(actions, network.SetBlockedURLs(patterns))
	}

	if s.cfg.DisableCache {
		actions = append(actions, network.SetCacheDisabled(true))
	}

	if s.cfg.Stealth {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(StealthScript).Do(ctx)
			return err
		}))
	}
	return actions
}

// Tabs 与浏览器目标列表对账
func (s *ChromedpSession) Tabs(ctx context.Context) ([]TabHandle, error) {
	runCtx, cancel := s.bound(ctx, s.browserCtx, probeTimeout)
	defer cancel()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: 获取目标列表失败: %v", ErrSessionLost, err)
	}

	live := make(map[TabHandle]bool, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			live[TabHandle(info.TargetID)] = true
		}
	}
	for _, gone := range s.tabs.reconcile(live) {
		gone.cancel()
	}
	return s.tabs.handles(), nil
}

// SwitchTo 激活标签页
func (s *ChromedpSession) SwitchTo(ctx context.Context, tab TabHandle) error {
	t, ok := s.tabs.get(tab)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabGone, tab)
	}
	runCtx, cancel := s.bound(ctx, t.ctx, probeTimeout)
	defer cancel()
	err := chromedp.Run(runCtx,
		page.BringToFront(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return target.ActivateTarget(target.ID(tab)).Do(cdpBrowserContext(ctx))
		}),
	)
	if err != nil {
		return s.classify(ctx, fmt.Errorf("%w: %v", ErrTabGone, err), ErrTabGone)
	}
	return nil
}

// WaitReady 先等待body,再等待内容容器
func (s *ChromedpSession) WaitReady(ctx context.Context, tab TabHandle, timeout time.Duration) (bool, error) {
	t, ok := s.tabs.get(tab)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTabGone, tab)
	}

	stages := []struct {
		selector string
		timeout  time.Duration
	}{
		{"body", s.cfg.PresenceTimeout},
		{s.cfg.ContentSelector, timeout},
	}
	for _, stage := range stages {
		runCtx, cancel := s.bound(ctx, t.ctx, stage.timeout)
		err := chromedp.Run(runCtx, chromedp.WaitReady(stage.selector, chromedp.ByQuery))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return false, nil
			}
			return false, s.classify(ctx, fmt.Errorf("等待标签页 %s 失败: %w", tab, err), nil)
		}
	}
	return true, nil
}

// ReadMarkup 读取HTML
func (s *ChromedpSession) ReadMarkup(ctx context.Context, tab TabHandle) (string, error) {
	t, ok := s.tabs.get(tab)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTabGone, tab)
	}
	runCtx, cancel := s.bound(ctx, t.ctx, s.cfg.NavigateTimeout)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", s.classify(ctx, fmt.Errorf("读取页面HTML失败: %w", err), nil)
	}
	return html, nil
}

// CloseTab 取消标签页ctx即关闭目标
func (s *ChromedpSession) CloseTab(ctx context.Context, tab TabHandle) error {
	t, ok := s.tabs.remove(tab)
	if !ok {
		return nil
	}
	if t.ctx == s.browserCtx {
		return nil
	}
	if err := chromedp.Cancel(t.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("关闭标签页失败: %w", err)
	}
	return nil
}

// Terminate 关闭浏览器并释放分配器
func (s *ChromedpSession) Terminate() error {
	for _, t := range s.tabs.drain() {
		t.cancel()
	}

	ctx, cancel := context.WithTimeout(s.browserCtx, 10*time.Second)
	defer cancel()
	err := chromedp.Cancel(ctx)
	s.browserCancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("关闭浏览器失败: %w", err)
	}
	return nil
}

// bound 派生自目标ctx,同时受调用方ctx取消和超时约束
func (s *ChromedpSession) bound(caller, base context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	var (
		c      context.Context
		cancel context.CancelFunc
	)
	if d > 0 {
		c, cancel = context.WithTimeout(base, d)
	} else {
		c, cancel = context.WithCancel(base)
	}
	stop := context.AfterFunc(caller, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

// classify 浏览器已无响应时包装为ErrSessionLost
func (s *ChromedpSession) classify(ctx context.Context, err error, fallback error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	if s.browserCtx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	probeCtx, cancel := context.WithTimeout(s.browserCtx, probeTimeout)
	defer cancel()
	if _, perr := chromedp.Targets(probeCtx); perr != nil {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	if fallback != nil && !errors.Is(err, fallback) {
		return fmt.Errorf("%w: %v", fallback, err)
	}
	return err
}

// cdpBrowserContext Target域命令需要发往浏览器而非页面会话
func cdpBrowserContext(ctx context.Context) context.Context {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Browser == nil {
		return ctx
	}
	return cdp.WithExecutor(ctx, c.Browser)
}
