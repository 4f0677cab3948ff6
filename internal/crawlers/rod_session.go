package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// probeTimeout 浏览器健康探测超时
const probeTimeout = 3 * time.Second

// rodResourceTypes 配置名到CDP资源类型
var rodResourceTypes = map[string]proto.NetworkResourceType{
	ResourceImage:      proto.NetworkResourceTypeImage,
	ResourceStylesheet: proto.NetworkResourceTypeStylesheet,
	ResourceFont:       proto.NetworkResourceTypeFont,
	ResourceMedia:      proto.NetworkResourceTypeMedia,
}

// RodSession 基于go-rod的浏览器会话
type RodSession struct {
	cfg      SessionConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
	router   *rod.HijackRouter
	tabs     *tabRegistry[*rod.Page]
}

// NewRodSession 启动浏览器并连接
func NewRodSession(ctx context.Context, cfg SessionConfig) (*RodSession, error) {
	cfg = cfg.withDefaults()

	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox).
		Delete("enable-automation")
	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	for name, value := range chromeFlags(cfg) {
		if value == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), value)
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: 启动浏览器失败: %v", ErrSessionCreate, err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: 连接浏览器失败: %v", ErrSessionCreate, err)
	}

	s := &RodSession{
		cfg:      cfg,
		launcher: l,
		browser:  browser,
		tabs:     newTabRegistry[*rod.Page](),
	}

	if err := s.setupBlocking(); err != nil {
		_ = s.Terminate()
		return nil, fmt.Errorf("%w: 设置资源屏蔽失败: %v", ErrSessionCreate, err)
	}

	log.Debug().Str("control_url", controlURL).Bool("headless", cfg.Headless).Msg("浏览器已启动")
	return s, nil
}

// setupBlocking 浏览器级拦截,被屏蔽的资源类型直接以BlockedByClient失败
func (s *RodSession) setupBlocking() error {
	var types []proto.NetworkResourceType
	for _, name := range s.cfg.BlockResources {
		rt, ok := rodResourceTypes[name]
		if !ok {
			log.Warn().Str("resource", name).Msg("未知的资源类型,忽略")
			continue
		}
		types = append(types, rt)
	}
	if len(types) == 0 {
		return nil
	}

	router := s.browser.HijackRequests()
	for _, rt := range types {
		err := router.Add("*", rt, func(h *rod.Hijack) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
		if err != nil {
			return err
		}
	}
	go router.Run()
	s.router = router
	return nil
}

// OpenBlank 创建锚点页
func (s *RodSession) OpenBlank(ctx context.Context) error {
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return s.classify(ctx, fmt.Errorf("打开锚点页失败: %w", err), ErrSessionLost)
	}
	s.tabs.setAnchor(TabHandle(page.TargetID), page)
	return nil
}

// OpenTab 打开空白标签页,安装覆盖后开始导航
func (s *RodSession) OpenTab(ctx context.Context, url string) (TabHandle, error) {
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", s.classify(ctx, fmt.Errorf("%w: %v", ErrTabOpen, err), ErrTabOpen)
	}
	handle := TabHandle(page.TargetID)
	s.tabs.add(handle, page)

	if err := s.applyOverrides(page.Context(ctx)); err != nil {
		log.Warn().Err(err).Str("tab", string(handle)).Msg("设置标签页覆盖失败")
	}

	live, err := s.Tabs(ctx)
	if err != nil {
		return "", err
	}
	if !containsHandle(live, handle) {
		return "", fmt.Errorf("%w: 新标签页未出现在目标列表中", ErrTabOpen)
	}

	// Navigate 在收到导航响应后返回,不等待页面加载
	nav := page.Context(ctx).Timeout(s.cfg.NavigateTimeout)
	if err := nav.Navigate(url); err != nil {
		log.Warn().Err(err).Str("tab", string(handle)).Str("url", url).Msg("导航返回错误,继续等待页面")
	}
	nav.CancelTimeout()

	return handle, nil
}

// applyOverrides 每个标签页的身份、头部、缓存和反检测脚本
func (s *RodSession) applyOverrides(page *rod.Page) error {
	if s.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(StealthScript); err != nil {
			return fmt.Errorf("注入反检测脚本失败: %w", err)
		}
	}

	ua := &proto.NetworkSetUserAgentOverride{UserAgent: s.cfg.UserAgent}
	if s.cfg.Headers != nil {
		ua.AcceptLanguage = s.cfg.Headers.Get("Accept-Language")
	}
	if err := page.SetUserAgent(ua); err != nil {
		return fmt.Errorf("设置User-Agent失败: %w", err)
	}

	if pairs := headerPairs(s.cfg.Headers); len(pairs) > 0 {
		if _, err := page.SetExtraHeaders(pairs); err != nil {
			return fmt.Errorf("设置额外头部失败: %w", err)
		}
	}

	if s.cfg.DisableCache {
		if err := (proto.NetworkEnable{}).Call(page); err != nil {
			return fmt.Errorf("启用Network域失败: %w", err)
		}
		if err := (proto.NetworkSetCacheDisabled{CacheDisabled: true}).Call(page); err != nil {
			return fmt.Errorf("禁用缓存失败: %w", err)
		}
	}
	return nil
}

// Tabs 与浏览器目标列表对账后返回存活句柄
func (s *RodSession) Tabs(ctx context.Context) ([]TabHandle, error) {
	res, err := proto.TargetGetTargets{}.Call(s.browser.Context(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: 获取目标列表失败: %v", ErrSessionLost, err)
	}

	live := make(map[TabHandle]bool, len(res.TargetInfos))
	for _, info := range res.TargetInfos {
		if info.Type == proto.TargetTargetInfoTypePage {
			live[TabHandle(info.TargetID)] = true
		}
	}
	for _, gone := range s.tabs.reconcile(live) {
		log.Debug().Str("tab", string(gone.TargetID)).Msg("标签页已消失,移出登记表")
	}
	return s.tabs.handles(), nil
}

// SwitchTo 激活标签页
func (s *RodSession) SwitchTo(ctx context.Context, tab TabHandle) error {
	page, ok := s.tabs.get(tab)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabGone, tab)
	}
	if _, err := page.Context(ctx).Activate(); err != nil {
		return s.classify(ctx, fmt.Errorf("%w: %v", ErrTabGone, err), ErrTabGone)
	}
	return nil
}

// WaitReady 先等待body,再等待内容容器
func (s *RodSession) WaitReady(ctx context.Context, tab TabHandle, timeout time.Duration) (bool, error) {
	page, ok := s.tabs.get(tab)
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
		p := page.Context(ctx).Timeout(stage.timeout)
		_, err := p.Element(stage.selector)
		p.CancelTimeout()
		if err != nil {
			return s.readyResult(ctx, tab, err)
		}
	}
	return true, nil
}

// readyResult 超时返回false;其他错误按会话状态分类
func (s *RodSession) readyResult(ctx context.Context, tab TabHandle, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	return false, s.classify(ctx, fmt.Errorf("等待标签页 %s 失败: %w", tab, err), nil)
}

// ReadMarkup 读取HTML
func (s *RodSession) ReadMarkup(ctx context.Context, tab TabHandle) (string, error) {
	page, ok := s.tabs.get(tab)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTabGone, tab)
	}
	html, err := page.Context(ctx).HTML()
	if err != nil {
		return "", s.classify(ctx, fmt.Errorf("读取页面HTML失败: %w", err), nil)
	}
	return html, nil
}

// CloseTab 关闭标签页,未登记的句柄直接返回
func (s *RodSession) CloseTab(ctx context.Context, tab TabHandle) error {
	page, ok := s.tabs.remove(tab)
	if !ok {
		return nil
	}
	if err := page.Context(ctx).Close(); err != nil {
		return s.classify(ctx, fmt.Errorf("关闭标签页失败: %w", err), nil)
	}
	return nil
}

// Terminate 停止拦截并关闭浏览器进程
func (s *RodSession) Terminate() error {
	s.tabs.drain()

	var errs []error
	if s.router != nil {
		if err := s.router.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("停止请求拦截失败: %w", err))
		}
		s.router = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭浏览器失败: %w", err))
		}
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	return errors.Join(errs...)
}

// alive 浏览器是否仍可响应
func (s *RodSession) alive() bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	_, err := proto.BrowserGetVersion{}.Call(s.browser.Context(ctx))
	return err == nil
}

// classify 浏览器已无响应时包装为ErrSessionLost,否则保持原错误
// fallback非nil时确保错误链中包含fallback
func (s *RodSession) classify(ctx context.Context, err error, fallback error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	if !s.alive() {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	if fallback != nil && !errors.Is(err, fallback) {
		return fmt.Errorf("%w: %v", fallback, err)
	}
	return err
}

// headerPairs 转为rod需要的 name,value 交替列表
func headerPairs(h http.Header) []string {
	if len(h) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(h)*2)
	for name, values := range h {
		if len(values) == 0 || name == "User-Agent" {
			continue
		}
		pairs = append(pairs, name, values[0])
	}
	return pairs
}

func containsHandle(handles []TabHandle, h TabHandle) bool {
	for _, x := range handles {
		if x == h {
			return true
		}
	}
	return false
}
