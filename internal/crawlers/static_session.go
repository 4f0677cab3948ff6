package crawlers

import (
	"bytes"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"
)

// staticAnchor 静态后端锚点句柄
const staticAnchor TabHandle = "static-anchor"

// staticTab 一次HTTP抓取的结果
type staticTab struct {
	url    string
	status int
	markup string
	doc    *goquery.Document
	err    error
}

// StaticSession 不执行JavaScript的HTTP后端
// 标签页即一次抓取,适用于服务端渲染的列表页
type StaticSession struct {
	cfg    SessionConfig
	client *http.Client
	tabs   *tabRegistry[*staticTab]
	active TabHandle
	seq    atomic.Int64
}

// NewStaticSession 创建带cookie jar的HTTP会话
func NewStaticSession(ctx context.Context, cfg SessionConfig) (*StaticSession, error) {
	cfg = cfg.withDefaults()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("%w: 创建cookie jar失败: %v", ErrSessionCreate, err)
	}

	client := &http.Client{
		Jar:     jar,
		Timeout: cfg.NavigateTimeout,
	}

	return &StaticSession{
		cfg:    cfg,
		client: client,
		tabs:   newTabRegistry[*staticTab](),
	}, nil
}

// OpenBlank 登记锚点
func (s *StaticSession) OpenBlank(ctx context.Context) error {
	if s.tabs.isClosed() {
		return fmt.Errorf("%w: 会话已结束", ErrSessionLost)
	}
	s.tabs.setAnchor(staticAnchor, &staticTab{url: "about:blank"})
	s.active = staticAnchor
	return nil
}

// OpenTab 登记空白标签页后同步抓取,抓取错误保存在标签页上由WaitReady报告
func (s *StaticSession) OpenTab(ctx context.Context, url string) (TabHandle, error) {
	if s.tabs.isClosed() {
		return "", fmt.Errorf("%w: 会话已结束", ErrSessionLost)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	handle := TabHandle(fmt.Sprintf("static-%d", s.seq.Add(1)))
	tab := &staticTab{url: url}
	s.tabs.add(handle, tab)

	s.fetch(ctx, tab)
	if tab.err != nil {
		log.Warn().Err(tab.err).Str("tab", string(handle)).Str("url", url).Msg("抓取页面失败")
	}
	return handle, nil
}

// fetch 使用colly抓取并解析页面
func (s *StaticSession) fetch(ctx context.Context, tab *staticTab) {
	c := colly.NewCollector(
		colly.UserAgent(s.cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	)
	c.SetClient(s.client)

	c.OnRequest(func(r *colly.Request) {
		for name, values := range s.cfg.Headers {
			if len(values) > 0 {
				r.Headers.Set(name, values[0])
			}
		}
		r.Headers.Set("Accept-Encoding", "gzip, deflate, br")
		if s.cfg.DisableCache {
			r.Headers.Set("Cache-Control", "no-cache")
			r.Headers.Set("Pragma", "no-cache")
		}
		log.Debug().Str("url", r.URL.String()).Msg("访问")
	})

	c.OnResponse(func(r *colly.Response) {
		tab.status = r.StatusCode
		body := r.Body
		if r.Headers != nil {
			decoded, err := decompressResponse(r.Headers.Get("Content-Encoding"), body)
			if err != nil {
				log.Warn().Err(err).Str("url", tab.url).Msg("解压响应失败,使用原始内容")
			} else {
				body = decoded
			}
		}
		tab.markup = string(body)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			tab.status = r.StatusCode
		}
		tab.err = err
	})

	if err := c.Visit(tab.url); err != nil && tab.err == nil {
		tab.err = err
	}
	if tab.markup == "" {
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tab.markup))
	if err != nil {
		tab.err = fmt.Errorf("解析HTML失败: %w", err)
		return
	}
	tab.doc = doc
}

// Tabs 已登记的标签页,锚点在首位
func (s *StaticSession) Tabs(ctx context.Context) ([]TabHandle, error) {
	if s.tabs.isClosed() {
		return nil, fmt.Errorf("%w: 会话已结束", ErrSessionLost)
	}
	return s.tabs.handles(), nil
}

// SwitchTo 记录当前活动标签页
func (s *StaticSession) SwitchTo(ctx context.Context, tab TabHandle) error {
	if _, ok := s.tabs.get(tab); !ok {
		return fmt.Errorf("%w: %s", ErrTabGone, tab)
	}
	s.active = tab
	return nil
}

// WaitReady 抓取结果中有body且存在内容容器即就绪,不发生实际等待
func (s *StaticSession) WaitReady(ctx context.Context, tab TabHandle, timeout time.Duration) (bool, error) {
	t, ok := s.tabs.get(tab)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTabGone, tab)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if t.err != nil && t.doc == nil {
		return false, t.err
	}
	if t.doc == nil || !hasBody(t.doc) {
		return false, nil
	}
	return t.doc.Find(s.cfg.ContentSelector).Length() > 0, nil
}

func hasBody(doc *goquery.Document) bool {
	body := doc.Find("body")
	return body.Children().Length() > 0 || strings.TrimSpace(body.Text()) != ""
}

// ReadMarkup 返回解压后的HTML
func (s *StaticSession) ReadMarkup(ctx context.Context, tab TabHandle) (string, error) {
	t, ok := s.tabs.get(tab)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTabGone, tab)
	}
	return t.markup, nil
}

// CloseTab 移除标签页
func (s *StaticSession) CloseTab(ctx context.Context, tab TabHandle) error {
	s.tabs.remove(tab)
	if s.active == tab {
		s.active = ""
	}
	return nil
}

// Terminate 释放空闲连接
func (s *StaticSession) Terminate() error {
	s.tabs.drain()
	s.client.CloseIdleConnections()
	return nil
}

// decompressResponse 根据Content-Encoding解压响应体
// gzip已由colly处理,这里只处理deflate和br
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "br":
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "", "gzip", "identity":
		return body, nil

	default:
		log.Warn().Str("encoding", contentEncoding).Msg("未知的Content-Encoding")
		return body, nil
	}
}
