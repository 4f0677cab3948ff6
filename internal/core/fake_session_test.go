package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/NewsHarvest/internal/crawlers"
)

const testBaseURL = "https://news.example.com/latest/"

// pageScript 单页的模拟行为
type pageScript struct {
	openErr   error
	switchErr error
	readyErr  error
	notReady  bool
	empty     bool
	panics    bool
}

// fakeBrowser 模拟浏览器,按页码返回预设行为
type fakeBrowser struct {
	mu sync.Mutex

	perPage   int
	scripts   map[int]pageScript
	createErr error
	tabsErr   error
	onOpen    func(page int)

	created    int
	terminated int
	visited    []int
	switches   []crawlers.TabHandle
	closed     int
}

func newFakeBrowser(perPage int) *fakeBrowser {
	return &fakeBrowser{perPage: perPage, scripts: make(map[int]pageScript)}
}

func (b *fakeBrowser) script(page int) pageScript {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scripts[page]
}

// NewSession 实现crawlers.SessionFactory
func (b *fakeBrowser) NewSession(ctx context.Context, config crawlers.SessionConfig) (crawlers.BrowserSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return nil, fmt.Errorf("%w: %v", crawlers.ErrSessionCreate, b.createErr)
	}
	b.created++
	return &fakeSession{b: b, pages: make(map[crawlers.TabHandle]int)}, nil
}

func (b *fakeBrowser) stats() (created, terminated int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created, b.terminated
}

// failTabs 让之后的Tabs调用返回err
func (b *fakeBrowser) failTabs(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tabsErr = err
}

func (b *fakeBrowser) switchedTabs() []crawlers.TabHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]crawlers.TabHandle(nil), b.switches...)
}

func (b *fakeBrowser) visitedPages() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.visited...)
}

type fakeSession struct {
	b     *fakeBrowser
	tabs  []crawlers.TabHandle
	pages map[crawlers.TabHandle]int
	seq   int
}

func pageFromURL(url string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(url, testBaseURL))
	return n
}

func (s *fakeSession) OpenBlank(ctx context.Context) error {
	s.tabs = append([]crawlers.TabHandle{"anchor"}, s.tabs...)
	return nil
}

func (s *fakeSession) OpenTab(ctx context.Context, url string) (crawlers.TabHandle, error) {
	page := pageFromURL(url)
	s.b.mu.Lock()
	s.b.visited = append(s.b.visited, page)
	onOpen := s.b.onOpen
	s.b.mu.Unlock()
	if onOpen != nil {
		onOpen(page)
	}

	sc := s.b.script(page)
	if sc.panics {
		panic("renderer crashed")
	}
	if sc.openErr != nil {
		return "", sc.openErr
	}
	s.seq++
	h := crawlers.TabHandle(fmt.Sprintf("tab-%d", s.seq))
	s.tabs = append(s.tabs, h)
	s.pages[h] = page
	return h, nil
}

func (s *fakeSession) Tabs(ctx context.Context) ([]crawlers.TabHandle, error) {
	s.b.mu.Lock()
	err := s.b.tabsErr
	s.b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return append([]crawlers.TabHandle(nil), s.tabs...), nil
}

func (s *fakeSession) SwitchTo(ctx context.Context, tab crawlers.TabHandle) error {
	s.b.mu.Lock()
	s.b.switches = append(s.b.switches, tab)
	s.b.mu.Unlock()
	if tab == "anchor" {
		return nil
	}
	page, ok := s.pages[tab]
	if !ok {
		return fmt.Errorf("%w: %s", crawlers.ErrTabGone, tab)
	}
	return s.b.script(page).switchErr
}

func (s *fakeSession) WaitReady(ctx context.Context, tab crawlers.TabHandle, timeout time.Duration) (bool, error) {
	sc := s.b.script(s.pages[tab])
	if sc.readyErr != nil {
		return false, sc.readyErr
	}
	return !sc.notReady, nil
}

func (s *fakeSession) ReadMarkup(ctx context.Context, tab crawlers.TabHandle) (string, error) {
	page := s.pages[tab]
	if s.b.script(page).empty {
		return "<html><body><p>no results</p></body></html>", nil
	}
	return listingMarkup(page, s.b.perPage), nil
}

func (s *fakeSession) CloseTab(ctx context.Context, tab crawlers.TabHandle) error {
	if _, ok := s.pages[tab]; !ok {
		return nil
	}
	delete(s.pages, tab)
	for i, h := range s.tabs {
		if h == tab {
			s.tabs = append(s.tabs[:i], s.tabs[i+1:]...)
			break
		}
	}
	s.b.mu.Lock()
	s.b.closed++
	s.b.mu.Unlock()
	return nil
}

func (s *fakeSession) Terminate() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.terminated++
	return nil
}

// listingMarkup 生成包含n篇文章的列表页
func listingMarkup(page, n int) string {
	var sb strings.Builder
	sb.WriteString("<html><body><main>")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, `<article data-test="article-item"><a href="/news/p%d-%d">Headline %d-%d</a>`+
			`<p data-test="article-description">Summary, "quoted" %d</p>`+
			`<time data-test="article-publish-date" datetime="2024-06-%02d 08:00:00">x</time></article>`,
			page, i, page, i, i, i)
	}
	sb.WriteString("</main></body></html>")
	return sb.String()
}

// recordingPacer 记录等待点,不实际等待
type recordingPacer struct {
	mu     sync.Mutex
	points []PacePoint
}

func (p *recordingPacer) Pause(ctx context.Context, point PacePoint) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points = append(p.points, point)
	return 0
}

func (p *recordingPacer) count(point PacePoint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, pt := range p.points {
		if pt == point {
			n++
		}
	}
	return n
}

// fixedMonitor 固定内存读数
type fixedMonitor struct {
	mu    sync.Mutex
	calls int
}

func (m *fixedMonitor) Sample(ctx context.Context) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return 42
}
