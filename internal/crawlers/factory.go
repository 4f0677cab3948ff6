package crawlers

import (
	"context"
	"fmt"
	"strings"
)

// BackendFactory 按配置选择浏览器后端
type BackendFactory struct{}

// NewSession 实现SessionFactory
func (BackendFactory) NewSession(ctx context.Context, config SessionConfig) (BrowserSession, error) {
	var (
		session BrowserSession
		err     error
	)
	switch strings.ToLower(config.Backend) {
	case "", BackendRod:
		var s *RodSession
		s, err = NewRodSession(ctx, config)
		session = s
	case BackendChromedp:
		var s *ChromedpSession
		s, err = NewChromedpSession(ctx, config)
		session = s
	case BackendStatic:
		var s *StaticSession
		s, err = NewStaticSession(ctx, config)
		session = s
	default:
		return nil, fmt.Errorf("%w: 未知的后端 %q", ErrSessionCreate, config.Backend)
	}
	if err != nil {
		// 避免返回包含nil指针的非nil接口
		return nil, err
	}
	return session, nil
}

// ValidBackend 后端名称是否受支持
func ValidBackend(name string) bool {
	switch strings.ToLower(name) {
	case BackendRod, BackendChromedp, BackendStatic:
		return true
	}
	return false
}

var (
	_ BrowserSession   = (*RodSession)(nil)
	_ BrowserSession   = (*ChromedpSession)(nil)
	_ BrowserSession   = (*StaticSession)(nil)
	_ SessionFactory   = BackendFactory{}
	_ ArticleExtractor = (*SelectorExtractor)(nil)
)
