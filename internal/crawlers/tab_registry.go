package crawlers

import (
	"sync"
)

// tabRegistry 会话内的标签页登记表
// 按打开顺序保存句柄,锚点页始终位于首位;与浏览器实际存活的目标对账后剔除已消失的句柄
type tabRegistry[T any] struct {
	mu     sync.Mutex
	anchor TabHandle
	order  []TabHandle
	tabs   map[TabHandle]T
	closed bool
}

func newTabRegistry[T any]() *tabRegistry[T] {
	return &tabRegistry[T]{tabs: make(map[TabHandle]T)}
}

// setAnchor 登记锚点页
func (r *tabRegistry[T]) setAnchor(h TabHandle, tab T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.anchor != "" {
		r.removeLocked(r.anchor)
	}
	r.anchor = h
	r.tabs[h] = tab
	r.order = append([]TabHandle{h}, r.order...)
}

// add 登记新标签页
func (r *tabRegistry[T]) add(h TabHandle, tab T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, ok := r.tabs[h]; ok {
		return
	}
	r.tabs[h] = tab
	r.order = append(r.order, h)
}

// get 查找标签页
func (r *tabRegistry[T]) get(h TabHandle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[h]
	return tab, ok
}

// remove 移除标签页,返回是否存在
func (r *tabRegistry[T]) remove(h TabHandle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(h)
}

func (r *tabRegistry[T]) removeLocked(h TabHandle) (T, bool) {
	tab, ok := r.tabs[h]
	if !ok {
		return tab, false
	}
	delete(r.tabs, h)
	for i, o := range r.order {
		if o == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if h == r.anchor {
		r.anchor = ""
	}
	return tab, true
}

// handles 当前登记的句柄,锚点在首位
func (r *tabRegistry[T]) handles() []TabHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TabHandle, len(r.order))
	copy(out, r.order)
	return out
}

// reconcile 剔除不在live中的句柄,返回被剔除的标签页
func (r *tabRegistry[T]) reconcile(live map[TabHandle]bool) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	var gone []T
	for _, h := range append([]TabHandle(nil), r.order...) {
		if !live[h] {
			if tab, ok := r.removeLocked(h); ok {
				gone = append(gone, tab)
			}
		}
	}
	return gone
}

// drain 清空并返回所有标签页,之后的登记被忽略
func (r *tabRegistry[T]) drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, r.tabs[h])
	}
	r.order = nil
	r.tabs = make(map[TabHandle]T)
	r.anchor = ""
	r.closed = true
	return out
}

// isClosed 是否已清空
func (r *tabRegistry[T]) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// size 当前标签页数
func (r *tabRegistry[T]) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
