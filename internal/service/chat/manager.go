package chat

import (
	"context"
	"sync"
	"time"

	"supa_discord/internal/service"
	"supa_discord/pkg/errorx"

	"go.uber.org/zap"
)

// ViewFactory 为视图 ID 创建一个未启动的视图
type ViewFactory func(id string) (*View, error)

// Manager 按视图 ID 管理视图
// 一个视图在没有浏览器连接超过 idleTimeout 后被关闭
type Manager struct {
	factory     ViewFactory
	idleTimeout time.Duration
	lg          *zap.Logger

	mu     sync.Mutex
	views  map[string]*View
	closed bool

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ service.ViewManager = (*Manager)(nil)

// NewManager 创建 Manager 并启动回收协程
func NewManager(factory ViewFactory, idleTimeout time.Duration, lg *zap.Logger) *Manager {
	if lg == nil {
		lg = zap.NewNop()
	}
	m := &Manager{
		factory:     factory,
		idleTimeout: idleTimeout,
		lg:          lg,
		views:       make(map[string]*View),
		stop:        make(chan struct{}),
	}
	if idleTimeout > 0 {
		interval := idleTimeout / 2
		if interval < time.Second {
			interval = time.Second
		}
		m.wg.Add(1)
		go m.reapLoop(interval)
	}
	return m
}

// Get 返回视图，不存在时创建并启动
func (m *Manager) Get(_ context.Context, id string) (service.View, error) {
	if id == "" {
		return nil, errorx.New(errorx.CodeInvalidParam, "缺少视图 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrViewClosed
	}
	if v, ok := m.views[id]; ok {
		return v, nil
	}
	v, err := m.factory(id)
	if err != nil {
		return nil, err
	}
	v.Start()
	m.views[id] = v
	m.lg.Info("view created", zap.String("view_id", id), zap.Int("views", len(m.views)))
	return v, nil
}

// Len 当前视图数
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

// Reap 关闭空闲超时的视图，返回关闭的个数
func (m *Manager) Reap(now time.Time) int {
	m.mu.Lock()
	var idle []*View
	for id, v := range m.views {
		if v.IdleFor(now) >= m.idleTimeout {
			idle = append(idle, v)
			delete(m.views, id)
		}
	}
	m.mu.Unlock()

	for _, v := range idle {
		v.Close()
	}
	if len(idle) > 0 {
		m.lg.Info("idle views closed", zap.Int("closed", len(idle)))
	}
	return len(idle)
}

// Close 关闭全部视图
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()

		m.mu.Lock()
		m.closed = true
		views := make([]*View, 0, len(m.views))
		for id, v := range m.views {
			views = append(views, v)
			delete(m.views, id)
		}
		m.mu.Unlock()

		var wg sync.WaitGroup
		for _, v := range views {
			wg.Add(1)
			go func(v *View) {
				defer wg.Done()
				v.Close()
			}(v)
		}
		wg.Wait()
	})
}

func (m *Manager) reapLoop(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.Reap(now)
		}
	}
}
