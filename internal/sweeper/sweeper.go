package sweeper

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/vault-discovery/internal/config"
	"github.com/hewenyu/vault-discovery/pkg/registry"
)

// Sweeper 周期性地对服务注册表执行物理清理。
// 注册表本身只做惰性过期判定，内存回收由本组件驱动。
type Sweeper struct {
	registry *registry.Registry
	interval time.Duration
	logger   config.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewSweeper 创建注册表清理器
func NewSweeper(reg *registry.Registry, interval time.Duration, logger config.Logger) *Sweeper {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &Sweeper{
		registry: reg,
		interval: interval,
		logger:   logger,
	}
}

// Start 启动周期清理协程，重复调用是空操作
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info("注册表清理器已启动", zap.Duration("interval", s.interval))

	go s.run(s.stopChan, s.done)
}

func (s *Sweeper) run(stopChan <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			if removed := s.registry.Sweep(time.Now()); removed > 0 {
				s.logger.Info("已清理过期服务", zap.Int("removed", removed))
			}
		}
	}
}

// Stop 停止清理协程并等待其退出，重复调用是空操作
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done
	s.logger.Info("注册表清理器已停止")
}
