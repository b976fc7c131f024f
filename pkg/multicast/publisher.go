package multicast

import (
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/hewenyu/vault-discovery/internal/config"
	"github.com/hewenyu/vault-discovery/pkg/metrics"
)

// PublisherConfig 发布器配置
type PublisherConfig struct {
	Group    string        // 组播目标地址
	Port     int           // UDP端口
	TTL      int           // 组播跳数限制
	Interval time.Duration // 广播周期
	Delay    time.Duration // 首次广播前的额外等待时间
}

// PublisherConfigFromApp 从应用配置提取发布器配置
func PublisherConfigFromApp(cfg *config.Config) PublisherConfig {
	return PublisherConfig{
		Group:    cfg.Multicast.Group,
		Port:     cfg.Multicast.Port,
		TTL:      cfg.Multicast.TTL,
		Interval: cfg.Multicast.BroadcastInterval,
		Delay:    cfg.Multicast.BroadcastDelay,
	}
}

// Publisher 周期性地向组播组发送服务公告。
// 每个实例拥有一个后台工作协程；消息可在运行期间替换，
// 单次发送失败只计入指标，不会终止工作协程。
type Publisher struct {
	cfg     PublisherConfig
	logger  config.Logger
	metrics *metrics.Collector

	msgMu   sync.RWMutex
	message []byte

	mu       sync.Mutex
	running  bool
	conn     *net.UDPConn
	stopChan chan struct{}
	done     chan struct{}
}

// NewPublisher 创建组播发布器，message为初始广播负载
func NewPublisher(cfg PublisherConfig, message []byte, logger config.Logger) (*Publisher, error) {
	if cfg.Group == "" || cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, NewInvalidConfigError("组播地址和端口不能为空")
	}
	if cfg.Interval <= 0 {
		return nil, NewInvalidConfigError("广播周期必须大于0")
	}
	if logger == nil {
		logger = config.NewNopLogger()
	}

	return &Publisher{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(),
		message: append([]byte(nil), message...),
	}, nil
}

// Start 打开发送套接字并启动广播工作协程。
// 已在运行时返回重复启动错误，而不是静默忽略。
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return NewAlreadyRunningError("发布器已在运行中")
	}

	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(p.cfg.Group, strconv.Itoa(p.cfg.Port)))
	if err != nil {
		return NewInvalidConfigError("解析组播地址失败: " + err.Error())
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return err
	}

	// 仅对组播目标设置TTL，单播目标（回环测试场景）无需此选项
	if addr.IP.IsMulticast() {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastTTL(p.cfg.TTL); err != nil {
			conn.Close()
			return err
		}
	}

	p.conn = conn
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true

	p.logger.Info("发布器已启动",
		zap.String("group", p.cfg.Group),
		zap.Int("port", p.cfg.Port),
		zap.Int("ttl", p.cfg.TTL),
		zap.Duration("interval", p.cfg.Interval))

	go p.run(conn, p.stopChan, p.done)
	return nil
}

// run 广播工作循环。首次发送发生在第一个完整周期之后。
func (p *Publisher) run(conn *net.UDPConn, stopChan <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// 可配置的启动等待，便于服务先完成自身初始化
	if p.cfg.Delay > 0 {
		select {
		case <-stopChan:
			return
		case <-time.After(p.cfg.Delay):
		}
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			p.msgMu.RLock()
			message := p.message
			p.msgMu.RUnlock()

			if _, err := conn.Write(message); err != nil {
				// 瞬时网络错误在下一个周期自愈，只计数不退出
				p.metrics.RecordError()
				p.logger.Warn("发送组播消息失败", zap.Error(err))
				continue
			}

			p.metrics.RecordSent(len(message))
			p.logger.Debug("已发送服务公告", zap.Int("bytes", len(message)))
		}
	}
}

// Stop 通知工作协程退出并最多等待timeout。
// 等待超时仍会关闭套接字并标记为已停止，此时返回停止超时错误。
// 对已停止的发布器调用是空操作。
func (p *Publisher) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	// 先登记停止状态，并发的Stop调用走空操作路径
	p.running = false
	stopChan := p.stopChan
	done := p.done
	p.mu.Unlock()

	close(stopChan)

	var timedOut bool
	select {
	case <-done:
	case <-time.After(timeout):
		timedOut = true
	}

	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.mu.Unlock()

	if timedOut {
		p.logger.Warn("发布器工作协程未在时限内退出", zap.Duration("timeout", timeout))
		return NewShutdownTimeoutError("发布器停止超时")
	}

	p.logger.Info("发布器已停止")
	return nil
}

// IsRunning 返回发布器是否在运行中
func (p *Publisher) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// UpdateMessage 原子替换下一次发送使用的广播负载，运行期间调用安全
func (p *Publisher) UpdateMessage(message []byte) {
	p.msgMu.Lock()
	p.message = append([]byte(nil), message...)
	p.msgMu.Unlock()
}

// Message 返回当前广播负载的副本
func (p *Publisher) Message() []byte {
	p.msgMu.RLock()
	defer p.msgMu.RUnlock()
	return append([]byte(nil), p.message...)
}

// Metrics 返回当前指标快照，发布器的活跃服务数恒为0
func (p *Publisher) Metrics() metrics.Snapshot {
	return p.metrics.Snapshot(0)
}

// ResetMetrics 清零指标计数器
func (p *Publisher) ResetMetrics() {
	p.metrics.Reset()
}
