package multicast

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/vault-discovery/internal/config"
	"github.com/hewenyu/vault-discovery/pkg/descriptor"
	"github.com/hewenyu/vault-discovery/pkg/metrics"
	"github.com/hewenyu/vault-discovery/pkg/registry"
)

// Sink 接收监听器解码出的每一条服务描述符。
// 回调中的panic会被捕获并计入错误指标，不会影响接收循环。
type Sink func(*descriptor.Descriptor)

// ListenerConfig 监听器配置
type ListenerConfig struct {
	Group      string        // 组播组地址
	Port       int           // UDP端口
	Timeout    time.Duration // 单次接收等待上限，同时决定停止响应粒度
	BufferSize int           // 最大数据报读取大小
	TypeFilter string        // 服务类型过滤器（子串匹配，空表示不过滤）
}

// ListenerConfigFromApp 从应用配置提取监听器配置
func ListenerConfigFromApp(cfg *config.Config) ListenerConfig {
	return ListenerConfig{
		Group:      cfg.Multicast.Group,
		Port:       cfg.Multicast.Port,
		Timeout:    cfg.Multicast.ReceiveTimeout,
		BufferSize: cfg.Multicast.BufferSize,
		TypeFilter: cfg.Discovery.TypeFilter,
	}
}

// Listener 加入组播组并持续接收服务公告。
// 每个数据报解码成功后刷新注册表并转发给通知回调；
// 解码失败只计数丢弃，接收循环不因负载问题退出。
type Listener struct {
	cfg      ListenerConfig
	logger   config.Logger
	metrics  *metrics.Collector
	registry *registry.Registry
	sink     Sink

	mu       sync.Mutex
	running  bool
	conn     *net.UDPConn
	stopChan chan struct{}
	done     chan struct{}
}

// NewListener 创建组播监听器。
// reg不能为空；sink可选，为空时只更新注册表和指标。
func NewListener(cfg ListenerConfig, reg *registry.Registry, sink Sink, logger config.Logger) (*Listener, error) {
	if cfg.Group == "" || cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, NewInvalidConfigError("组播地址和端口不能为空")
	}
	if cfg.Timeout <= 0 {
		return nil, NewInvalidConfigError("接收超时必须大于0")
	}
	if cfg.BufferSize <= 0 {
		return nil, NewInvalidConfigError("接收缓冲区大小必须大于0")
	}
	if reg == nil {
		return nil, NewInvalidConfigError("服务注册表不能为空")
	}
	if logger == nil {
		logger = config.NewNopLogger()
	}

	return &Listener{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.NewCollector(),
		registry: reg,
		sink:     sink,
	}, nil
}

// Start 打开接收套接字、加入组播组并启动接收工作协程。
// 已在运行时返回重复启动错误。
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return NewAlreadyRunningError("监听器已在运行中")
	}

	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(l.cfg.Group, strconv.Itoa(l.cfg.Port)))
	if err != nil {
		return NewInvalidConfigError("解析组播地址失败: " + err.Error())
	}

	var conn *net.UDPConn
	if addr.IP.IsMulticast() {
		// ListenMulticastUDP同时完成端口绑定和组成员加入
		conn, err = net.ListenMulticastUDP("udp4", nil, addr)
	} else {
		// 非组播地址直接绑定，用于单播或回环测试环境
		conn, err = net.ListenUDP("udp4", addr)
	}
	if err != nil {
		return err
	}

	l.conn = conn
	l.stopChan = make(chan struct{})
	l.done = make(chan struct{})
	l.running = true

	l.logger.Info("监听器已启动",
		zap.String("group", l.cfg.Group),
		zap.Int("port", l.cfg.Port),
		zap.Duration("timeout", l.cfg.Timeout))

	go l.run(conn, l.stopChan, l.done)
	return nil
}

// run 接收工作循环。读超时是唯一的取消观察点，
// 因此停止延迟不会超过一个接收超时周期。
func (l *Listener) run(conn *net.UDPConn, stopChan <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buffer := make([]byte, l.cfg.BufferSize)

	for {
		select {
		case <-stopChan:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(l.cfg.Timeout)); err != nil {
			l.logger.Error("设置读超时失败，接收循环退出", zap.Error(err))
			l.abort(conn)
			return
		}

		n, src, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// 等待期间无数据，回到循环顶部检查停止信号
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				// 套接字已关闭，无法继续接收
				l.abort(conn)
				return
			}
			// 其余套接字错误按瞬时处理
			l.metrics.RecordError()
			l.logger.Warn("接收数据报失败", zap.Error(err))
			continue
		}

		l.metrics.RecordReceived(n)
		l.handleDatagram(buffer[:n], src)
	}
}

// handleDatagram 处理单个数据报：解码、过滤、刷新注册表并通知回调
func (l *Listener) handleDatagram(data []byte, src *net.UDPAddr) {
	d, err := descriptor.Decode(data)
	if err != nil {
		// 畸形负载只计数丢弃，解析错误绝不逃出接收循环
		l.metrics.RecordError()
		l.logger.Warn("丢弃无法解码的数据报",
			zap.Stringer("src", src),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		return
	}

	// 类型过滤：不匹配的公告计入接收量但不注册也不转发
	if l.cfg.TypeFilter != "" && !strings.Contains(d.Type, l.cfg.TypeFilter) {
		l.logger.Debug("服务类型不匹配，忽略公告",
			zap.String("type", d.Type),
			zap.String("filter", l.cfg.TypeFilter))
		return
	}

	l.registry.Refresh(d.Addr, d, time.Now())
	l.logger.Debug("发现服务公告",
		zap.String("type", d.Type),
		zap.String("name", d.Name),
		zap.String("addr", d.Addr),
		zap.Stringer("src", src))

	if l.sink != nil {
		l.notify(d)
	}
}

// abort 在工作协程因致命套接字错误自行退出时登记停止状态并释放套接字。
// 正常Stop路径已先置running为false，此时本方法是空操作。
func (l *Listener) abort(conn *net.UDPConn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	conn.Close()
	l.conn = nil
	l.running = false
	l.logger.Warn("监听器因致命套接字错误停止")
}

// notify 调用通知回调，回调中的panic计入错误指标
func (l *Listener) notify(d *descriptor.Descriptor) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.RecordError()
			l.logger.Error("通知回调panic", zap.Any("panic", r))
		}
	}()
	l.sink(d)
}

// Stop 通知工作协程退出并最多等待timeout。
// 等待超时仍会关闭套接字（隐式退出组播组）并标记为已停止，
// 此时返回停止超时错误。对已停止的监听器调用是空操作。
func (l *Listener) Stop(timeout time.Duration) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	// 先登记停止状态，并发的Stop调用走空操作路径
	l.running = false
	stopChan := l.stopChan
	done := l.done
	l.mu.Unlock()

	close(stopChan)

	var timedOut bool
	select {
	case <-done:
	case <-time.After(timeout):
		timedOut = true
	}

	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.mu.Unlock()

	if timedOut {
		l.logger.Warn("监听器工作协程未在时限内退出", zap.Duration("timeout", timeout))
		return NewShutdownTimeoutError("监听器停止超时")
	}

	l.logger.Info("监听器已停止")
	return nil
}

// IsRunning 返回监听器是否在运行中
func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Registry 返回监听器使用的服务注册表
func (l *Listener) Registry() *registry.Registry {
	return l.registry
}

// Metrics 返回当前指标快照，活跃服务数取自注册表
func (l *Listener) Metrics() metrics.Snapshot {
	return l.metrics.Snapshot(l.registry.ActiveCount())
}

// ResetMetrics 清零指标计数器，不影响注册表内容
func (l *Listener) ResetMetrics() {
	l.metrics.Reset()
}
