package sdk

import (
	"time"

	"github.com/hewenyu/vault-discovery/pkg/descriptor"
	"github.com/hewenyu/vault-discovery/pkg/metrics"
	"github.com/hewenyu/vault-discovery/pkg/multicast"
	"github.com/hewenyu/vault-discovery/pkg/registry"
)

// WatcherConfig 服务观察方配置
type WatcherConfig struct {
	// 组播组地址，默认224.1.1.1
	Group string
	// UDP端口，默认5004
	Port int
	// 接收超时，同时决定停止响应粒度，默认2秒
	ReceiveTimeout time.Duration
	// 最大数据报读取大小，默认1400
	BufferSize int
	// 服务存活窗口，默认30秒
	ServiceTimeout time.Duration
	// 服务类型过滤器（子串匹配，空表示不过滤）
	TypeFilter string
	// 公告通道缓冲大小，默认64
	ChannelBuffer int
}

// Watcher 监听组播组并维护已发现服务的存活视图。
// 每收到一条有效公告会推送到Announcements通道；
// 通道已满时丢弃该条推送，不会阻塞接收循环。
type Watcher struct {
	config        *WatcherConfig
	registry      *registry.Registry
	listener      *multicast.Listener
	announcements chan *descriptor.Descriptor
}

// NewWatcher 创建服务观察方
func NewWatcher(config *WatcherConfig) (*Watcher, error) {
	// 设置默认值
	if config.Group == "" {
		config.Group = "224.1.1.1"
	}
	if config.Port == 0 {
		config.Port = 5004
	}
	if config.ReceiveTimeout == 0 {
		config.ReceiveTimeout = 2 * time.Second
	}
	if config.BufferSize == 0 {
		config.BufferSize = 1400
	}
	if config.ServiceTimeout == 0 {
		config.ServiceTimeout = 30 * time.Second
	}
	if config.ChannelBuffer == 0 {
		config.ChannelBuffer = 64
	}

	w := &Watcher{
		config:        config,
		registry:      registry.NewRegistry(config.ServiceTimeout),
		announcements: make(chan *descriptor.Descriptor, config.ChannelBuffer),
	}

	listener, err := multicast.NewListener(multicast.ListenerConfig{
		Group:      config.Group,
		Port:       config.Port,
		Timeout:    config.ReceiveTimeout,
		BufferSize: config.BufferSize,
		TypeFilter: config.TypeFilter,
	}, w.registry, w.forward, nil)
	if err != nil {
		return nil, err
	}
	w.listener = listener

	return w, nil
}

// forward 把公告推送到通道，通道满时丢弃
func (w *Watcher) forward(d *descriptor.Descriptor) {
	select {
	case w.announcements <- d:
	default:
	}
}

// Start 启动观察
func (w *Watcher) Start() error {
	return w.listener.Start()
}

// Stop 停止观察，最多等待timeout
func (w *Watcher) Stop(timeout time.Duration) error {
	return w.listener.Stop(timeout)
}

// Announcements 返回有效公告的只读通道
func (w *Watcher) Announcements() <-chan *descriptor.Descriptor {
	return w.announcements
}

// Services 返回当前活跃服务的快照，按地址排序
func (w *Watcher) Services() []*registry.ServiceEntry {
	return w.registry.ActiveSnapshot()
}

// Get 按服务地址查找活跃服务
func (w *Watcher) Get(addr string) (*registry.ServiceEntry, bool) {
	return w.registry.Get(addr, time.Now())
}

// Sweep 立即物理清理过期条目并返回删除数量
func (w *Watcher) Sweep() int {
	return w.registry.Sweep(time.Now())
}

// IsRunning 返回观察是否在运行中
func (w *Watcher) IsRunning() bool {
	return w.listener.IsRunning()
}

// Metrics 返回接收侧指标快照
func (w *Watcher) Metrics() metrics.Snapshot {
	return w.listener.Metrics()
}
