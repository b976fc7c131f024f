package sdk

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hewenyu/vault-discovery/pkg/descriptor"
	"github.com/hewenyu/vault-discovery/pkg/metrics"
	"github.com/hewenyu/vault-discovery/pkg/multicast"
)

// AnnouncerConfig 服务公告方配置
type AnnouncerConfig struct {
	// 组播目标地址，默认224.1.1.1
	Group string
	// UDP端口，默认5004
	Port int
	// 组播跳数限制，默认2
	TTL int
	// 广播周期，默认2秒
	Interval time.Duration
	// 首次广播前的额外等待时间
	Delay time.Duration

	// 服务类型（必填）
	ServiceType string
	// 服务地址，兼作服务身份键（必填）
	ServiceAddr string
	// 服务名称
	ServiceName string
	// 服务版本
	ServiceVersion string
	// 附加元数据，原样并入公告负载
	Metadata map[string]interface{}
}

// Announcer 把一个服务周期性地公告到组播组。
// 每个实例携带一个唯一的instance_id，便于接收方区分重启。
type Announcer struct {
	config     *AnnouncerConfig
	instanceID string
	publisher  *multicast.Publisher
}

// NewAnnouncer 创建服务公告方
func NewAnnouncer(config *AnnouncerConfig) (*Announcer, error) {
	// 验证必填配置
	if config.ServiceType == "" {
		return nil, fmt.Errorf("服务类型不能为空")
	}
	if config.ServiceAddr == "" {
		return nil, fmt.Errorf("服务地址不能为空")
	}

	// 设置默认值
	if config.Group == "" {
		config.Group = "224.1.1.1"
	}
	if config.Port == 0 {
		config.Port = 5004
	}
	if config.TTL == 0 {
		config.TTL = 2
	}
	if config.Interval == 0 {
		config.Interval = 2 * time.Second
	}

	a := &Announcer{
		config:     config,
		instanceID: uuid.New().String(),
	}

	payload, err := a.buildPayload(time.Now())
	if err != nil {
		return nil, err
	}

	publisher, err := multicast.NewPublisher(multicast.PublisherConfig{
		Group:    config.Group,
		Port:     config.Port,
		TTL:      config.TTL,
		Interval: config.Interval,
		Delay:    config.Delay,
	}, payload, nil)
	if err != nil {
		return nil, err
	}
	a.publisher = publisher

	return a, nil
}

// buildPayload 构造公告负载
func (a *Announcer) buildPayload(now time.Time) ([]byte, error) {
	fields := make(map[string]interface{}, len(a.config.Metadata)+6)
	for k, v := range a.config.Metadata {
		fields[k] = v
	}
	fields[descriptor.FieldType] = a.config.ServiceType
	fields[descriptor.FieldAddr] = a.config.ServiceAddr
	if a.config.ServiceName != "" {
		fields["name"] = a.config.ServiceName
	}
	if a.config.ServiceVersion != "" {
		fields["version"] = a.config.ServiceVersion
	}
	fields["instance_id"] = a.instanceID

	d := &descriptor.Descriptor{
		Type:   a.config.ServiceType,
		Addr:   a.config.ServiceAddr,
		Name:   a.config.ServiceName,
		Fields: fields,
	}
	d.Stamp(now)

	return d.Encode()
}

// Start 启动周期公告
func (a *Announcer) Start() error {
	return a.publisher.Start()
}

// Refresh 用当前时间重新打戳并替换广播负载
func (a *Announcer) Refresh() error {
	payload, err := a.buildPayload(time.Now())
	if err != nil {
		return err
	}
	a.publisher.UpdateMessage(payload)
	return nil
}

// Stop 停止公告，最多等待timeout
func (a *Announcer) Stop(timeout time.Duration) error {
	return a.publisher.Stop(timeout)
}

// InstanceID 返回本实例的唯一标识
func (a *Announcer) InstanceID() string {
	return a.instanceID
}

// IsRunning 返回公告是否在运行中
func (a *Announcer) IsRunning() bool {
	return a.publisher.IsRunning()
}

// Metrics 返回发送侧指标快照
func (a *Announcer) Metrics() metrics.Snapshot {
	return a.publisher.Metrics()
}
