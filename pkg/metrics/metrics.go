package metrics

import (
	"sync"
	"time"
)

// epsilon 防止极短运行时间导致的除零
const epsilon = 1e-9

// Snapshot 表示指标的某一时刻视图，生成后不可变
type Snapshot struct {
	PacketsSent      int64   `json:"packets_sent"`       // 已发送报文数
	PacketsReceived  int64   `json:"packets_received"`   // 已接收报文数
	BytesSent        int64   `json:"bytes_sent"`         // 已发送字节数
	BytesReceived    int64   `json:"bytes_received"`     // 已接收字节数
	Errors           int64   `json:"errors"`             // 错误计数
	ActiveServices   int     `json:"active_services"`    // 当前活跃服务数
	UptimeSeconds    float64 `json:"uptime_seconds"`     // 运行时长（秒）
	PacketsPerSecond float64 `json:"packets_per_second"` // 平均报文速率
}

// Collector 收集组播通信指标。
// 所有计数器通过单一互斥锁保护，发布方和接收方各持有独立实例。
type Collector struct {
	mu              sync.Mutex
	packetsSent     int64
	packetsReceived int64
	bytesSent       int64
	bytesReceived   int64
	errors          int64
	startTime       time.Time
}

// NewCollector 创建新的指标收集器，运行时长从创建时刻开始计算
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
	}
}

// RecordSent 记录一次成功发送
func (c *Collector) RecordSent(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packetsSent++
	c.bytesSent += int64(bytes)
}

// RecordReceived 记录一次成功接收
func (c *Collector) RecordReceived(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packetsReceived++
	c.bytesReceived += int64(bytes)
}

// RecordError 记录一次错误
func (c *Collector) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

// Snapshot 返回当前指标的一致视图。
// activeServices由调用方提供，收集器本身不跟踪服务存活状态。
func (c *Collector) Snapshot(activeServices int) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	uptime := time.Since(c.startTime).Seconds()
	if uptime < epsilon {
		uptime = epsilon
	}

	return Snapshot{
		PacketsSent:      c.packetsSent,
		PacketsReceived:  c.packetsReceived,
		BytesSent:        c.bytesSent,
		BytesReceived:    c.bytesReceived,
		Errors:           c.errors,
		ActiveServices:   activeServices,
		UptimeSeconds:    uptime,
		PacketsPerSecond: float64(c.packetsSent+c.packetsReceived) / uptime,
	}
}

// Reset 清零所有计数器并重置起始时间
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packetsSent = 0
	c.packetsReceived = 0
	c.bytesSent = 0
	c.bytesReceived = 0
	c.errors = 0
	c.startTime = time.Now()
}
