package sdk

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/vault-discovery/pkg/descriptor"
)

// freeLoopbackPort 探测一个可用的回环UDP端口
func freeLoopbackPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func TestNewAnnouncer_Validation(t *testing.T) {
	_, err := NewAnnouncer(&AnnouncerConfig{ServiceAddr: "10.0.0.1:2004"})
	assert.Error(t, err)

	_, err = NewAnnouncer(&AnnouncerConfig{ServiceType: "vault"})
	assert.Error(t, err)
}

func TestNewAnnouncer_Defaults(t *testing.T) {
	a, err := NewAnnouncer(&AnnouncerConfig{
		ServiceType: "vault",
		ServiceAddr: "10.0.0.1:2004",
	})
	require.NoError(t, err)

	assert.Equal(t, "224.1.1.1", a.config.Group)
	assert.Equal(t, 5004, a.config.Port)
	assert.Equal(t, 2, a.config.TTL)
	assert.Equal(t, 2*time.Second, a.config.Interval)

	// 实例标识是合法的UUID
	_, err = uuid.Parse(a.InstanceID())
	assert.NoError(t, err)
}

func TestAnnouncer_PayloadContent(t *testing.T) {
	a, err := NewAnnouncer(&AnnouncerConfig{
		ServiceType:    "vault",
		ServiceName:    "library",
		ServiceAddr:    "10.0.0.1:2004",
		ServiceVersion: "1.2.0",
		Metadata:       map[string]interface{}{"region": "cn-east"},
	})
	require.NoError(t, err)

	payload, err := a.buildPayload(time.Now())
	require.NoError(t, err)

	d, err := descriptor.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, "vault", d.Type)
	assert.Equal(t, "library", d.Name)
	assert.Equal(t, "10.0.0.1:2004", d.Addr)
	assert.Equal(t, "1.2.0", d.Version)
	// 元数据原样并入负载
	assert.Equal(t, "cn-east", d.Fields["region"])
	assert.Equal(t, a.InstanceID(), d.Fields["instance_id"])
	assert.Greater(t, d.Timestamp, 0.0)
}

func TestAnnouncer_RefreshAdvancesTimestamp(t *testing.T) {
	a, err := NewAnnouncer(&AnnouncerConfig{
		ServiceType: "vault",
		ServiceAddr: "10.0.0.1:2004",
	})
	require.NoError(t, err)

	first, err := descriptor.Decode(a.publisher.Message())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Refresh())

	second, err := descriptor.Decode(a.publisher.Message())
	require.NoError(t, err)

	assert.Greater(t, second.Timestamp, first.Timestamp)
	// 刷新不改变实例标识
	assert.Equal(t, first.Fields["instance_id"], second.Fields["instance_id"])
}

func TestWatcher_Defaults(t *testing.T) {
	w, err := NewWatcher(&WatcherConfig{})
	require.NoError(t, err)

	assert.Equal(t, "224.1.1.1", w.config.Group)
	assert.Equal(t, 5004, w.config.Port)
	assert.Equal(t, 2*time.Second, w.config.ReceiveTimeout)
	assert.Equal(t, 1400, w.config.BufferSize)
	assert.Equal(t, 30*time.Second, w.config.ServiceTimeout)
	assert.Equal(t, 64, cap(w.announcements))
}

func TestAnnouncerWatcher_LoopbackRoundTrip(t *testing.T) {
	port := freeLoopbackPort(t)

	w, err := NewWatcher(&WatcherConfig{
		Group:          "127.0.0.1",
		Port:           port,
		ReceiveTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop(time.Second)

	a, err := NewAnnouncer(&AnnouncerConfig{
		Group:       "127.0.0.1",
		Port:        port,
		Interval:    50 * time.Millisecond,
		ServiceType: "vault",
		ServiceName: "library",
		ServiceAddr: "10.0.0.1:2004",
	})
	require.NoError(t, err)
	require.NoError(t, a.Start())
	defer a.Stop(time.Second)

	// 公告经通道送达
	select {
	case d := <-w.Announcements():
		assert.Equal(t, "vault", d.Type)
		assert.Equal(t, "10.0.0.1:2004", d.Addr)
	case <-time.After(2 * time.Second):
		t.Fatal("未在时限内收到服务公告")
	}

	// 注册表视图同步更新
	require.Eventually(t, func() bool {
		_, ok := w.Get("10.0.0.1:2004")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	services := w.Services()
	require.Len(t, services, 1)
	assert.Equal(t, "library", services[0].Descriptor.Name)
}

func TestWatcher_ChannelOverflowDoesNotBlock(t *testing.T) {
	w, err := NewWatcher(&WatcherConfig{
		Group:         "127.0.0.1",
		Port:          freeLoopbackPort(t),
		ChannelBuffer: 1,
	})
	require.NoError(t, err)

	// 直接调用转发：通道满后继续转发不会阻塞
	d := &descriptor.Descriptor{Type: "vault", Addr: "10.0.0.1:2004"}
	w.forward(d)
	w.forward(d)
	w.forward(d)

	assert.Len(t, w.announcements, 1)
}
