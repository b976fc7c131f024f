package multicast

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/vault-discovery/pkg/descriptor"
	"github.com/hewenyu/vault-discovery/pkg/registry"
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

// newTestListener 创建绑定回环地址的监听器及其注册表
func newTestListener(t *testing.T, sink Sink, typeFilter string) (*Listener, *registry.Registry, int) {
	t.Helper()
	port := freeLoopbackPort(t)
	reg := registry.NewRegistry(30 * time.Second)

	l, err := NewListener(ListenerConfig{
		Group:      "127.0.0.1",
		Port:       port,
		Timeout:    50 * time.Millisecond,
		BufferSize: 1400,
		TypeFilter: typeFilter,
	}, reg, sink, nil)
	require.NoError(t, err)

	require.NoError(t, l.Start())
	t.Cleanup(func() { l.Stop(time.Second) })
	return l, reg, port
}

// sendDatagram 向回环端口发送一个数据报
func sendDatagram(t *testing.T, port int, payload []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func announcement(serviceType, name, addr string) []byte {
	return []byte(fmt.Sprintf(`{"type":%q,"name":%q,"addr":%q}`, serviceType, name, addr))
}

func TestListener_StartAlreadyRunning(t *testing.T) {
	l, _, _ := newTestListener(t, nil, "")

	err := l.Start()
	require.Error(t, err)
	assert.True(t, IsAlreadyRunning(err))
	assert.True(t, l.IsRunning())
}

func TestListener_StopIdempotent(t *testing.T) {
	l, _, _ := newTestListener(t, nil, "")

	assert.NoError(t, l.Stop(time.Second))
	assert.False(t, l.IsRunning())

	// 已停止后再次停止是空操作
	assert.NoError(t, l.Stop(time.Second))
}

func TestListener_ConcurrentStop(t *testing.T) {
	l, _, _ := newTestListener(t, nil, "")

	// 多个协程同时停止：一个执行关闭，其余走空操作路径
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotPanics(t, func() {
				assert.NoError(t, l.Stop(time.Second))
			})
		}()
	}
	wg.Wait()
	assert.False(t, l.IsRunning())
}

func TestListener_FatalSocketErrorStopsRole(t *testing.T) {
	l, _, _ := newTestListener(t, nil, "")

	// 外部关闭套接字模拟致命接收错误
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	require.NotNil(t, conn)
	conn.Close()

	// 工作协程退出后角色状态同步转为已停止
	require.Eventually(t, func() bool {
		return !l.IsRunning()
	}, 2*time.Second, 10*time.Millisecond)

	// 自行停止后的Stop是空操作
	assert.NoError(t, l.Stop(time.Second))
}

func TestListener_BurstReceive(t *testing.T) {
	l, reg, port := newTestListener(t, nil, "")

	// 连续突发发送，接收队列不应因套接字缓冲被人为压小而丢包
	for i := 0; i < 20; i++ {
		sendDatagram(t, port, announcement("vault",
			fmt.Sprintf("svc-%d", i), fmt.Sprintf("10.0.1.%d:2004", i+1)))
	}

	require.Eventually(t, func() bool {
		return l.Metrics().PacketsReceived == 20
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 20, reg.ActiveCount())
	assert.Equal(t, int64(0), l.Metrics().Errors)
}

func TestListener_TracksDistinctIdentities(t *testing.T) {
	l, reg, port := newTestListener(t, nil, "")

	// 三个数据报来自两个身份："A","B","A"
	sendDatagram(t, port, announcement("vault", "svc-a", "10.0.0.1:2004"))
	sendDatagram(t, port, announcement("vault", "svc-b", "10.0.0.2:2004"))
	sendDatagram(t, port, announcement("vault", "svc-a", "10.0.0.1:2004"))

	require.Eventually(t, func() bool {
		return l.Metrics().PacketsReceived == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, reg.ActiveCount())

	snap := l.Metrics()
	assert.Equal(t, 2, snap.ActiveServices)
	assert.Equal(t, int64(0), snap.Errors)
}

func TestListener_MalformedDatagramDropped(t *testing.T) {
	l, reg, port := newTestListener(t, nil, "")

	sendDatagram(t, port, []byte("this is not json"))

	require.Eventually(t, func() bool {
		return l.Metrics().Errors == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := l.Metrics()
	// 畸形报文计入接收量和错误数，注册表保持不变
	assert.Equal(t, int64(1), snap.PacketsReceived)
	assert.Equal(t, 0, reg.ActiveCount())
	assert.Equal(t, 0, reg.Len())

	// 缺少必需字段同样按解码失败处理
	sendDatagram(t, port, []byte(`{"name":"no-identity"}`))
	require.Eventually(t, func() bool {
		return l.Metrics().Errors == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, reg.Len())
}

func TestListener_SinkReceivesDescriptors(t *testing.T) {
	var mu sync.Mutex
	var got []*descriptor.Descriptor
	sink := func(d *descriptor.Descriptor) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	}

	_, _, port := newTestListener(t, sink, "")

	payload := announcement("vault", "svc-a", "10.0.0.1:2004")
	sendDatagram(t, port, payload)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// 往返后逻辑内容与发送的负载一致
	assert.Equal(t, "vault", got[0].Type)
	assert.Equal(t, "svc-a", got[0].Name)
	assert.Equal(t, "10.0.0.1:2004", got[0].Addr)
	assert.Equal(t, payload, got[0].Raw())
}

func TestListener_SinkPanicDoesNotKillLoop(t *testing.T) {
	sink := func(d *descriptor.Descriptor) {
		panic("sink failure")
	}

	l, reg, port := newTestListener(t, sink, "")

	sendDatagram(t, port, announcement("vault", "svc-a", "10.0.0.1:2004"))

	require.Eventually(t, func() bool {
		return l.Metrics().Errors == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 回调panic被计入错误，但注册表已更新且循环仍在运行
	assert.Equal(t, 1, reg.ActiveCount())
	assert.True(t, l.IsRunning())

	sendDatagram(t, port, announcement("vault", "svc-b", "10.0.0.2:2004"))
	require.Eventually(t, func() bool {
		return reg.ActiveCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListener_TypeFilter(t *testing.T) {
	l, reg, port := newTestListener(t, nil, "vault")

	sendDatagram(t, port, announcement("vault-library", "svc-a", "10.0.0.1:2004"))
	sendDatagram(t, port, announcement("printer", "svc-b", "10.0.0.2:2004"))

	require.Eventually(t, func() bool {
		return l.Metrics().PacketsReceived == 2
	}, 2*time.Second, 10*time.Millisecond)

	// 不匹配过滤器的公告计入接收量但不注册，也不算错误
	assert.Equal(t, 1, reg.ActiveCount())
	assert.Equal(t, int64(0), l.Metrics().Errors)

	_, ok := reg.Get("10.0.0.1:2004", time.Now())
	assert.True(t, ok)
	_, ok = reg.Get("10.0.0.2:2004", time.Now())
	assert.False(t, ok)
}

func TestListener_PublisherRoundTrip(t *testing.T) {
	_, reg, port := newTestListener(t, nil, "")

	payload := announcement("vault", "round-trip", "192.168.7.7:2004")
	p, err := NewPublisher(PublisherConfig{
		Group:    "127.0.0.1",
		Port:     port,
		TTL:      2,
		Interval: 50 * time.Millisecond,
	}, payload, nil)
	require.NoError(t, err)

	require.NoError(t, p.Start())
	defer p.Stop(time.Second)

	require.Eventually(t, func() bool {
		_, ok := reg.Get("192.168.7.7:2004", time.Now())
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	entry, ok := reg.Get("192.168.7.7:2004", time.Now())
	require.True(t, ok)
	assert.Equal(t, "vault", entry.Descriptor.Type)
	assert.Equal(t, "round-trip", entry.Descriptor.Name)
	assert.Equal(t, payload, entry.Descriptor.Raw())
}

func TestListener_ResetMetricsKeepsRegistry(t *testing.T) {
	l, reg, port := newTestListener(t, nil, "")

	sendDatagram(t, port, announcement("vault", "svc-a", "10.0.0.1:2004"))
	require.Eventually(t, func() bool {
		return l.Metrics().PacketsReceived == 1
	}, 2*time.Second, 10*time.Millisecond)

	l.ResetMetrics()

	snap := l.Metrics()
	assert.Equal(t, int64(0), snap.PacketsReceived)
	assert.Equal(t, int64(0), snap.BytesReceived)
	// 指标清零不影响注册表内容
	assert.Equal(t, 1, reg.ActiveCount())
	assert.Equal(t, 1, snap.ActiveServices)
}
