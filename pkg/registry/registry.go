package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/hewenyu/vault-discovery/pkg/descriptor"
)

// ServiceEntry 表示一个已发现的服务
type ServiceEntry struct {
	Addr       string                 `json:"addr"`       // 服务地址（身份键）
	Descriptor *descriptor.Descriptor `json:"descriptor"` // 最近一次收到的描述符
	FirstSeen  time.Time              `json:"first_seen"` // 首次发现时间
	LastSeen   time.Time              `json:"last_seen"`  // 最后发现时间
}

// Registry 维护已观测服务的存活注册表。
// 条目以描述符的addr字段为键；过期判定在查询时惰性计算，
// 物理删除通过外部协作方周期调用Sweep完成。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*ServiceEntry
	timeout time.Duration
}

// NewRegistry 创建服务注册表，timeout为服务存活窗口
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*ServiceEntry),
		timeout: timeout,
	}
}

// Refresh 插入或更新addr对应的条目并刷新其最后发现时间。
// 已存在的条目直接替换描述符（最新覆盖，不做合并）。
func (r *Registry) Refresh(addr string, d *descriptor.Descriptor, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[addr]; exists {
		entry.Descriptor = d
		if now.After(entry.LastSeen) {
			entry.LastSeen = now
		}
		return
	}

	r.entries[addr] = &ServiceEntry{
		Addr:       addr,
		Descriptor: d,
		FirstSeen:  now,
		LastSeen:   now,
	}
}

// ActiveCount 返回当前活跃服务数量
func (r *Registry) ActiveCount() int {
	return r.ActiveCountAt(time.Now())
}

// ActiveCountAt 返回在now时刻仍处于存活窗口内的服务数量
func (r *Registry) ActiveCountAt(now time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, entry := range r.entries {
		if now.Sub(entry.LastSeen) < r.timeout {
			count++
		}
	}
	return count
}

// ActiveSnapshot 返回当前活跃服务的条目快照
func (r *Registry) ActiveSnapshot() []*ServiceEntry {
	return r.ActiveSnapshotAt(time.Now())
}

// ActiveSnapshotAt 返回在now时刻仍处于存活窗口内的条目快照，按地址排序。
// 过期条目即使尚未被Sweep物理删除也不会出现在快照中。
func (r *Registry) ActiveSnapshotAt(now time.Time) []*ServiceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*ServiceEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if now.Sub(entry.LastSeen) < r.timeout {
			copied := *entry
			entries = append(entries, &copied)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Addr < entries[j].Addr
	})
	return entries
}

// Get 返回addr对应的条目副本，仅当其在now时刻仍存活
func (r *Registry) Get(addr string, now time.Time) (*ServiceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[addr]
	if !exists || now.Sub(entry.LastSeen) >= r.timeout {
		return nil, false
	}
	copied := *entry
	return &copied, true
}

// Sweep 物理删除在now时刻已超出存活窗口的条目并返回删除数量。
// 幂等：对不存在的条目删除是空操作。
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for addr, entry := range r.entries {
		if now.Sub(entry.LastSeen) >= r.timeout {
			delete(r.entries, addr)
			removed++
		}
	}
	return removed
}

// Reset 清空所有条目
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*ServiceEntry)
}

// Len 返回当前条目总数，包含尚未被清理的过期条目
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Timeout 返回服务存活窗口
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}
