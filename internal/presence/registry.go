package presence

import (
	"sync"
	"sync/atomic"
	"time"
)

// Registry 在线用户注册表
// 并发安全的用户ID集合，记录每个用户最近一次活跃时间。
// 无持久化、无顺序要求；进程重启后从空集合重建。
type Registry struct {
	users sync.Map // userID(uint64) -> lastSeen(int64, UnixNano)
	count int64    // 当前在线人数，与users同步维护
}

// NewRegistry 创建一个空的在线注册表
func NewRegistry() *Registry {
	return &Registry{}
}

// MarkOnline 标记用户在线，已在线时仅刷新活跃时间
func (r *Registry) MarkOnline(userID uint64) {
	now := time.Now().UnixNano()
	if _, loaded := r.users.Swap(userID, now); !loaded {
		atomic.AddInt64(&r.count, 1)
	}
}

// MarkOffline 将用户移出在线集合
func (r *Registry) MarkOffline(userID uint64) {
	if _, loaded := r.users.LoadAndDelete(userID); loaded {
		atomic.AddInt64(&r.count, -1)
	}
}

// IsOnline 判断用户当前是否在线
func (r *Registry) IsOnline(userID uint64) bool {
	_, ok := r.users.Load(userID)
	return ok
}

// Count 返回当前在线人数
func (r *Registry) Count() int {
	return int(atomic.LoadInt64(&r.count))
}

// Prune 移除空闲超过maxIdle的用户，返回被移除的数量
// 由后台定时任务调用，弥补客户端不会主动下线的情况
func (r *Registry) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle).UnixNano()
	removed := 0
	r.users.Range(func(key, value interface{}) bool {
		if lastSeen, ok := value.(int64); ok && lastSeen < cutoff {
			if _, loaded := r.users.LoadAndDelete(key); loaded {
				atomic.AddInt64(&r.count, -1)
				removed++
			}
		}
		return true
	})
	return removed
}
