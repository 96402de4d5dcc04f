package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestMarkOnlineAndOffline 验证在线/下线的基本行为
func TestMarkOnlineAndOffline(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.IsOnline(1), "初始状态下用户不应在线")
	assert.Equal(t, 0, r.Count())

	r.MarkOnline(1)
	r.MarkOnline(2)
	assert.True(t, r.IsOnline(1))
	assert.True(t, r.IsOnline(2))
	assert.Equal(t, 2, r.Count())

	// 重复标记在线不应重复计数
	r.MarkOnline(1)
	assert.Equal(t, 2, r.Count(), "重复MarkOnline不应增加在线人数")

	r.MarkOffline(1)
	assert.False(t, r.IsOnline(1))
	assert.Equal(t, 1, r.Count())

	// 重复下线应是无操作
	r.MarkOffline(1)
	assert.Equal(t, 1, r.Count())
}

// TestPruneRemovesIdleUsers 验证空闲用户会被清理
func TestPruneRemovesIdleUsers(t *testing.T) {
	r := NewRegistry()

	r.MarkOnline(1)
	r.MarkOnline(2)

	time.Sleep(20 * time.Millisecond)
	r.MarkOnline(2) // 刷新用户2的活跃时间

	removed := r.Prune(10 * time.Millisecond)
	assert.Equal(t, 1, removed, "只有用户1应被清理")
	assert.False(t, r.IsOnline(1))
	assert.True(t, r.IsOnline(2))
	assert.Equal(t, 1, r.Count())
}

// TestRegistryConcurrentAccess 并发读写不应导致计数错乱
func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	const users = 100
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			r.MarkOnline(id)
			r.IsOnline(id)
			r.MarkOnline(id) // 刷新
		}(uint64(i))
	}
	wg.Wait()

	assert.Equal(t, users, r.Count())

	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			r.MarkOffline(id)
		}(uint64(i))
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count())
}
