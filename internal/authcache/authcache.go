// Package authcache 维护每个沙箱的网关访问凭证缓存。
//
// 凭证由控制面按沙箱签发，带有绝对过期时间。缓存以沙箱 ID 为键，
// 内存中的映射为权威数据，持久化存储（默认为单个 JSON 文件）为尽力而为：
// 写入失败不会影响调用方，进程内后续请求继续使用内存值。
package authcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Credential 是访问单个沙箱执行网关的能力凭证。
// 当且仅当当前时间早于 ExpiresAt 时凭证有效；过期后即被逐出，不再复用。
type Credential struct {
	GatewayURL    string    `json:"gateway_url"`
	UserNamespace string    `json:"user_namespace"`
	JobID         string    `json:"job_id"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`

	// IsGPU 标记沙箱是否为 GPU 实例，随凭证一同缓存，用于选择命令执行通道。
	IsGPU *bool `json:"is_gpu,omitempty"`
}

// Valid 报告凭证在 now 时刻是否仍然有效。
func (c Credential) Valid(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// FetchFunc 从控制面获取指定沙箱的新凭证。
type FetchFunc func(ctx context.Context) (Credential, error)

// Cache 是过期感知的凭证缓存。
// 同一沙箱 ID 的并发刷新通过 singleflight 合并为一次后端调用；
// 不同 ID 的刷新互相独立。
type Cache struct {
	mu      sync.Mutex
	entries map[string]Credential
	store   Store
	group   singleflight.Group
	now     func() time.Time
}

// New 创建缓存并从 store 加载既有条目。
// 加载时已过期的条目被直接丢弃；若有丢弃则把清理后的集合写回存储。
// 加载失败按空缓存处理（存储只是尽力而为的持久层）。
func New(store Store) *Cache {
	c := &Cache{
		entries: make(map[string]Credential),
		store:   store,
		now:     time.Now,
	}
	loaded, err := store.Load()
	if err != nil || loaded == nil {
		return c
	}
	pruned := false
	now := c.now()
	for id, cred := range loaded {
		if cred.Valid(now) {
			c.entries[id] = cred
		} else {
			pruned = true
		}
	}
	if pruned {
		c.persist()
	}
	return c
}

// GetOrRefresh 返回 sandboxID 的有效凭证，必要时调用 fetch 刷新。
// 命中有效缓存时不访问后端；过期条目先逐出再刷新。
// fetch 的错误原样返回，缓存内部不做重试。
func (c *Cache) GetOrRefresh(ctx context.Context, sandboxID string, fetch FetchFunc) (Credential, error) {
	if cred, ok := c.lookup(sandboxID); ok {
		return cred, nil
	}

	v, err, _ := c.group.Do(sandboxID, func() (interface{}, error) {
		// singleflight 合并期间可能已有并发刷新完成，复查一次。
		if cred, ok := c.lookup(sandboxID); ok {
			return cred, nil
		}
		cred, err := fetch(ctx)
		if err != nil {
			return Credential{}, err
		}
		c.Set(sandboxID, cred)
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// lookup 返回有效的缓存条目。发现过期条目时将其逐出并持久化。
func (c *Cache) lookup(sandboxID string) (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.entries[sandboxID]
	if !ok {
		return Credential{}, false
	}
	if !cred.Valid(c.now()) {
		delete(c.entries, sandboxID)
		c.persistLocked()
		return Credential{}, false
	}
	return cred, true
}

// Peek 返回有效的缓存条目，不触发刷新。
func (c *Cache) Peek(sandboxID string) (Credential, bool) {
	return c.lookup(sandboxID)
}

// Set 写入凭证，覆盖同 ID 的旧条目，并持久化。
func (c *Cache) Set(sandboxID string, cred Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sandboxID] = cred
	c.persistLocked()
}

// Annotate 对已存在的条目执行原地修改（如补记 GPU 标记）并持久化。
// 条目不存在时不做任何事。
func (c *Cache) Annotate(sandboxID string, fn func(*Credential)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.entries[sandboxID]
	if !ok {
		return
	}
	fn(&cred)
	c.entries[sandboxID] = cred
	c.persistLocked()
}

// Clear 清空内存条目并删除持久化存储，用于强制重新认证。
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Credential)
	// 删除失败可以忽略，内存已清空。
	_ = c.store.Clear()
}

func (c *Cache) persist() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistLocked()
}

// persistLocked 把当前内存快照写回存储。写入失败被吞掉：
// 内存值在本进程生命周期内仍然权威。
func (c *Cache) persistLocked() {
	snapshot := make(map[string]Credential, len(c.entries))
	for id, cred := range c.entries {
		snapshot[id] = cred
	}
	_ = c.store.Save(snapshot)
}
