package authcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Store 是凭证缓存的持久层。
// 布局为单个 JSON 对象：沙箱 ID → 凭证字段，无版本号字段，
// 任何实现都必须与该扁平结构保持前向兼容。
type Store interface {
	Load() (map[string]Credential, error)
	Save(map[string]Credential) error
	Clear() error
}

// FileStore 把凭证缓存持久化到单个 JSON 文件。
// 读写通过旁路锁文件（<path>.lock）做进程间互斥，
// 与同机并发运行的其他客户端进程共享缓存时避免写坏文件。
type FileStore struct {
	path string
}

// NewFileStore 创建指向 path 的文件存储。文件与父目录按需创建。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) lock(exclusive bool) (func(), error) {
	fl := flock.New(s.path + ".lock")
	var err error
	if exclusive {
		err = fl.Lock()
	} else {
		err = fl.RLock()
	}
	if err != nil {
		return nil, err
	}
	return func() { _ = fl.Unlock() }, nil
}

// Load 读取整个缓存文件。文件不存在视为空缓存。
func (s *FileStore) Load() (map[string]Credential, error) {
	unlock, err := s.lock(false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Credential{}, nil
		}
		return nil, err
	}
	entries := make(map[string]Credential)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Save 重写整个缓存文件。
func (s *FileStore) Save(entries map[string]Credential) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	unlock, err := s.lock(true)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

// Clear 删除缓存文件及其锁文件。
func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	_ = os.Remove(s.path + ".lock")
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemoryStore 是测试用的内存存储实现。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Credential

	// SaveErr 非空时 Save 返回该错误，用于模拟持久化失败。
	SaveErr error
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Credential{}}
}

func (s *MemoryStore) Load() (map[string]Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Credential, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Save(entries map[string]Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.entries = make(map[string]Credential, len(entries))
	for k, v := range entries {
		s.entries[k] = v
	}
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]Credential{}
	return nil
}

// Snapshot 返回当前存储内容的副本，供测试断言。
func (s *MemoryStore) Snapshot() map[string]Credential {
	out, _ := s.Load()
	return out
}
