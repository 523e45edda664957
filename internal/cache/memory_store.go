package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore 以进程内 map 保存条目，按写入顺序记录 key，主要用于测试与
// 不需要持久化的部署。
type memoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]*memoryNamespace
	seq        uint64
}

type memoryNamespace struct {
	created uint64
	entries map[string]Entry
	order   []string
}

// NewMemoryStore 返回空的内存 Store。
func NewMemoryStore() Store {
	return &memoryStore{namespaces: make(map[string]*memoryNamespace)}
}

func (s *memoryStore) Open(ctx context.Context, namespace string) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	if err := ctxDone(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(namespace)
	return nil
}

func (s *memoryStore) ensure(namespace string) *memoryNamespace {
	ns := s.namespaces[namespace]
	if ns == nil {
		s.seq++
		ns = &memoryNamespace{created: s.seq, entries: make(map[string]Entry)}
		s.namespaces[namespace] = ns
	}
	return ns
}

func (s *memoryStore) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := s.namespaces[namespace]
	if ns == nil {
		return nil, ErrNotFound
	}
	entry, ok := ns.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cloned := entry.Clone()
	return &cloned, nil
}

func (s *memoryStore) Put(ctx context.Context, namespace, key string, entry Entry) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	if err := ctxDone(ctx); err != nil {
		return err
	}
	entry = entry.Clone()
	entry.Key = key
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.ensure(namespace)
	if _, exists := ns.entries[key]; !exists {
		ns.order = append(ns.order, key)
	}
	ns.entries[key] = entry
	return nil
}

func (s *memoryStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := s.namespaces[namespace]
	if ns == nil {
		return nil, nil
	}
	return append([]string(nil), ns.order...), nil
}

func (s *memoryStore) Delete(ctx context.Context, namespace, key string) (bool, error) {
	if err := ctxDone(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[namespace]
	if ns == nil {
		return false, nil
	}
	if _, ok := ns.entries[key]; !ok {
		return false, nil
	}
	delete(ns.entries, key)
	for i, k := range ns.order {
		if k == key {
			ns.order = append(ns.order[:i], ns.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *memoryStore) DeleteNamespace(ctx context.Context, namespace string) (bool, error) {
	if err := ctxDone(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[namespace]; !ok {
		return false, nil
	}
	delete(s.namespaces, namespace)
	return true, nil
}

func (s *memoryStore) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return s.namespaces[names[i]].created < s.namespaces[names[j]].created
	})
	return names, nil
}

func (s *memoryStore) Close() error {
	return nil
}
