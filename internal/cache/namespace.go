package cache

import (
	"context"
	"errors"
)

// Namespace 把 Store 与某个命名空间名称绑定，类似打开后的单个缓存集合。
type Namespace struct {
	store Store
	name  string
}

// Bind 返回绑定到 name 的 Namespace 句柄，不会创建命名空间。
func Bind(store Store, name string) Namespace {
	return Namespace{store: store, name: name}
}

// Name 返回命名空间名称。
func (n Namespace) Name() string {
	return n.name
}

// Match 精确查找 key；未命中返回 (nil, false, nil)。
func (n Namespace) Match(ctx context.Context, key string) (*Entry, bool, error) {
	if n.store == nil {
		return nil, false, nil
	}
	entry, err := n.store.Get(ctx, n.name, key)
	switch {
	case err == nil:
		return entry, true, nil
	case errors.Is(err, ErrNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Put 写入条目副本。
func (n Namespace) Put(ctx context.Context, key string, entry Entry) error {
	if n.store == nil {
		return errors.New("cache store unavailable")
	}
	return n.store.Put(ctx, n.name, key, entry)
}

// Keys 返回当前命名空间全部 key。
func (n Namespace) Keys(ctx context.Context) ([]string, error) {
	if n.store == nil {
		return nil, nil
	}
	return n.store.Keys(ctx, n.name)
}
