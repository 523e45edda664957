package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Store 是缓存的能力接口，所有命名空间共享一份实例。实现必须保证单 key 的
// Get/Put 原子性；同一 key 并发写入遵循 last-write-wins。
type Store interface {
	// Open 创建命名空间（若已存在则不做任何事）。
	Open(ctx context.Context, namespace string) error

	// Get 按 key 精确查找条目；命名空间或条目不存在时返回 ErrNotFound。
	Get(ctx context.Context, namespace, key string) (*Entry, error)

	// Put 写入条目并整体替换同 key 的旧值，命名空间不存在时隐式创建。
	Put(ctx context.Context, namespace, key string, entry Entry) error

	// Delete 删除单个条目，返回删除前是否存在；命名空间本身保留。
	Delete(ctx context.Context, namespace, key string) (bool, error)

	// Keys 返回命名空间内全部 key；命名空间不存在时返回空列表。
	Keys(ctx context.Context, namespace string) ([]string, error)

	// DeleteNamespace 删除整个命名空间，返回删除前是否存在。
	DeleteNamespace(ctx context.Context, namespace string) (bool, error)

	// Namespaces 列出当前全部命名空间名称。
	Namespaces(ctx context.Context) ([]string, error)

	Close() error
}

// Entry 是一次响应的不可变快照（状态码、头部、正文）以及写入时间。
type Entry struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Clone 深拷贝条目，避免调用方修改共享的 Header/Body。
func (e Entry) Clone() Entry {
	cloned := e
	if e.Header != nil {
		cloned.Header = e.Header.Clone()
	}
	if e.Body != nil {
		cloned.Body = append([]byte(nil), e.Body...)
	}
	return cloned
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidNamespace 表示命名空间名称为空。
var ErrInvalidNamespace = errors.New("cache namespace required")

func checkNamespace(namespace string) error {
	if namespace == "" {
		return ErrInvalidNamespace
	}
	return nil
}

func ctxDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
