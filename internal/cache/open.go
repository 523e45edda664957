package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Driver 标识 Store 的后端实现。
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverFile   Driver = "file"
	DriverSQLite Driver = "sqlite"
	DriverRedis  Driver = "redis"
)

// Options 汇总构建 Store 所需的参数，由 config.GlobalConfig 映射而来。
type Options struct {
	Driver      Driver
	StoragePath string
	RedisAddr   string
	RedisPrefix string
}

// New 根据驱动类型构建 Store，CLI 启动时调用一次并在全进程复用。
func New(ctx context.Context, opts Options) (Store, error) {
	driver := Driver(strings.ToLower(strings.TrimSpace(string(opts.Driver))))
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFile, "":
		return NewFileStore(opts.StoragePath)
	case DriverSQLite:
		return NewSQLiteStore(filepath.Join(opts.StoragePath, "cache.db"))
	case DriverRedis:
		store, err := DialRedis(ctx, opts.RedisAddr)
		if err != nil {
			return nil, err
		}
		if opts.RedisPrefix != "" {
			store.(*redisStore).prefix = opts.RedisPrefix
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", opts.Driver)
	}
}

// Persistent 报告驱动是否会在进程重启后保留内容。
func (d Driver) Persistent() bool {
	return d != DriverMemory
}
