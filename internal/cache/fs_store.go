package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const entrySuffix = ".entry"

// NewFileStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。磁盘布局：
//
//	<StoragePath>/<escaped namespace>/<sha1(key)>.entry
func NewFileStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，命名空间级操作持有 nsMu。
type fileStore struct {
	basePath string

	nsMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Open(ctx context.Context, namespace string) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	if err := ctxDone(ctx); err != nil {
		return err
	}
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()
	return os.MkdirAll(s.namespaceDir(namespace), 0o755)
}

func (s *fileStore) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	if namespace == "" {
		return nil, ErrNotFound
	}

	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	data, err := os.ReadFile(s.entryPath(namespace, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entry, err := decodeEntry(data)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *fileStore) Put(ctx context.Context, namespace, key string, entry Entry) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	if err := ctxDone(ctx); err != nil {
		return err
	}

	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	filePath := s.entryPath(namespace, key)
	unlock := s.lockEntry(filePath)
	defer unlock()

	entry.Key = key
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fileStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	if namespace == "" {
		return nil, nil
	}

	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	dirEntries, err := os.ReadDir(s.namespaceDir(namespace))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	type keyed struct {
		key      string
		storedAt time.Time
	}
	found := make([]keyed, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), entrySuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.namespaceDir(namespace), de.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		entry, err := decodeEntry(data)
		if err != nil {
			return nil, err
		}
		found = append(found, keyed{key: entry.Key, storedAt: entry.StoredAt})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].storedAt.Equal(found[j].storedAt) {
			return found[i].key < found[j].key
		}
		return found[i].storedAt.Before(found[j].storedAt)
	})

	keys := make([]string, len(found))
	for i, item := range found {
		keys[i] = item.key
	}
	return keys, nil
}

func (s *fileStore) Delete(ctx context.Context, namespace, key string) (bool, error) {
	if err := checkNamespace(namespace); err != nil {
		return false, err
	}
	if err := ctxDone(ctx); err != nil {
		return false, err
	}

	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	filePath := s.entryPath(namespace, key)
	unlock := s.lockEntry(filePath)
	defer unlock()

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *fileStore) DeleteNamespace(ctx context.Context, namespace string) (bool, error) {
	if err := ctxDone(ctx); err != nil {
		return false, err
	}
	if namespace == "" {
		return false, nil
	}

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	dir := s.namespaceDir(namespace)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}

	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		name, err := url.PathUnescape(de.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// namespaceDir 对命名空间名称做 PathEscape，允许空格等字符且不会越出 basePath。
func (s *fileStore) namespaceDir(namespace string) string {
	escaped := url.PathEscape(namespace)
	if escaped == "." || escaped == ".." {
		escaped = strings.ReplaceAll(escaped, ".", "%2E")
	}
	return filepath.Join(s.basePath, escaped)
}

func (s *fileStore) entryPath(namespace, key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(s.namespaceDir(namespace), hex.EncodeToString(sum[:])+entrySuffix)
}
