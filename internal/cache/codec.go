package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/snappy"
)

// envelope 是持久化驱动共用的序列化格式，正文以 snappy 压缩。
type envelope struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body,omitempty"`
	StoredAt time.Time   `json:"stored_at"`
}

func encodeEntry(entry Entry) ([]byte, error) {
	env := envelope{
		Key:      entry.Key,
		Status:   entry.Status,
		Header:   entry.Header,
		StoredAt: entry.StoredAt.UTC(),
	}
	if len(entry.Body) > 0 {
		env.Body = snappy.Encode(nil, entry.Body)
	}
	return json.Marshal(env)
}

func decodeEntry(data []byte) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	entry := Entry{
		Key:      env.Key,
		Status:   env.Status,
		Header:   env.Header,
		StoredAt: env.StoredAt,
	}
	if len(env.Body) > 0 {
		body, err := snappy.Decode(nil, env.Body)
		if err != nil {
			return Entry{}, fmt.Errorf("decompress cache entry: %w", err)
		}
		entry.Body = body
	}
	if entry.Header == nil {
		entry.Header = http.Header{}
	}
	return entry, nil
}
