package fetch

import (
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/offline-hub/offline-hub/internal/cache"
)

// Request is the buffered view of an intercepted request. URL is always the
// absolute upstream address.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewRequest parses rawURL and builds a GET request without headers.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: strings.ToUpper(method), URL: u, Header: http.Header{}}, nil
}

// Key returns the canonical request identity: the absolute URL without fragment.
func (r *Request) Key() string {
	if r == nil || r.URL == nil {
		return ""
	}
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Origin returns scheme://host of the request URL.
func (r *Request) Origin() string {
	if r == nil || r.URL == nil {
		return ""
	}
	return OriginOf(r.URL)
}

// IsGet reports whether the request may read from or write to the cache.
func (r *Request) IsGet() bool {
	return r != nil && r.Method == http.MethodGet
}

// IsNavigation 判断请求是否为页面导航：优先使用 Sec-Fetch-Mode，缺失时回退到 Accept 嗅探。
func (r *Request) IsNavigation() bool {
	if r == nil {
		return false
	}
	if mode := strings.TrimSpace(r.Header.Get("Sec-Fetch-Mode")); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	if r.Method != http.MethodGet {
		return false
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/html")
}

// ContentType returns the media type of the request body, lower-cased.
func (r *Request) ContentType() (string, map[string]string) {
	raw := r.Header.Get("Content-Type")
	if raw == "" {
		return "", nil
	}
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw)), nil
	}
	return mediaType, params
}

// OriginOf renders scheme://host for u.
func OriginOf(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// Source 标记响应来源，写入 X-Offline-Hub-Source 响应头。
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceShell   Source = "shell"
	SourceLocal   Source = "local"
)

// Response is a fully buffered response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source Source
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Entry converts the response to a cache entry stored under key.
func (r *Response) Entry(key string) cache.Entry {
	return cache.Entry{
		Key:    key,
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   append([]byte(nil), r.Body...),
	}
}

// FromEntry rebuilds a response from a stored entry.
func FromEntry(entry *cache.Entry, source Source) *Response {
	if entry == nil {
		return nil
	}
	header := entry.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Status: entry.Status,
		Header: header,
		Body:   append([]byte(nil), entry.Body...),
		Source: source,
	}
}
