package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Fetcher performs network requests. Implementations must be safe for
// concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// NetworkError 表示请求未能得到任何 HTTP 响应（DNS、连接、超时等）。
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPFetcher 基于共享 http.Client 发起上游请求，按上游 Host 选择可选的出口代理。
type HTTPFetcher struct {
	client  *http.Client
	proxies map[string]*url.URL

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewHTTPFetcher creates a fetcher. proxies maps an upstream host (lower-case,
// may include port) to the proxy that should carry its traffic.
func NewHTTPFetcher(client *http.Client, proxies map[string]*url.URL) *HTTPFetcher {
	if client == nil {
		client = NewUpstreamClient(0)
	}
	normalized := make(map[string]*url.URL, len(proxies))
	for host, proxyURL := range proxies {
		if proxyURL != nil {
			normalized[strings.ToLower(host)] = proxyURL
		}
	}
	return &HTTPFetcher{
		client:  client,
		proxies: normalized,
		clients: make(map[string]*http.Client),
	}
}

// Fetch 执行请求并完整读取响应体；任何传输层失败都包装为 *NetworkError。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("fetch: request url is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}
	CopyHeaders(httpReq.Header, req.Header)
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Del("Host")
	httpReq.Host = req.URL.Host

	resp, err := f.clientFor(req.URL.Host).Do(httpReq)
	if err != nil {
		return nil, &NetworkError{URL: req.Key(), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: req.Key(), Err: err}
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	header.Del("Content-Length")

	return &Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   payload,
		Source: SourceNetwork,
	}, nil
}

func (f *HTTPFetcher) clientFor(host string) *http.Client {
	proxyURL, ok := f.proxies[strings.ToLower(host)]
	if !ok {
		return f.client
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if client, ok := f.clients[host]; ok {
		return client
	}
	transport := http.Transport{}
	if base, ok := f.client.Transport.(*http.Transport); ok && base != nil {
		transport = *base.Clone()
	}
	transport.Proxy = http.ProxyURL(proxyURL)
	client := *f.client
	client.Transport = &transport
	f.clients[host] = &client
	return &client
}
