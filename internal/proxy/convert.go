package proxy

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/offline-hub/offline-hub/internal/fetch"
	"github.com/offline-hub/offline-hub/internal/server"
)

// buildRequest 把 Fiber 请求快照为 fetch.Request，URL 为映射后的上游绝对地址。
func buildRequest(c fiber.Ctx, route *server.OriginRoute) *fetch.Request {
	uri := c.Request().URI()
	upstream := route.UpstreamFor(string(uri.Path()), string(uri.QueryString()))

	header := http.Header{}
	fetch.CopyHeaders(header, fiberHeadersAsHTTP(c))
	header.Del("Host")
	header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	header.Set("X-Forwarded-Proto", c.Protocol())

	return &fetch.Request{
		Method: strings.ToUpper(c.Method()),
		URL:    upstream,
		Header: header,
		Body:   append([]byte(nil), c.Body()...),
	}
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// writeResponse 写回状态码、透传头与正文，并附带策略/来源诊断头。
func writeResponse(c fiber.Ctx, resp *fetch.Response, used, requestID string) error {
	for key, values := range resp.Header {
		if fetch.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Append(key, value)
		}
	}
	c.Set("X-Offline-Hub-Strategy", used)
	if resp.Source != "" {
		c.Set("X-Offline-Hub-Source", string(resp.Source))
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)
	if len(resp.Body) == 0 {
		c.Response().ResetBody()
		return nil
	}
	return c.Send(resp.Body)
}
