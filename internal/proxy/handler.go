// Package proxy bridges Fiber requests to the routing dispatcher: it snapshots
// the incoming request, passes it straight through until the lifecycle takes
// control, and writes the strategy's response back with diagnostic headers.
package proxy

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/fetch"
	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/routing"
	"github.com/offline-hub/offline-hub/internal/server"
	"github.com/offline-hub/offline-hub/internal/strategy"
)

const strategyPassthrough = "passthrough"

// Controller 由 lifecycle.Manager 实现：激活前请求直接回源。
// 与激活/清理的互斥由策略层在缓存读写处处理，这里不持有任何锁。
type Controller interface {
	Controlling() bool
}

// Handler 实现 server.ProxyHandler。
type Handler struct {
	dispatcher *routing.Dispatcher
	controller Controller
	fetcher    fetch.Fetcher
	logger     *logrus.Logger
}

// NewHandler constructs a proxy handler. fetcher serves uncontrolled requests.
func NewHandler(dispatcher *routing.Dispatcher, controller Controller, fetcher fetch.Fetcher, logger *logrus.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		controller: controller,
		fetcher:    fetcher,
		logger:     logger,
	}
}

// Handle 执行分类与策略调度，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	req := buildRequest(c, route)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	used, resp, err := h.serve(ctx, req)

	h.logResult(route, req, used, resp, requestID, started, err)
	if err != nil {
		if errors.Is(err, strategy.ErrInvalidForm) {
			return h.writeError(c, requestID, fiber.StatusBadRequest, "invalid_form")
		}
		return h.writeError(c, requestID, fiber.StatusBadGateway, "network_failed")
	}
	return writeResponse(c, resp, used, requestID)
}

func (h *Handler) serve(ctx context.Context, req *fetch.Request) (string, *fetch.Response, error) {
	if !h.controller.Controlling() {
		resp, err := h.fetcher.Fetch(ctx, req)
		return strategyPassthrough, resp, err
	}
	used, resp, err := h.dispatcher.Serve(ctx, req)
	return string(used), resp, err
}

func (h *Handler) writeError(c fiber.Ctx, requestID string, status int, code string) error {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.OriginRoute,
	req *fetch.Request,
	used string,
	resp *fetch.Response,
	requestID string,
	started time.Time,
	err error,
) {
	source := ""
	status := 0
	if resp != nil {
		source = string(resp.Source)
		status = resp.Status
	}
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		used,
		source,
		source == string(fetch.SourceCache) || source == string(fetch.SourceShell),
	)
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["upstream"] = req.Key()
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}
