package routes

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/lifecycle"
	"github.com/offline-hub/offline-hub/internal/metrics"
	"github.com/offline-hub/offline-hub/internal/server"
	"github.com/offline-hub/offline-hub/internal/strategy"
	"github.com/offline-hub/offline-hub/internal/worker"
)

// SharedDataReader 由 strategy.Engine 实现。
type SharedDataReader interface {
	ReadSharedData(ctx context.Context) (*strategy.SharedData, error)
}

// ControlOptions 汇总 /-/ 控制面所需的组件。
type ControlOptions struct {
	Events    *worker.Dispatcher
	Lifecycle *lifecycle.Manager
	Store     cache.Store
	Shared    SharedDataReader
	Registry  *server.OriginRegistry
	Metrics   *metrics.Collectors
	SyncTag   string
	// PeriodicSyncTag 用于 periodic=true 的 /-/sync 请求。
	PeriodicSyncTag string
}

// RegisterControlRoutes 暴露消息、同步、推送与诊断接口，所有路径均位于 /-/ 下且不做 Host 映射。
func RegisterControlRoutes(app *fiber.App, opts ControlOptions) {
	if app == nil || opts.Events == nil || opts.Lifecycle == nil {
		return
	}

	app.Post("/-/message", func(c fiber.Ctx) error {
		ev := worker.NewEvent(worker.KindMessage)
		ev.Data = append([]byte(nil), c.Body()...)
		return dispatch(c, opts.Events, ev)
	})

	app.Post("/-/sync", func(c fiber.Ctx) error {
		var payload syncPayload
		if len(c.Body()) > 0 {
			if err := json.Unmarshal(c.Body(), &payload); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
			}
		}
		ev := worker.NewEvent(worker.KindSync)
		ev.Tag = opts.SyncTag
		if payload.Periodic {
			ev = worker.NewEvent(worker.KindPeriodicSync)
			ev.Tag = opts.PeriodicSyncTag
		}
		if tag := strings.TrimSpace(payload.Tag); tag != "" {
			ev.Tag = tag
		}
		return dispatch(c, opts.Events, ev)
	})

	app.Post("/-/push", func(c fiber.Ctx) error {
		ev := worker.NewEvent(worker.KindPush)
		ev.Data = append([]byte(nil), c.Body()...)
		return dispatch(c, opts.Events, ev)
	})

	app.Post("/-/notificationclick", func(c fiber.Ctx) error {
		var payload clickPayload
		if len(c.Body()) > 0 {
			if err := json.Unmarshal(c.Body(), &payload); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
			}
		}
		ev := worker.NewEvent(worker.KindNotificationClick)
		ev.Action = payload.Action
		return dispatch(c, opts.Events, ev)
	})

	app.Get("/-/lifecycle", func(c fiber.Ctx) error {
		return c.JSON(opts.Lifecycle.Snapshot())
	})

	app.Get("/-/namespaces", func(c fiber.Ctx) error {
		if opts.Store == nil {
			return c.JSON(fiber.Map{"namespaces": []namespacePayload{}})
		}
		encoded, err := encodeNamespaces(c.Context(), opts.Store)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_unavailable"})
		}
		return c.JSON(fiber.Map{"namespaces": encoded})
	})

	app.Get("/-/origins", func(c fiber.Ctx) error {
		if opts.Registry == nil {
			return c.JSON(fiber.Map{"origins": []originPayload{}})
		}
		return c.JSON(fiber.Map{"origins": encodeOrigins(opts.Registry.List())})
	})

	app.Get("/-/shared-data", func(c fiber.Ctx) error {
		if opts.Shared == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "shared_data_missing"})
		}
		record, err := opts.Shared.ReadSharedData(c.Context())
		switch {
		case errors.Is(err, cache.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "shared_data_missing"})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_unavailable"})
		}
		return c.JSON(record)
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
}

type syncPayload struct {
	Tag      string `json:"tag"`
	Periodic bool   `json:"periodic"`
}

type clickPayload struct {
	Action string `json:"action"`
}

type namespacePayload struct {
	Name string `json:"name"`
	Keys int    `json:"keys"`
}

type originPayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Upstream string `json:"upstream"`
	Port     int    `json:"port"`
	Proxied  bool   `json:"proxied"`
}

func dispatch(c fiber.Ctx, events *worker.Dispatcher, ev *worker.Event) error {
	if err := events.Dispatch(c.Context(), ev); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "event_failed",
			"kind":    string(ev.Kind),
			"message": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"dispatched": string(ev.Kind), "tag": ev.Tag})
}

func encodeNamespaces(ctx context.Context, store cache.Store) ([]namespacePayload, error) {
	names, err := store.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]namespacePayload, 0, len(names))
	for _, name := range names {
		keys, err := store.Keys(ctx, name)
		if err != nil {
			return nil, err
		}
		result = append(result, namespacePayload{Name: name, Keys: len(keys)})
	}
	return result, nil
}

func encodeOrigins(routes []server.OriginRoute) []originPayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]originPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, originPayload{
			Name:     route.Config.Name,
			Domain:   route.Config.Domain,
			Upstream: route.UpstreamURL.String(),
			Port:     route.ListenPort,
			Proxied:  route.ProxyURL != nil,
		})
	}
	return result
}
