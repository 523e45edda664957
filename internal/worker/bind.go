package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/config"
	"github.com/offline-hub/offline-hub/internal/lifecycle"
	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/notify"
	"github.com/offline-hub/offline-hub/internal/reconcile"
)

// Message types accepted on the message channel.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageCacheClear  = "CACHE_CLEAR"
)

// Runtime 汇总事件 handler 需要的组件。
type Runtime struct {
	App        config.AppConfig
	Lifecycle  *lifecycle.Manager
	Reconciler *reconcile.Worker
	Notifier   notify.Notifier
	Opener     notify.Opener
	Logger     *logrus.Logger
	Now        func() time.Time
}

// Bind 为全部事件类型注册 handler。
func Bind(d *Dispatcher, rt Runtime) error {
	if rt.Lifecycle == nil || rt.Reconciler == nil || rt.Logger == nil {
		return errors.New("lifecycle, reconciler and logger are required")
	}
	if rt.Notifier == nil {
		rt.Notifier = notify.LogNotifier{Logger: rt.Logger}
	}
	if rt.Opener == nil {
		rt.Opener = notify.LogOpener{Logger: rt.Logger}
	}
	if rt.Now == nil {
		rt.Now = time.Now
	}

	handlers := map[Kind]HandlerFunc{
		KindInstall: func(_ context.Context, ev *Event) {
			ev.WaitUntil(rt.Lifecycle.Install)
		},
		KindActivate: func(_ context.Context, ev *Event) {
			ev.WaitUntil(rt.Lifecycle.Activate)
		},
		KindSync:              syncHandler(rt, rt.App.SyncTag),
		KindPeriodicSync:      syncHandler(rt, rt.App.PeriodicSyncTag),
		KindMessage:           messageHandler(rt),
		KindPush:              pushHandler(rt),
		KindNotificationClick: clickHandler(rt),
		KindError: func(_ context.Context, ev *Event) {
			entry := rt.Logger.WithFields(logging.EventFields(string(ev.Kind), ev.Tag))
			if ev.Err != nil {
				entry = entry.WithError(ev.Err)
			}
			entry.Error("worker_error")
		},
	}
	for _, kind := range Kinds {
		if err := d.Bind(kind, handlers[kind]); err != nil {
			return err
		}
	}
	return nil
}

func syncHandler(rt Runtime, tag string) HandlerFunc {
	return func(_ context.Context, ev *Event) {
		if ev.Tag != tag {
			return
		}
		ev.WaitUntil(func(ctx context.Context) error {
			rt.Reconciler.Run(ctx)
			return nil
		})
	}
}

type message struct {
	Type string `json:"type"`
}

// messageHandler 只识别 SKIP_WAITING 与 CACHE_CLEAR，其余类型忽略。
func messageHandler(rt Runtime) HandlerFunc {
	return func(_ context.Context, ev *Event) {
		var msg message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			rt.Logger.WithFields(logging.EventFields(string(ev.Kind), "")).WithError(err).Warn("message_ignored")
			return
		}
		switch msg.Type {
		case MessageSkipWaiting:
			ev.WaitUntil(rt.Lifecycle.SkipWaiting)
		case MessageCacheClear:
			ev.WaitUntil(rt.Lifecycle.Clear)
		default:
			rt.Logger.WithFields(logging.EventFields(string(ev.Kind), msg.Type)).Debug("message_ignored")
		}
	}
}

func pushHandler(rt Runtime) HandlerFunc {
	return func(_ context.Context, ev *Event) {
		n, err := notify.ParsePush(ev.Data, rt.Now())
		if err != nil {
			rt.Logger.WithFields(logging.EventFields(string(ev.Kind), "")).WithError(err).Warn("push_payload_invalid")
			n, _ = notify.ParsePush(nil, rt.Now())
		}
		ev.WaitUntil(func(ctx context.Context) error {
			return rt.Notifier.Show(ctx, n)
		})
	}
}

func clickHandler(rt Runtime) HandlerFunc {
	return func(_ context.Context, ev *Event) {
		ev.WaitUntil(func(ctx context.Context) error {
			_, err := notify.Click(ctx, rt.Opener, ev.Action)
			return err
		})
	}
}
