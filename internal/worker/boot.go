package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/lifecycle"
)

const maxBackoff = 30 * time.Second

// BootOptions 控制安装重试。
type BootOptions struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// Boot 派发 install 事件（失败时按指数退避重试），随后派发 activate；
// 若安装始终失败则尝试从已持久化的静态命名空间恢复。
func Boot(ctx context.Context, d *Dispatcher, lc *lifecycle.Manager, opts BootOptions) error {
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var installErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		installErr = d.Dispatch(ctx, NewEvent(KindInstall))
		if installErr == nil {
			break
		}
		if attempt == opts.MaxRetries {
			break
		}
		d.logger.WithFields(logrus.Fields{
			"action":     "boot",
			"attempt":    attempt + 1,
			"next_retry": backoff.String(),
		}).WithError(installErr).Warn("install_retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	if installErr != nil {
		if err := lc.Resume(ctx); err != nil {
			return errors.Join(installErr, err)
		}
		return nil
	}

	if lc.Deferred() {
		d.logger.WithField("action", "boot").Info("installed version waiting for SKIP_WAITING")
		return nil
	}
	return d.Dispatch(ctx, NewEvent(KindActivate))
}
