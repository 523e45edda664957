package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/offline-hub/offline-hub/internal/logging"
	"github.com/offline-hub/offline-hub/internal/metrics"
)

var (
	// ErrUnbound 表示事件类型没有绑定 handler。
	ErrUnbound = errors.New("no handler bound for event kind")
	// ErrAlreadyBound 表示同一事件类型重复绑定。
	ErrAlreadyBound = errors.New("event kind already bound")
)

// Handler reacts to an event, registering awaited work via Event.WaitUntil.
type Handler interface {
	Handle(ctx context.Context, ev *Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev *Event)

// Handle makes HandlerFunc satisfy Handler.
func (f HandlerFunc) Handle(ctx context.Context, ev *Event) {
	f(ctx, ev)
}

// Dispatcher 保存 Kind → Handler 映射，绑定只发生在启动阶段。
type Dispatcher struct {
	logger  *logrus.Logger
	metrics *metrics.Collectors

	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *logrus.Logger, m *metrics.Collectors) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		metrics:  m,
		handlers: make(map[Kind]Handler, len(Kinds)),
	}
}

// Bind registers handler for kind. Each kind may be bound once.
func (d *Dispatcher) Bind(kind Kind, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for %s", kind)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[kind]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, kind)
	}
	d.handlers[kind] = handler
	return nil
}

// Bound reports whether kind has a handler.
func (d *Dispatcher) Bound(kind Kind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[kind]
	return ok
}

// Dispatch 同步调用 handler，随后并发等待其注册的全部任务，返回合并后的错误。
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) error {
	if ev == nil {
		return errors.New("nil event")
	}
	d.mu.RLock()
	handler, ok := d.handlers[ev.Kind]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnbound, ev.Kind)
	}
	d.metrics.ObserveEvent(string(ev.Kind))

	if err := d.invoke(ctx, handler, ev); err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, task := range ev.pending() {
		g.Go(func() error {
			if err := task(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		d.logger.WithFields(logging.EventFields(string(ev.Kind), ev.Tag)).WithError(err).Warn("event_task_failed")
	}
	return err
}

func (d *Dispatcher) invoke(ctx context.Context, handler Handler, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler panic: %v", ev.Kind, r)
			d.logger.WithFields(logging.EventFields(string(ev.Kind), ev.Tag)).Error(err.Error())
		}
	}()
	handler.Handle(ctx, ev)
	return nil
}
