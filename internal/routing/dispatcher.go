package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/offline-hub/offline-hub/internal/fetch"
	"github.com/offline-hub/offline-hub/internal/metrics"
)

// Handler answers a classified request.
type Handler interface {
	Serve(ctx context.Context, req *fetch.Request) (*fetch.Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *fetch.Request) (*fetch.Response, error)

// Serve makes HandlerFunc satisfy Handler.
func (f HandlerFunc) Serve(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	return f(ctx, req)
}

var (
	// ErrHandlerMissing 表示策略表中没有对应的 handler。
	ErrHandlerMissing = errors.New("strategy handler missing")
	// ErrHandlerPanic 表示 handler 执行期间 panic，已被恢复。
	ErrHandlerPanic = errors.New("strategy handler panic")
)

// Dispatcher 根据 Policy 的分类结果从显式的策略表中选择 handler。
type Dispatcher struct {
	policy   Policy
	handlers map[Strategy]Handler
	logger   *logrus.Logger
	metrics  *metrics.Collectors
}

// NewDispatcher 创建 Dispatcher；handlers 必须覆盖全部策略。
func NewDispatcher(policy Policy, handlers map[Strategy]Handler, logger *logrus.Logger, m *metrics.Collectors) (*Dispatcher, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	table := make(map[Strategy]Handler, len(handlers))
	for _, strategy := range Strategies {
		handler, ok := handlers[strategy]
		if !ok || handler == nil {
			return nil, fmt.Errorf("%w: %s", ErrHandlerMissing, strategy)
		}
		table[strategy] = handler
	}
	return &Dispatcher{
		policy:   policy,
		handlers: table,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Policy returns the classification policy in use.
func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// Serve 分类并调用对应 handler，返回所用策略；handler panic 会被转换为 ErrHandlerPanic。
func (d *Dispatcher) Serve(ctx context.Context, req *fetch.Request) (Strategy, *fetch.Response, error) {
	strategy := d.policy.Classify(req)
	handler := d.handlers[strategy]
	if handler == nil {
		d.logStrategyError(req, strategy, ErrHandlerMissing)
		return strategy, nil, ErrHandlerMissing
	}

	resp, err := d.invoke(ctx, handler, req, strategy)
	source := ""
	if resp != nil {
		source = string(resp.Source)
	}
	d.metrics.ObserveRequest(string(strategy), source, err)
	return strategy, resp, err
}

func (d *Dispatcher) invoke(ctx context.Context, handler Handler, req *fetch.Request, strategy Strategy) (resp *fetch.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			resp = nil
			d.logStrategyError(req, strategy, err)
		}
	}()
	return handler.Serve(ctx, req)
}

func (d *Dispatcher) logStrategyError(req *fetch.Request, strategy Strategy, err error) {
	fields := logrus.Fields{
		"action":   "dispatch",
		"strategy": string(strategy),
		"url":      req.Key(),
	}
	d.logger.WithFields(fields).Error(err.Error())
}
