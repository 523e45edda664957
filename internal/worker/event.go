// Package worker dispatches lifecycle, sync, message, push and notification
// events to the handlers bound for their kind. The kind → handler table is
// built once at process start.
package worker

import (
	"context"
	"sync"
)

// Kind identifies an event type.
type Kind string

const (
	KindInstall           Kind = "install"
	KindActivate          Kind = "activate"
	KindSync              Kind = "sync"
	KindPeriodicSync      Kind = "periodicsync"
	KindMessage           Kind = "message"
	KindPush              Kind = "push"
	KindNotificationClick Kind = "notificationclick"
	KindError             Kind = "error"
)

// Kinds lists every event kind a complete binding must cover.
var Kinds = []Kind{
	KindInstall,
	KindActivate,
	KindSync,
	KindPeriodicSync,
	KindMessage,
	KindPush,
	KindNotificationClick,
	KindError,
}

// Task is work an event handler registers to be awaited.
type Task func(ctx context.Context) error

// Event 携带事件数据与显式的待等待任务列表，Dispatch 在全部任务完成后才返回。
type Event struct {
	Kind Kind
	// Tag 用于 sync/periodicsync 事件。
	Tag string
	// Data 为 message/push 事件的原始负载。
	Data []byte
	// Action 为 notificationclick 事件选择的按钮。
	Action string
	// Err 为 error 事件携带的错误。
	Err error

	mu    sync.Mutex
	tasks []Task
}

// NewEvent creates an event of the given kind.
func NewEvent(kind Kind) *Event {
	return &Event{Kind: kind}
}

// WaitUntil extends the event's lifetime until task returns.
func (e *Event) WaitUntil(task Task) {
	if task == nil {
		return
	}
	e.mu.Lock()
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()
}

func (e *Event) pending() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	tasks := e.tasks
	e.tasks = nil
	return tasks
}
