package reconcile

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/offline-hub/offline-hub/internal/fetch"
)

// Every calls fn on each tick until ctx is cancelled. A non-positive interval
// disables the schedule.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 || fn == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Probe 定期探测应用源站可达性，在“离线 → 在线”转变时触发 OnOnline。
type Probe struct {
	Target   string
	Fetcher  fetch.Fetcher
	Interval time.Duration
	OnOnline func(context.Context)

	mu      sync.Mutex
	offline bool
}

// Check 执行一次探测，返回本次是否发生了离线到在线的转变。
func (p *Probe) Check(ctx context.Context) bool {
	req, err := fetch.NewRequest(http.MethodHead, p.Target)
	if err != nil {
		return false
	}
	_, err = p.Fetcher.Fetch(ctx, req)
	reachable := err == nil

	p.mu.Lock()
	recovered := p.offline && reachable
	p.offline = !reachable
	p.mu.Unlock()

	if recovered && p.OnOnline != nil {
		p.OnOnline(ctx)
	}
	return recovered
}

// Online reports the last observed connectivity.
func (p *Probe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.offline
}

// Run probes on every interval until ctx is cancelled.
func (p *Probe) Run(ctx context.Context) {
	Every(ctx, p.Interval, func(ctx context.Context) {
		p.Check(ctx)
	})
}
