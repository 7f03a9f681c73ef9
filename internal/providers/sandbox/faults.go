package sandbox

import (
	"context"
	"sync"
	"time"

	"tiergate/internal/providers"
)

// Op names a sandbox operation for fault injection.
type Op string

const (
	OpCreateAccount    Op = "create_account"
	OpDeleteAccount    Op = "delete_account"
	OpCreateSubAccount Op = "create_sub_account"
)

// fault is consumed once per call until its count runs out. A hanging fault
// blocks until the caller's context is done.
type fault struct {
	category providers.Category
	hang     bool
	count    int
}

type faults struct {
	mu     sync.Mutex
	queued map[Op][]*fault
}

func (f *faults) add(op Op, ft *fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queued == nil {
		f.queued = make(map[Op][]*fault)
	}
	f.queued[op] = append(f.queued[op], ft)
}

func (f *faults) next(op Op) *fault {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queued[op]
	if len(q) == 0 {
		return nil
	}
	head := q[0]
	head.count--
	if head.count <= 0 {
		f.queued[op] = q[1:]
	}
	return head
}

// trigger applies the next queued fault for op, if any.
func (f *faults) trigger(ctx context.Context, provider string, op Op) error {
	ft := f.next(op)
	if ft == nil {
		return nil
	}
	if ft.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return providers.NewError(ft.category, provider, "injected "+string(ft.category), nil)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
