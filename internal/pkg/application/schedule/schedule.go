package schedule

import (
	"context"
	"sync"
	"time"
)

// Task runs a function immediately and then once every interval until it is
// stopped or its context is cancelled. Runs never overlap.
type Task struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func Start(ctx context.Context, interval time.Duration, fn func(context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)

	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go t.run(ctx, interval, fn)

	return t
}

func (t *Task) run(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer close(t.done)

	fn(ctx)

	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}

// Stop cancels the task and blocks until the running function, if any, has
// returned. Calling Stop more than once is safe.
func (t *Task) Stop() {
	t.stopOnce.Do(t.cancel)
	<-t.done
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
