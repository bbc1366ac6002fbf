package reportsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"civic-reporting/pkg/models"
)

// ErrClosed is returned by view operations after Close.
var ErrClosed = errors.New("reportsync: view closed")

// live runs the lifecycle shared by every view. Each load is tagged with a
// token from a monotonic counter and applied only while that token is still
// the latest issued, so a slow reload can never overwrite a newer one.
//
// onChange is called with one snapshot at a time, in apply order. It must
// not call Close or LoadMore on the same view.
type live[T any] struct {
	name     string
	syncer   *Synchronizer
	ctx      context.Context
	cancel   context.CancelFunc
	load     func(ctx context.Context) (T, Source)
	onChange func(T)

	notifyMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	issued  uint64
	current T

	wg          sync.WaitGroup
	unsubscribe func()
	closeOnce   sync.Once
}

func newLive[T any](ctx context.Context, s *Synchronizer, name string, load func(context.Context) (T, Source), onChange func(T)) *live[T] {
	ctx, cancel := context.WithCancel(ctx)
	if onChange == nil {
		onChange = func(T) {}
	}
	return &live[T]{name: name, syncer: s, ctx: ctx, cancel: cancel, load: load, onChange: onChange}
}

// start runs the first load on the caller's goroutine, then subscribes to
// changes accepted by filter (all when nil) and starts the poll when
// interval is positive.
func (l *live[T]) start(filter func(models.ChangeEvent) bool, interval time.Duration) {
	l.mu.Lock()
	l.issued++
	token := l.issued
	l.mu.Unlock()

	v, src := l.load(l.ctx)
	l.commit(token, src, func(T) T { return v })

	l.unsubscribe = l.syncer.subscribe(func(e models.ChangeEvent) {
		if filter == nil || filter(e) {
			l.reload()
		}
	})

	if interval > 0 {
		l.mu.Lock()
		l.wg.Add(1)
		l.mu.Unlock()
		go l.poll(interval)
	}
}

func (l *live[T]) poll(interval time.Duration) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.reload()
		}
	}
}

// reload issues a new token and loads from scratch in the background.
func (l *live[T]) reload() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.issued++
	token := l.issued
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		v, src := l.load(l.ctx)
		l.commit(token, src, func(T) T { return v })
	}()
}

// enter registers an in-flight caller operation and returns the latest
// token with the current value. The caller must call l.wg.Done when ok.
func (l *live[T]) enter() (token uint64, current T, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, current, false
	}
	l.wg.Add(1)
	return l.issued, l.current, true
}

// commit applies fn to the current value and notifies, unless the view is
// closed or token has been superseded.
func (l *live[T]) commit(token uint64, src Source, fn func(T) T) bool {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	if token != l.issued {
		l.mu.Unlock()
		l.syncer.metrics.discarded(l.name)
		return false
	}
	l.current = fn(l.current)
	snapshot := l.current
	l.mu.Unlock()

	l.syncer.metrics.loaded(l.name, src)
	l.onChange(snapshot)
	return true
}

// Snapshot returns the latest applied value.
func (l *live[T]) Snapshot() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Close unsubscribes, stops polling and cancels in-flight loads. No
// snapshot is delivered after Close returns.
func (l *live[T]) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()

		l.cancel()
		if l.unsubscribe != nil {
			l.unsubscribe()
		}
		l.wg.Wait()
	})
}
