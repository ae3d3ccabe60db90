// Package poll реализует отменяемую периодическую задачу.
package poll

import (
	"context"
	"sync"
	"time"
)

// Task запускает функцию с фиксированным интервалом. Одновременно активен не более одного запуска:
// Start сначала останавливает предыдущий. После возврата из Stop функция больше не вызывается.
// Сама функция не должна вызывать Start или Stop той же задачи.
type Task struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start останавливает текущий запуск и начинает новый. Если immediate, первый вызов выполняется сразу.
func (t *Task) Start(parent context.Context, interval time.Duration, immediate bool, fn func(ctx context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go run(ctx, done, interval, immediate, fn)
}

// Stop отменяет текущий запуск и дожидается его завершения. Повторный вызов безопасен.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
}

// Running сообщает, выполняется ли задача.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *Task) stopLocked() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
}

func run(ctx context.Context, done chan struct{}, interval time.Duration, immediate bool, fn func(ctx context.Context)) {
	defer close(done)

	if immediate && ctx.Err() == nil {
		fn(ctx)
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
