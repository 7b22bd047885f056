// Package notifytest — управляемый канал для тестов доставки.
package notifytest

import (
	"context"
	"sync"

	"signal_bot/internal/models"
)

// Fake — канал, ответы которого задаются сценарием.
type Fake struct {
	id string

	mu      sync.Mutex
	script  []error
	always  error
	calls   []models.Alert
	results []error
	healthy bool
	gate    chan struct{}
	started chan int64
}

func New(id string) *Fake {
	return &Fake{id: id, healthy: true, started: make(chan int64, 64)}
}

// FailWith — ответы на очередные вызовы Send, дальше успех.
func (f *Fake) FailWith(errs ...error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, errs...)
	return f
}

// AlwaysFail — каждый Send возвращает err.
func (f *Fake) AlwaysFail(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always = err
	return f
}

func (f *Fake) SetHealthy(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = ok
}

// Gate задерживает Send до вызова release (или до отмены ctx попытки).
func (f *Fake) Gate() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gate = g
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == g {
				f.gate = nil
			}
			f.mu.Unlock()
			close(g)
		})
	}
}

// Started отдаёт id алерта в момент начала каждого Send.
func (f *Fake) Started() <-chan int64 { return f.started }

func (f *Fake) Calls() []models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Alert(nil), f.calls...)
}

// Delivered — id алертов, на которых Send вернул успех.
func (f *Fake) Delivered() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for i, a := range f.calls {
		if f.results[i] == nil {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

func (f *Fake) ID() string { return f.id }

func (f *Fake) Send(ctx context.Context, a models.Alert) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.started <- a.ID:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.finish(a, ctx.Err())
			return ctx.Err()
		}
	}

	f.mu.Lock()
	var err error
	switch {
	case f.always != nil:
		err = f.always
	case len(f.script) > 0:
		err = f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()
	f.finish(a, err)
	return err
}

func (f *Fake) finish(a models.Alert, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, a)
	f.results = append(f.results, err)
}

func (f *Fake) TestConnection(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}
