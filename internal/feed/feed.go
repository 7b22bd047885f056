package feed

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal_bot/internal/models"
)

// Feed — источник закрытых свечей одного таймфрейма.
// io.EOF означает конец потока; любая другая ошибка временная.
type Feed interface {
	NextBar(ctx context.Context) (models.Bar, error)
}

// Func — адаптер для функций.
type Func func(ctx context.Context) (models.Bar, error)

func (f Func) NextBar(ctx context.Context) (models.Bar, error) { return f(ctx) }

const DefaultRetryDelay = time.Second

// Merge сливает фиды в один канал. Временные ошибки фида логируются, фид
// опрашивается снова через retryDelay; отвалившийся фид не останавливает
// остальные. Канал закрывается, когда все фиды закончились или отменён ctx.
func Merge(ctx context.Context, log *zap.Logger, retryDelay time.Duration, feeds ...Feed) <-chan models.Bar {
	if log == nil {
		log = zap.NewNop()
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	out := make(chan models.Bar)

	var wg sync.WaitGroup
	for i, f := range feeds {
		wg.Add(1)
		go func(idx int, f Feed) {
			defer wg.Done()
			for {
				b, err := f.NextBar(ctx)
				switch {
				case err == nil:
				case errors.Is(err, io.EOF):
					log.Debug("feed finished", zap.Int("feed", idx))
					return
				case ctx.Err() != nil:
					return
				default:
					log.Warn("feed error, retrying", zap.Int("feed", idx), zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(retryDelay):
					}
					continue
				}

				select {
				case out <- b:
				case <-ctx.Done():
					return
				}
			}
		}(i, f)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
