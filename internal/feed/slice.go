package feed

import (
	"context"
	"io"
	"sync"

	"signal_bot/internal/models"
)

// Slice проигрывает заранее известные свечи (реплей истории, тесты).
type Slice struct {
	mu   sync.Mutex
	bars []models.Bar
	pos  int
}

func NewSlice(bars ...models.Bar) *Slice {
	return &Slice{bars: append([]models.Bar(nil), bars...)}
}

func (s *Slice) NextBar(ctx context.Context) (models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return models.Bar{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.bars) {
		return models.Bar{}, io.EOF
	}
	b := s.bars[s.pos]
	s.pos++
	return b, nil
}
