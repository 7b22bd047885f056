package history

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"signal_bot/internal/models"
)

type entry struct {
	mu       sync.Mutex
	alert    models.Alert
	attempts []models.DeliveryAttempt
}

func (e *entry) snapshot() models.HistoryRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.HistoryRecord{
		Alert:    e.alert.Clone(),
		Attempts: append([]models.DeliveryAttempt(nil), e.attempts...),
	}
}

// Memory — журнал в памяти процесса. Общий RWMutex держится только на время
// поиска записи, попытки пишутся под замком своей записи, поэтому доставки
// разных алертов друг друга не ждут.
type Memory struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	order   []int64
	lastID  int64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[int64]*entry)}
}

func (m *Memory) AppendAlert(ctx context.Context, a models.Alert) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("memory.AppendAlert: %w", err)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[a.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrDuplicate, a.ID)
	}
	m.entries[a.ID] = &entry{alert: a.Clone()}
	m.order = append(m.order, a.ID)
	if a.ID > m.lastID {
		m.lastID = a.ID
	}
	return nil
}

func (m *Memory) AppendAttempt(ctx context.Context, at models.DeliveryAttempt) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("memory.AppendAttempt: %w", err)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	e, ok := m.entries[at.AlertID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: alert %d", ErrNotFound, at.AlertID)
	}

	e.mu.Lock()
	e.attempts = append(e.attempts, at)
	e.mu.Unlock()
	return nil
}

func (m *Memory) Query(ctx context.Context, f models.Filter) ([]models.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.HistoryRecord
	for _, e := range m.matching(f) {
		out = append(out, e.snapshot())
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (m *Memory) Get(ctx context.Context, id int64) (models.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.HistoryRecord{}, err
	}
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return models.HistoryRecord{}, fmt.Errorf("memory.Get: %w: alert %d", ErrNotFound, id)
	}
	return e.snapshot(), nil
}

func (m *Memory) Counts(ctx context.Context, f models.Filter) (map[models.AlertKind]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.Limit = 0
	counts := map[models.AlertKind]int{}
	for _, e := range m.matching(f) {
		// алерт неизменяем после записи, замок записи не нужен
		counts[e.alert.Kind]++
	}
	return counts, nil
}

func (m *Memory) LastAlertID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastID, nil
}

func (m *Memory) matching(f models.Filter) []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		e := m.entries[id]
		if f.Match(e.alert) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].alert.ID < out[j].alert.ID })
	return out
}
