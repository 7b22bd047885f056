package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrInstanceRunning  = errors.New("runner: instance already running")
	ErrInstanceNotFound = errors.New("runner: instance not running")
)

// Manager управляет инстансами стратегий. Инстансы независимы: общего
// изменяемого состояния у них нет, кроме диспетчера и нумерации алертов.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*Instance
}

func NewManager() *Manager {
	return &Manager{
		instances: make(map[string]*Instance),
	}
}

// Start запускает инстанс, если инстанс с тем же именем ещё не работает.
// Остановленный по ошибке инстанс можно заменить новым.
func (m *Manager) Start(ctx context.Context, inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.instances[inst.Name()]; ok {
		select {
		case <-cur.Done():
		default:
			return fmt.Errorf("%w: %s", ErrInstanceRunning, inst.Name())
		}
	}
	m.instances[inst.Name()] = inst
	inst.Start(ctx)
	return nil
}

// Stop останавливает инстанс. Статус остаётся доступен до следующего Start.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	inst, ok := m.instances[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, name)
	}

	// гасим вне мьютекса
	inst.Stop()
	return nil
}

func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		all = append(all, inst)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range all {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			inst.Stop()
		}(inst)
	}
	wg.Wait()
}

// Statuses — по имени стратегии.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst.Status())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}

// Running — сколько инстансов сейчас работают.
func (m *Manager) Running() int {
	n := 0
	for _, st := range m.Statuses() {
		if st.Running {
			n++
		}
	}
	return n
}
