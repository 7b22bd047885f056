package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bot/internal/feed"
	"signal_bot/internal/models"
)

func newIdle(t *testing.T, name string) *Instance {
	t.Helper()
	cfg := testStrategy()
	cfg.Name = name
	inst, err := NewInstance(cfg, []feed.Feed{blocking()}, newSink(), nil, Options{Sequence: models.NewSequence(0)})
	require.NoError(t, err)
	return inst
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	a := newIdle(t, "a")
	require.NoError(t, m.Start(ctx, a))
	assert.ErrorIs(t, m.Start(ctx, newIdle(t, "a")), ErrInstanceRunning)
	require.NoError(t, m.Start(ctx, newIdle(t, "b")))
	assert.Equal(t, 2, m.Running())

	st := m.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "a", st[0].Strategy)
	assert.Equal(t, "b", st[1].Strategy)

	require.NoError(t, m.Stop("a"))
	assert.Equal(t, 1, m.Running())
	assert.ErrorIs(t, m.Stop("nope"), ErrInstanceNotFound)

	// остановленный можно заменить
	require.NoError(t, m.Start(ctx, newIdle(t, "a")))
	assert.Equal(t, 2, m.Running())

	done := make(chan struct{})
	go func() {
		m.StopAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopAll hangs")
	}
	assert.Equal(t, 0, m.Running())
}

func TestManagerReplacesHaltedInstance(t *testing.T) {
	m := NewManager()
	cfg := testStrategy()
	finished, err := NewInstance(cfg, []feed.Feed{feed.NewSlice()}, newSink(), nil, Options{})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), finished))
	<-finished.Done()

	next, err := NewInstance(cfg, []feed.Feed{blocking()}, newSink(), nil, Options{})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), next))
	defer m.StopAll()

	assert.Equal(t, 1, m.Running())
}
