package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (p *fakePurger) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return p.deleted, p.err
}

func (p *fakePurger) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestRunOnce_Cutoff(t *testing.T) {
	purger := &fakePurger{deleted: 12}
	j := NewJanitor(purger, 30, time.Hour, zap.NewNop())
	j.now = func() time.Time { return time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC) }

	deleted, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), deleted)
	require.Len(t, purger.cutoffs, 1)
	assert.Equal(t, time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC), purger.cutoffs[0])
}

func TestRunOnce_Error(t *testing.T) {
	purger := &fakePurger{err: errors.New("database is locked")}
	j := NewJanitor(purger, 30, time.Hour, zap.NewNop())

	_, err := j.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestJanitor_PurgesOnStartAndEveryInterval(t *testing.T) {
	purger := &fakePurger{}
	j := NewJanitor(purger, 1, 10*time.Millisecond, zap.NewNop())

	j.Start()
	j.Start()
	assert.Eventually(t, func() bool { return purger.calls() >= 3 }, 2*time.Second, 5*time.Millisecond)
	j.Stop()
	j.Stop()

	calls := purger.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, purger.calls())
}

func TestJanitor_ErrorsDoNotStopLoop(t *testing.T) {
	purger := &fakePurger{err: errors.New("boom")}
	j := NewJanitor(purger, 1, 5*time.Millisecond, zap.NewNop())

	j.Start()
	assert.Eventually(t, func() bool { return purger.calls() >= 2 }, 2*time.Second, 5*time.Millisecond)
	j.Stop()
}

func TestJanitor_Disabled(t *testing.T) {
	purger := &fakePurger{}
	j := NewJanitor(purger, 0, time.Millisecond, zap.NewNop())

	assert.False(t, j.Enabled())
	j.Start()
	time.Sleep(10 * time.Millisecond)
	j.Stop()
	assert.Equal(t, 0, purger.calls())
}
