package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thinkscotty/dispatch/internal/mission"
)

type fakeMission struct {
	calls   atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
	run     func(n int32) (mission.Report, error)
}

func (f *fakeMission) Run(ctx context.Context) (mission.Report, error) {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)
	return f.run(f.calls.Add(1))
}

func TestRun_RecoversAndKeepsGoing(t *testing.T) {
	m := &fakeMission{run: func(n int32) (mission.Report, error) {
		switch n {
		case 1:
			panic("boom")
		case 2:
			return mission.Report{Status: mission.StatusFailed}, errors.New("fetch failed")
		}
		time.Sleep(5 * time.Millisecond)
		return mission.Report{Status: mission.StatusPublished}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(m, 2*time.Millisecond).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.calls.Load() >= 4 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.False(t, m.overlap.Load())
}

func TestRun_RunsImmediately(t *testing.T) {
	m := &fakeMission{run: func(int32) (mission.Report, error) {
		return mission.Report{Status: mission.StatusDuplicate}, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go New(m, time.Hour).Run(ctx)

	assert.Eventually(t, func() bool { return m.calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	m := &fakeMission{run: func(int32) (mission.Report, error) {
		return mission.Report{}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	New(m, time.Millisecond).Run(ctx)
	assert.Equal(t, int32(0), m.calls.Load())
}
