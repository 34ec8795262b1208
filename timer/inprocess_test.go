package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type firedTimers struct {
	mu    sync.Mutex
	fired []Timer
}

func (f *firedTimers) handler(ctx context.Context, t Timer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fired = append(f.fired, t)
}

func (f *firedTimers) all() []Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Timer(nil), f.fired...)
}

func Test_InProcess_FiresAtDeadline(t *testing.T) {
	mc := clock.NewMock()
	fired := &firedTimers{}

	s := NewInProcessService(mc, fired.handler)
	defer s.Close()

	deadline := mc.Now().Add(time.Hour)

	err := s.Schedule(context.Background(), Timer{RunID: "run-1", StepIndex: 0, Kind: KindTimeout, FireAt: deadline})
	require.NoError(t, err)

	mc.Add(59 * time.Minute)
	require.Empty(t, fired.all())

	mc.Add(time.Minute)

	all := fired.all()
	require.Len(t, all, 1)
	require.Equal(t, "run-1", all[0].RunID)
	require.Equal(t, KindTimeout, all[0].Kind)
}

func Test_InProcess_Cancel(t *testing.T) {
	mc := clock.NewMock()
	fired := &firedTimers{}

	s := NewInProcessService(mc, fired.handler)
	defer s.Close()

	err := s.Schedule(context.Background(), Timer{RunID: "run-1", StepIndex: 0, Kind: KindTimeout, FireAt: mc.Now().Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background(), "run-1", 0, KindTimeout))

	mc.Add(2 * time.Hour)
	require.Empty(t, fired.all())
}

func Test_InProcess_RescheduleReplaces(t *testing.T) {
	mc := clock.NewMock()
	fired := &firedTimers{}

	s := NewInProcessService(mc, fired.handler)
	defer s.Close()

	tm := Timer{RunID: "run-1", StepIndex: 0, Kind: KindTimeout, FireAt: mc.Now().Add(time.Hour)}
	require.NoError(t, s.Schedule(context.Background(), tm))

	tm.FireAt = mc.Now().Add(3 * time.Hour)
	require.NoError(t, s.Schedule(context.Background(), tm))

	mc.Add(2 * time.Hour)
	require.Empty(t, fired.all())

	mc.Add(time.Hour)
	require.Len(t, fired.all(), 1)
}

func Test_InProcess_PastDeadlineFiresImmediately(t *testing.T) {
	mc := clock.NewMock()
	fired := &firedTimers{}

	s := NewInProcessService(mc, fired.handler)
	defer s.Close()

	require.NoError(t, s.Schedule(context.Background(), Timer{
		RunID:  "run-1",
		Kind:   KindReminder,
		FireAt: mc.Now().Add(-time.Minute),
	}))

	mc.Add(0)
	require.Len(t, fired.all(), 1)
}

func Test_InProcess_SeparateKinds(t *testing.T) {
	mc := clock.NewMock()
	fired := &firedTimers{}

	s := NewInProcessService(mc, fired.handler)
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, Timer{RunID: "run-1", StepIndex: 0, Kind: KindReminder, FireAt: mc.Now().Add(time.Hour)}))
	require.NoError(t, s.Schedule(ctx, Timer{RunID: "run-1", StepIndex: 0, Kind: KindTimeout, FireAt: mc.Now().Add(2 * time.Hour)}))

	mc.Add(time.Hour)
	require.Len(t, fired.all(), 1)
	require.Equal(t, KindReminder, fired.all()[0].Kind)

	mc.Add(time.Hour)
	require.Len(t, fired.all(), 2)
	require.Equal(t, KindTimeout, fired.all()[1].Kind)
}

func Test_Timer_Key(t *testing.T) {
	tm := Timer{RunID: "abc", StepIndex: 2, Kind: KindReminder}
	require.Equal(t, "abc:2:reminder", tm.Key())
}
