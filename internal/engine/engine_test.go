//go:build linux

package engine

import (
	"context"
	"testing"

	"github.com/fichtner/apinger/internal/apitime"
	"github.com/fichtner/apinger/internal/config"
	"github.com/fichtner/apinger/internal/notify"
	"github.com/fichtner/apinger/internal/status"
	"github.com/fichtner/apinger/internal/target"
	"github.com/fichtner/apinger/internal/tsdb"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsToTimeval(t *testing.T) {
	assert.Equal(t, apitime.Timeval{Sec: 1, Usec: 500_000}, msToTimeval(1500))
	assert.Equal(t, apitime.Timeval{Sec: 0, Usec: 0}, msToTimeval(0))
}

func TestPollTimeoutMs(t *testing.T) {
	now := apitime.Timeval{Sec: 10}
	assert.Equal(t, 0, pollTimeoutMs(now, now))
	assert.Equal(t, 0, pollTimeoutMs(apitime.Timeval{Sec: 9}, now))
	assert.Equal(t, 500, pollTimeoutMs(apitime.Timeval{Sec: 10, Usec: 500_000}, now))
}

func newTestEngine(t *testing.T) (*Engine, *target.Registry) {
	t.Helper()
	reg := target.NewRegistry(nil)
	mgr := notify.NewManager(notify.NewDispatcher(nil, config.DefaultTimestampFormat))
	clk := apitime.NewClock(clockwork.NewFakeClock())
	e := New(Config{
		Clock:    clk,
		Registry: reg,
		Notify:   mgr,
		Status:   status.New(""),
		TSDB:     tsdb.NewNoop(),
	})
	return e, reg
}

func TestNextWakeupPicksEarliestDownDeadline(t *testing.T) {
	e, _ := newTestEngine(t)

	now := apitime.Timeval{Sec: 100}
	tc := config.TargetConfig{Name: "1.2.3.4", AvgDelaySamples: 3, AvgLossDelaySamples: 2, AvgLossSamples: 4}
	tgt, err := target.New(1, tc, now)
	require.NoError(t, err)
	tgt.OperationStarted = now
	tgt.NextProbeDeadline = now.Add(apitime.Timeval{Sec: 1000}) // push probes far out of the way

	down := config.AlarmConfig{Name: "down", Type: config.AlarmDown, Val: 5000}
	tgt.Alarms["down"] = &target.AlarmBinding{Cfg: down}

	wakeup := e.nextWakeup([]*target.Target{tgt}, now)
	assert.Equal(t, now.Add(apitime.Timeval{Sec: 5}), wakeup)
}

func TestNextWakeupFallsBackWithNoTargets(t *testing.T) {
	e, _ := newTestEngine(t)
	now := apitime.Timeval{Sec: 100}
	wakeup := e.nextWakeup(nil, now)
	assert.Equal(t, now.Add(apitime.Timeval{Sec: 1}), wakeup)
}

func TestAdvanceProbeDeadlineStepsByInterval(t *testing.T) {
	e, _ := newTestEngine(t)
	tc := config.TargetConfig{Name: "1.2.3.4", IntervalMS: 2000, AvgDelaySamples: 3, AvgLossDelaySamples: 2, AvgLossSamples: 4}
	tgt, err := target.New(1, tc, apitime.Timeval{Sec: 0})
	require.NoError(t, err)

	e.advanceProbeDeadline(tgt)
	assert.Equal(t, apitime.Timeval{Sec: 2}, tgt.NextProbeDeadline)
	e.advanceProbeDeadline(tgt)
	assert.Equal(t, apitime.Timeval{Sec: 4}, tgt.NextProbeDeadline)
}

func TestDispatchRepeatsRespectsRepeatMax(t *testing.T) {
	e, _ := newTestEngine(t)
	tc := config.TargetConfig{Name: "1.2.3.4", AvgDelaySamples: 3, AvgLossDelaySamples: 2, AvgLossSamples: 4}
	tgt, err := target.New(1, tc, apitime.Timeval{})
	require.NoError(t, err)

	down := config.AlarmConfig{Name: "down", Type: config.AlarmDown, Val: 5000, RepeatIntervalMS: 1000, RepeatMax: 2}
	tgt.Alarms["down"] = &target.AlarmBinding{Cfg: down, Active: true}

	ctx := context.Background()
	now := apitime.Timeval{Sec: 0}
	e.dispatchRepeats(ctx, []*target.Target{tgt}, now)
	assert.True(t, tgt.Alarms["down"].NextRepeatDue.IsSet(), "first tick only schedules, never dispatches immediately")
	assert.Equal(t, 0, tgt.Alarms["down"].NumRepeats)

	now = now.Add(apitime.Timeval{Sec: 1})
	e.dispatchRepeats(ctx, []*target.Target{tgt}, now)
	assert.Equal(t, 1, tgt.Alarms["down"].NumRepeats)

	now = now.Add(apitime.Timeval{Sec: 1})
	e.dispatchRepeats(ctx, []*target.Target{tgt}, now)
	assert.Equal(t, 2, tgt.Alarms["down"].NumRepeats)

	now = now.Add(apitime.Timeval{Sec: 1})
	e.dispatchRepeats(ctx, []*target.Target{tgt}, now)
	assert.Equal(t, 2, tgt.Alarms["down"].NumRepeats, "repeat_max caps further repeats")
}

