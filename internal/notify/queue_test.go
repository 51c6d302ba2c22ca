package notify

import (
	"testing"

	"github.com/fichtner/apinger/internal/apitime"
	"github.com/fichtner/apinger/internal/config"
	"github.com/fichtner/apinger/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueueTarget(t *testing.T, name string) *target.Target {
	t.Helper()
	tc := config.TargetConfig{Name: name, AvgDelaySamples: 3, AvgLossDelaySamples: 2, AvgLossSamples: 4}
	tgt, err := target.New(1, tc, apitime.Timeval{})
	require.NoError(t, err)
	return tgt
}

func TestEnqueueDedupesSameTargetAlarmPolarity(t *testing.T) {
	var q Queue
	tgt := newQueueTarget(t, "10.0.0.1")
	alarm := config.AlarmConfig{Name: "loss", Type: config.AlarmLoss, CombineIntervalMS: 2000}

	assert.True(t, q.Enqueue(Entry{Target: tgt, Alarm: alarm, Polarity: 1, EnqueueTime: apitime.Timeval{Sec: 0}}))
	assert.False(t, q.Enqueue(Entry{Target: tgt, Alarm: alarm, Polarity: 1, EnqueueTime: apitime.Timeval{Sec: 1}}), "second enqueue within the combine window must be deduplicated")
	assert.Equal(t, 1, q.Len())
}

func TestPopDueRespectsCombineInterval(t *testing.T) {
	var q Queue
	tgt := newQueueTarget(t, "10.0.0.1")
	alarm := config.AlarmConfig{Name: "loss", Type: config.AlarmLoss, CombineIntervalMS: 2000}
	q.Enqueue(Entry{Target: tgt, Alarm: alarm, Polarity: 1, EnqueueTime: apitime.Timeval{Sec: 10}})

	_, ok := q.PopDue(apitime.Timeval{Sec: 11, Usec: 500_000})
	assert.False(t, ok, "must not dispatch before enqueue_time+combine_interval")

	e, ok := q.PopDue(apitime.Timeval{Sec: 12})
	require.True(t, ok)
	assert.Equal(t, tgt, e.Target)
	assert.Equal(t, 0, q.Len())
}

func TestRemoveTargetDropsQueuedEntries(t *testing.T) {
	var q Queue
	a := newQueueTarget(t, "1.1.1.1")
	b := newQueueTarget(t, "2.2.2.2")
	alarm := config.AlarmConfig{Name: "loss", Type: config.AlarmLoss, CombineIntervalMS: 2000}
	q.Enqueue(Entry{Target: a, Alarm: alarm, Polarity: 1, EnqueueTime: apitime.Timeval{}})
	q.Enqueue(Entry{Target: b, Alarm: alarm, Polarity: 1, EnqueueTime: apitime.Timeval{}})

	q.RemoveTarget(a)
	assert.Equal(t, 1, q.Len())
	e, _ := q.PopDue(apitime.Timeval{Sec: 100})
	assert.Equal(t, b, e.Target)
}
