package notify

import (
	"context"

	"github.com/fichtner/apinger/internal/apitime"
	"github.com/fichtner/apinger/internal/target"
)

// Manager routes target.Transition values emitted by the alarm state
// machine to either immediate dispatch or the combine queue, applying
// force_down suppression and the canceled-by-reload bypass.
type Manager struct {
	Queue      Queue
	Dispatcher *Dispatcher
}

// NewManager constructs a Manager around an already-built Dispatcher.
func NewManager(d *Dispatcher) *Manager {
	return &Manager{Dispatcher: d}
}

// Handle processes one transition at enqueue time now.
//
//   - Polarity −1 (canceled by reload) always dispatches immediately,
//     bypassing both the combine queue and force_down.
//   - force_down suppresses +1/0 emission entirely (state was already
//     updated by the alarm package; only the notification is dropped).
//   - Otherwise: combine_interval>0 queues (with the idempotence guard),
//     combine_interval==0 dispatches immediately.
func (m *Manager) Handle(ctx context.Context, tr target.Transition, now apitime.Timeval) {
	if tr.Polarity < 0 {
		m.Dispatcher.DispatchImmediate(ctx, tr.Target, tr.Alarm, tr.Polarity)
		return
	}
	if tr.Target.ForceDown {
		return
	}
	if tr.Alarm.CombineIntervalMS > 0 {
		m.Queue.Enqueue(Entry{Target: tr.Target, Alarm: tr.Alarm, Polarity: tr.Polarity, EnqueueTime: now})
		return
	}
	m.Dispatcher.DispatchImmediate(ctx, tr.Target, tr.Alarm, tr.Polarity)
}

// DispatchDue pops and dispatches at most one due entry from the combine
// queue. Reports whether an entry was dispatched.
func (m *Manager) DispatchDue(ctx context.Context, now apitime.Timeval) bool {
	e, ok := m.Queue.PopDue(now)
	if !ok {
		return false
	}
	m.Dispatcher.Dispatch(ctx, e)
	return true
}
