// Package notify implements the combine-interval debouncer and the
// pipe/command dispatcher, with macro substitution for command and
// subject strings.
//
// The combine queue is a plain ordered slice rather than a pointer-based
// linked list; command execution itself uses os/exec, the stdlib being
// the only reasonable way to popen/system a subprocess.
package notify

import (
	"github.com/fichtner/apinger/internal/apitime"
	"github.com/fichtner/apinger/internal/config"
	"github.com/fichtner/apinger/internal/target"
)

// Entry is a queued delayed notification: (target, alarm_cfg, polarity,
// enqueue_time).
type Entry struct {
	Target      *target.Target
	Alarm       config.AlarmConfig
	Polarity    int
	EnqueueTime apitime.Timeval
}

func (e Entry) key() (string, [2]string, int) {
	return e.Target.Name, e.Alarm.Key(), e.Polarity
}

// Queue is the FIFO combine-delay queue. It holds only polarity +1/0
// entries for alarms with a positive combine_interval: the immediate-
// dispatch and force_down/canceled-bypass paths never touch it.
type Queue struct {
	entries []Entry
}

// Enqueue appends e unless an entry with the same (target, alarm, polarity)
// is already queued — an idempotence guard against flapping within the
// combine window. Reports whether it was added.
func (q *Queue) Enqueue(e Entry) bool {
	k := e.key()
	for _, existing := range q.entries {
		if existing.key() == k {
			return false
		}
	}
	q.entries = append(q.entries, e)
	return true
}

// Len reports the number of queued entries.
func (q *Queue) Len() int { return len(q.entries) }

// NextDeadline returns the dispatch deadline of the head entry: its
// enqueue time plus its alarm's combine_interval. ok is false when the
// queue is empty.
func (q *Queue) NextDeadline() (deadline apitime.Timeval, ok bool) {
	if len(q.entries) == 0 {
		return apitime.Timeval{}, false
	}
	head := q.entries[0]
	ms := head.Alarm.CombineIntervalMS
	return head.EnqueueTime.Add(apitime.Timeval{Sec: ms / 1000, Usec: (ms % 1000) * 1000}), true
}

// PopDue removes and returns the head entry if its deadline has passed.
// Dispatch reads the head of the queue at most once per main-loop tick.
func (q *Queue) PopDue(now apitime.Timeval) (Entry, bool) {
	deadline, ok := q.NextDeadline()
	if !ok || now.Before(deadline) {
		return Entry{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true
}

// RemoveTarget drops every queued entry referring to t, for the
// reload-removal step where pending delayed notifications for a removed
// target are dropped.
func (q *Queue) RemoveTarget(t *target.Target) {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.Target != t {
			kept = append(kept, e)
		}
	}
	q.entries = kept
}

// Rebind re-points every queued entry for t whose alarm name matches one in
// alarmsByName to the new AlarmConfig value.
func (q *Queue) Rebind(t *target.Target, alarmsByName map[string]config.AlarmConfig) {
	for i, e := range q.entries {
		if e.Target != t {
			continue
		}
		if ac, ok := alarmsByName[e.Alarm.Name]; ok {
			q.entries[i].Alarm = ac
		}
	}
}
