// Package alarm implements the hysteretic alarm state machine:
// fire/clear conditions for DOWN/LOSS/DELAY alarms, and the special-case
// state resets on DOWN and DELAY clear. It operates as a plain loop over
// target.Target.Alarms.
package alarm

import (
	"time"

	"github.com/fichtner/apinger/internal/apitime"
	"github.com/fichtner/apinger/internal/config"
	"github.com/fichtner/apinger/internal/target"
)

// EvaluateTick checks every inactive DOWN alarm on t for firing, based on
// elapsed silence since the last reply (or since the target started
// operating, if none has ever arrived).
func EvaluateTick(t *target.Target, now apitime.Timeval, drift time.Duration) []target.Transition {
	var out []target.Transition
	for _, b := range t.Alarms {
		if b.Cfg.Type != config.AlarmDown || b.Active {
			continue
		}
		ref := t.LastReceivedTime
		if !ref.IsSet() {
			ref = t.OperationStarted
		}
		elapsed := now.Sub(ref).Duration() - drift
		if elapsed > time.Duration(b.Cfg.Val)*time.Millisecond {
			b.Active = true
			out = append(out, target.Transition{Target: t, Alarm: b.Cfg, Polarity: target.PolarityFire})
		}
	}
	return out
}

// EvaluateReply checks LOSS/DELAY fire-or-clear and unconditional DOWN
// clear after a reply has already been folded into t's statistics via
// Target.OnReply. measuredDelay/oldSlot are the just-replaced delay_buf
// slot values from that OnReply call, needed to reset delay_sum to
// measuredDelay − oldSlot (clamped to ≥0) on a DELAY clear.
func EvaluateReply(t *target.Target, measuredDelay, oldSlot float64) []target.Transition {
	var out []target.Transition

	// DOWN always clears unconditionally on any reply. Handle it first and
	// deterministically, ahead of reading avg_loss/avg_delay, so the stat
	// reset it performs is visible to the loss/delay checks below rather
	// than racing them through Go's unordered map iteration.
	for _, b := range t.Alarms {
		if b.Cfg.Type != config.AlarmDown || !b.Active {
			continue
		}
		t.Received = 1
		t.RecentlyLost = 0
		t.UpSent = 0
		clearBinding(b)
		out = append(out, target.Transition{Target: t, Alarm: b.Cfg, Polarity: target.PolarityClear})
	}

	avgDelay, avgDelayKnown := t.AvgDelay()
	avgLoss, avgLossKnown := t.AvgLoss()

	// First pass: clear remaining already-active alarms against the
	// (possibly just-reset) statistics.
	for _, b := range t.Alarms {
		if !b.Active || b.Cfg.Type == config.AlarmDown {
			continue
		}
		switch b.Cfg.Type {
		case config.AlarmLoss:
			if avgLossKnown && avgLoss < b.Cfg.Low {
				clearBinding(b)
				out = append(out, target.Transition{Target: t, Alarm: b.Cfg, Polarity: target.PolarityClear})
			}
		case config.AlarmDelay:
			if avgDelayKnown && avgDelay < b.Cfg.Low {
				t.DelaySum = measuredDelay - oldSlot
				if t.DelaySum < 0 {
					t.DelaySum = 0
				}
				clearBinding(b)
				out = append(out, target.Transition{Target: t, Alarm: b.Cfg, Polarity: target.PolarityClear})
			}
		}
	}

	// Second pass: fire alarms not already active.
	for _, b := range t.Alarms {
		if b.Active || b.Cfg.Type == config.AlarmDown {
			continue
		}
		switch b.Cfg.Type {
		case config.AlarmDelay:
			if avgDelayKnown && avgDelay > b.Cfg.High {
				b.Active = true
				out = append(out, target.Transition{Target: t, Alarm: b.Cfg, Polarity: target.PolarityFire})
			}
		case config.AlarmLoss:
			if avgLossKnown && avgLoss > b.Cfg.High {
				b.Active = true
				out = append(out, target.Transition{Target: t, Alarm: b.Cfg, Polarity: target.PolarityFire})
			}
		}
	}

	return out
}

// clearBinding deactivates b and resets its repeat bookkeeping so a later
// fire starts a fresh repeat cadence.
func clearBinding(b *target.AlarmBinding) {
	b.Active = false
	b.NumRepeats = 0
	b.NextRepeatDue = apitime.Timeval{}
}
