//go:build linux

package target

import "github.com/fichtner/apinger/internal/config"

func sampleCount(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func windowSize(cfg config.TargetConfig) int {
	w := cfg.AvgLossDelaySamples + cfg.AvgLossSamples
	if w <= 0 {
		return 1
	}
	return w
}

// OnSend folds sequence s into the loss window and advances the send-side
// counters.
func (t *Target) OnSend(s uint64) {
	w := uint64(len(t.LossWindow))
	i := int(s % w)

	if s > w && t.LossWindow[i] == 0 {
		t.RecentlyLost--
	}
	t.LossWindow[i] = 0

	if grace := uint64(t.Cfg.AvgLossDelaySamples); s > grace {
		gi := int((s - grace) % w)
		if t.LossWindow[gi] == 0 {
			t.RecentlyLost++
		}
	}
	if t.RecentlyLost < 0 {
		t.RecentlyLost = 0
	}

	t.LastSent = int64(s)
	t.UpSent++
}

// OnReply folds a reply for declared sequence r into the delay/loss
// buffers. delayMs is the already-drift-adjusted measured delay.
func (t *Target) OnReply(r uint64, delayMs float64) {
	if n := len(t.DelayBuf); n > 0 {
		slot := int(t.Received % uint64(n))
		old := t.DelayBuf[slot]
		t.DelayBuf[slot] = delayMs
		t.DelaySum += delayMs - old
		if t.DelaySum < 0 {
			t.DelaySum = 0
		}
	}
	t.Received++
	if w := len(t.LossWindow); w > 0 {
		t.LossWindow[int(r%uint64(w))] = 1
	}
}

// AvgDelay returns the current average delay (delay_sum divided by
// min(received, avg_delay_samples)), known iff at least one reply has
// ever arrived.
func (t *Target) AvgDelay() (float64, bool) {
	if t.Received == 0 {
		return 0, false
	}
	n := uint64(len(t.DelayBuf))
	denom := t.Received
	if n > 0 && denom > n {
		denom = n
	}
	if denom == 0 {
		return 0, false
	}
	return t.DelaySum / float64(denom), true
}

// AvgLoss returns the current loss percentage (100 × recently_lost /
// avg_loss_samples), known iff last_sent > avg_loss_delay_samples +
// avg_loss_samples.
func (t *Target) AvgLoss() (float64, bool) {
	threshold := int64(t.Cfg.AvgLossDelaySamples + t.Cfg.AvgLossSamples)
	if t.LastSent <= threshold {
		return 0, false
	}
	if t.Cfg.AvgLossSamples <= 0 {
		return 0, false
	}
	return 100 * float64(t.RecentlyLost) / float64(t.Cfg.AvgLossSamples), true
}

// Resize grows or shrinks the rolling buffers in place when a config
// reload changes a surviving target's sample sizes. Grown buffers
// zero-fill their new tail; a shrunk delay buffer subtracts the truncated
// slots from delay_sum. The delay buffer and loss window are resized
// independently of each other.
func (t *Target) Resize(cfg config.TargetConfig) {
	newDelayLen := sampleCount(cfg.AvgDelaySamples)
	if newDelayLen < len(t.DelayBuf) {
		for _, v := range t.DelayBuf[newDelayLen:] {
			t.DelaySum -= v
		}
		if t.DelaySum < 0 {
			t.DelaySum = 0
		}
		t.DelayBuf = t.DelayBuf[:newDelayLen]
	} else if newDelayLen > len(t.DelayBuf) {
		grown := make([]float64, newDelayLen)
		copy(grown, t.DelayBuf)
		t.DelayBuf = grown
	}

	newWindowLen := windowSize(cfg)
	if newWindowLen < len(t.LossWindow) {
		t.LossWindow = t.LossWindow[:newWindowLen]
	} else if newWindowLen > len(t.LossWindow) {
		grown := make([]byte, newWindowLen)
		copy(grown, t.LossWindow)
		t.LossWindow = grown
	}

	cp := cfg
	t.Cfg = &cp
	t.Description = cfg.Description
	t.ForceDown = cfg.ForceDown
}
