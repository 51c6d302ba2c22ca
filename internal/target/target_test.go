//go:build linux

package target

import (
	"testing"

	"github.com/fichtner/apinger/internal/apitime"
	"github.com/fichtner/apinger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTarget(t *testing.T, avgDelay, avgLossDelay, avgLoss int) *Target {
	t.Helper()
	tc := config.TargetConfig{Name: "1.2.3.4", AvgDelaySamples: avgDelay, AvgLossDelaySamples: avgLossDelay, AvgLossSamples: avgLoss}
	tgt, err := New(1, tc, apitime.Timeval{})
	require.NoError(t, err)
	return tgt
}

func TestNewRejectsNonNumericName(t *testing.T) {
	_, err := New(1, config.TargetConfig{Name: "not-an-ip"}, apitime.Timeval{})
	assert.Error(t, err)
}

func TestNewRejectsSourceFamilyMismatch(t *testing.T) {
	_, err := New(1, config.TargetConfig{Name: "1.2.3.4", SourceIP: "::1"}, apitime.Timeval{})
	assert.Error(t, err)
}

func TestNewAcceptsIPv6(t *testing.T) {
	tgt, err := New(1, config.TargetConfig{Name: "2001:db8::1", AvgDelaySamples: 1, AvgLossDelaySamples: 1, AvgLossSamples: 1}, apitime.Timeval{})
	require.NoError(t, err)
	assert.NotNil(t, tgt.Dest.To16())
	assert.Nil(t, tgt.Dest.To4())
}

// Basic delay scenario: avg_delay_samples=3, replies {10,20,30} ->
// AVG_DELAY==20.0; a fourth reply of 60 -> 36.666...
func TestAvgDelayBasicScenario(t *testing.T) {
	tgt := newTestTarget(t, 3, 5, 50)

	tgt.OnReply(1, 10)
	tgt.OnReply(2, 20)
	tgt.OnReply(3, 30)
	avg, known := tgt.AvgDelay()
	require.True(t, known)
	assert.InDelta(t, 20.0, avg, 1e-9)

	tgt.OnReply(4, 60)
	avg, known = tgt.AvgDelay()
	require.True(t, known)
	assert.InDelta(t, (20.0+30.0+60.0)/3.0, avg, 1e-9)
}

func TestAvgDelayUnknownBeforeFirstReply(t *testing.T) {
	tgt := newTestTarget(t, 3, 5, 50)
	_, known := tgt.AvgDelay()
	assert.False(t, known)
}

func TestAvgLossUnknownUntilThresholdCrossed(t *testing.T) {
	tgt := newTestTarget(t, 3, 2, 4) // threshold = 6
	for s := uint64(1); s <= 6; s++ {
		tgt.OnSend(s)
		_, known := tgt.AvgLoss()
		assert.False(t, known, "s=%d should still be at/below threshold", s)
	}
	tgt.OnSend(7)
	_, known := tgt.AvgLoss()
	assert.True(t, known)
}

func TestDelaySumInvariantHoldsAfterWraparound(t *testing.T) {
	tgt := newTestTarget(t, 3, 5, 50)
	delays := []float64{10, 20, 30, 40, 50, 5, 0, 100}
	for i, d := range delays {
		tgt.OnReply(uint64(i), d)
		var sum float64
		for _, v := range tgt.DelayBuf {
			sum += v
		}
		assert.InDelta(t, sum, tgt.DelaySum, 1e-9)
	}
}

func TestRecentlyLostStaysNonNegative(t *testing.T) {
	tgt := newTestTarget(t, 3, 2, 4)
	for s := uint64(1); s <= 50; s++ {
		tgt.OnSend(s)
		if s%3 == 0 {
			tgt.OnReply(s, 1)
		}
		assert.GreaterOrEqual(t, tgt.RecentlyLost, 0)
	}
}

func TestResizeGrowDelayBufZeroFillsTail(t *testing.T) {
	tgt := newTestTarget(t, 2, 2, 4)
	tgt.OnReply(0, 10)
	tgt.OnReply(1, 20)
	require.Len(t, tgt.DelayBuf, 2)

	tgt.Resize(config.TargetConfig{Name: tgt.Name, AvgDelaySamples: 4, AvgLossDelaySamples: 2, AvgLossSamples: 4})
	require.Len(t, tgt.DelayBuf, 4)
	assert.Equal(t, 0.0, tgt.DelayBuf[2])
	assert.Equal(t, 0.0, tgt.DelayBuf[3])
	assert.InDelta(t, 30.0, tgt.DelaySum, 1e-9)
}

func TestResizeShrinkDelayBufSubtractsTruncatedSlots(t *testing.T) {
	tgt := newTestTarget(t, 4, 2, 4)
	tgt.OnReply(0, 10)
	tgt.OnReply(1, 20)
	tgt.OnReply(2, 30)
	tgt.OnReply(3, 40)
	require.InDelta(t, 100.0, tgt.DelaySum, 1e-9)

	tgt.Resize(config.TargetConfig{Name: tgt.Name, AvgDelaySamples: 2, AvgLossDelaySamples: 2, AvgLossSamples: 4})
	require.Len(t, tgt.DelayBuf, 2)
	assert.InDelta(t, 30.0, tgt.DelaySum, 1e-9) // 100 - (30 + 40) truncated from slots 2,3
}

func TestResizeLossWindowIndependentOfDelayBuf(t *testing.T) {
	tgt := newTestTarget(t, 4, 2, 4)
	tgt.OnSend(1)
	tgt.OnSend(2)
	require.Len(t, tgt.LossWindow, 6)

	tgt.Resize(config.TargetConfig{Name: tgt.Name, AvgDelaySamples: 2, AvgLossDelaySamples: 3, AvgLossSamples: 5})
	assert.Len(t, tgt.LossWindow, 8)
	assert.Len(t, tgt.DelayBuf, 2)
}

func TestCloseIsIdempotentWithNilConn(t *testing.T) {
	tgt := newTestTarget(t, 3, 2, 4)
	assert.NoError(t, tgt.Close())
	assert.NoError(t, tgt.Close())
}
