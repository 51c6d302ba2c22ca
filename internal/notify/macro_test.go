package notify

import (
	"testing"
	"time"

	"github.com/fichtner/apinger/internal/apitime"
	"github.com/fichtner/apinger/internal/config"
	"github.com/fichtner/apinger/internal/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMacroTarget(t *testing.T) *target.Target {
	t.Helper()
	tc := config.TargetConfig{Name: "10.0.0.1", Description: "core router", AvgDelaySamples: 3, AvgLossDelaySamples: 2, AvgLossSamples: 4}
	tgt, err := target.New(1, tc, apitime.Timeval{})
	require.NoError(t, err)
	return tgt
}

func TestSubstituteEmptyInputYieldsEmpty(t *testing.T) {
	tgt := newMacroTarget(t)
	assert.Equal(t, "", Substitute("", Context{Target: tgt}))
}

func TestSubstituteNoTokensReturnedUnchanged(t *testing.T) {
	tgt := newMacroTarget(t)
	assert.Equal(t, "plain string", Substitute("plain string", Context{Target: tgt}))
}

func TestSubstituteExpandsKnownTokens(t *testing.T) {
	tgt := newMacroTarget(t)
	alarm := config.AlarmConfig{Name: "down", Type: config.AlarmDown}
	ctx := Context{
		Target:          tgt,
		Alarm:           &alarm,
		Polarity:        1,
		TimestampFormat: "2006-01-02",
		Now:             time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	got := Substitute("%t %T %a %A %r %l %d %s %%", ctx)
	assert.Equal(t, "10.0.0.1 core router down down ALARM n/a n/a 2026-08-01 %", got)
}

func TestSubstituteAlarmCanceledReasons(t *testing.T) {
	tgt := newMacroTarget(t)
	assert.Equal(t, "alarm canceled", Substitute("%r", Context{Target: tgt, Polarity: 0}))
	assert.Equal(t, "alarm canceled (config reload)", Substitute("%r", Context{Target: tgt, Polarity: -1}))
}

func TestSubstituteNoAlarmUsesPlaceholder(t *testing.T) {
	tgt := newMacroTarget(t)
	assert.Equal(t, "?", Substitute("%a", Context{Target: tgt}))
	assert.Equal(t, "?", Substitute("%A", Context{Target: tgt}))
}

func TestReportLineOmitsUnknownFields(t *testing.T) {
	tgt := newMacroTarget(t)
	line := ReportLine(tgt)
	assert.Equal(t, "10.0.0.1|core router|1|0|0|", line)
}
