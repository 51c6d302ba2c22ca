//go:build linux

// Package target implements the target registry and statistics engine: the
// set of monitored hosts, their rolling delay/loss buffers, and the
// reconcile-on-reload logic that preserves statistics and active alarms
// across a configuration change.
package target

import (
	"fmt"
	"net"

	"github.com/fichtner/apinger/internal/apitime"
	"github.com/fichtner/apinger/internal/config"
	"github.com/fichtner/apinger/internal/rawsock"
)

// Polarity values a Transition can carry: firing, clearing, or canceled
// because the target or alarm binding was removed on reload.
const (
	PolarityFire     = 1
	PolarityClear    = 0
	PolarityCanceled = -1
)

// Transition is one alarm state change emitted by the alarm state machine
// or the registry's reconcile path.
type Transition struct {
	Target   *Target
	Alarm    config.AlarmConfig
	Polarity int
}

// AlarmBinding is one (target, alarm config) pairing, kept for every
// configured alarm regardless of whether it is currently active so the
// repeat/combine bookkeeping has somewhere to live between fires.
type AlarmBinding struct {
	Cfg           config.AlarmConfig
	Active        bool
	NextRepeatDue apitime.Timeval
	NumRepeats    int
}

// Target is one monitored (name, source_ip) destination.
type Target struct {
	Handle      uint32
	Name        string
	SourceIP    string
	Description string

	Family rawsock.Family
	Dest   net.IP
	Source net.IP
	Conn   *rawsock.Conn

	Cfg *config.TargetConfig

	OperationStarted  apitime.Timeval
	NextProbeDeadline apitime.Timeval

	LastSent         int64
	Received         uint64
	LastReceivedSeq  uint64
	LastReceivedTime apitime.Timeval
	RecentlyLost     int
	UpSent           int

	DelayBuf   []float64
	DelaySum   float64
	LossWindow []byte

	Alarms map[string]*AlarmBinding

	ForceDown bool
}

// New constructs a Target from cfg. handle is the registry-assigned
// identifier embedded in every trace payload for this target. Address
// resolution is numeric-only: a non-numeric Name or SourceIP is rejected
// rather than looked up via DNS.
func New(handle uint32, cfg config.TargetConfig, now apitime.Timeval) (*Target, error) {
	dest := net.ParseIP(cfg.Name)
	if dest == nil {
		return nil, fmt.Errorf("target: %q is not a numeric address", cfg.Name)
	}

	family := rawsock.FamilyV4
	if dest.To4() == nil {
		family = rawsock.FamilyV6
	}

	var source net.IP
	if cfg.SourceIP != "" {
		source = net.ParseIP(cfg.SourceIP)
		if source == nil {
			return nil, fmt.Errorf("target: source_ip %q is not a numeric address", cfg.SourceIP)
		}
		sourceIsV4 := source.To4() != nil
		if (family == rawsock.FamilyV4) != sourceIsV4 {
			return nil, fmt.Errorf("target: source_ip %q family does not match destination %q", cfg.SourceIP, cfg.Name)
		}
	}

	cp := cfg
	t := &Target{
		Handle:            handle,
		Name:              cfg.Name,
		SourceIP:          cfg.SourceIP,
		Description:       cfg.Description,
		Family:            family,
		Dest:              dest,
		Source:            source,
		Cfg:               &cp,
		OperationStarted:  now,
		NextProbeDeadline: now,
		DelayBuf:          make([]float64, sampleCount(cfg.AvgDelaySamples)),
		LossWindow:        make([]byte, windowSize(cfg)),
		Alarms:            make(map[string]*AlarmBinding),
	}
	return t, nil
}

// Close releases the target's socket, if any.
func (t *Target) Close() error {
	if t.Conn == nil {
		return nil
	}
	err := t.Conn.Close()
	t.Conn = nil
	return err
}
