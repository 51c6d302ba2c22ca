//go:build linux

// Package engine implements the scheduler / main loop: a single
// cooperative goroutine that owns every target's socket, drives probes
// and replies through the statistics and alarm collaborators, and
// services signals and deadlines between poll() calls.
//
// It runs a unix.Poll loop over a fd set plus an eventfd used only to
// interrupt a blocked poll (never to carry data), with one socket per
// target and a dynamic deadline computed from the registry, alarm
// repeats, the status/time-series flush cadence, and the notification
// queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/fichtner/apinger/internal/alarm"
	"github.com/fichtner/apinger/internal/apitime"
	"github.com/fichtner/apinger/internal/config"
	"github.com/fichtner/apinger/internal/metrics"
	"github.com/fichtner/apinger/internal/notify"
	"github.com/fichtner/apinger/internal/rawsock"
	"github.com/fichtner/apinger/internal/status"
	"github.com/fichtner/apinger/internal/target"
	"github.com/fichtner/apinger/internal/tsdb"
	"github.com/fichtner/apinger/internal/wire"
	"golang.org/x/sys/unix"
)

// Engine owns the registry and every collaborator the main loop drives.
type Engine struct {
	log      *slog.Logger
	clock    apitime.Clock
	cfg      *config.Config
	registry *target.Registry
	notify   *notify.Manager
	status   *status.Writer
	tsdb     tsdb.Writer

	id uint16 // process-wide ICMPv4/v6 identifier shared by every target socket

	statusInterval    time.Duration
	tsdbFlushInterval time.Duration

	nextStatusFlush apitime.Timeval
	haveStatus      bool
	nextTSDBFlush   apitime.Timeval
	haveTSDB        bool

	// lastDrift is the main-loop's own processing latency measured over the
	// previous iteration's dispatch phase (everything between sampling the
	// loop's reference time and entering the blocking poll). It is
	// subtracted from measured round-trip time so per-iteration bookkeeping
	// overhead isn't misattributed to network delay, and from the DOWN
	// silence window for the same reason.
	lastDrift time.Duration

	reloadRequested atomicBool
	statusRequested atomicBool
	interruptedBy   atomicInt32
	sigpipeReceived atomicBool

	efd int

	recvBuf []byte
}

// Config bundles the collaborators and tunables New needs; it exists so
// call sites don't have to pass a dozen positional arguments.
type Config struct {
	Log               *slog.Logger
	Clock             apitime.Clock
	ConfigFile        *config.Config
	Registry          *target.Registry
	Notify            *notify.Manager
	Status            *status.Writer
	TSDB              tsdb.Writer
	ID                uint16
	StatusInterval    time.Duration
	TSDBFlushInterval time.Duration
}

// New constructs an Engine ready for Run.
func New(c Config) *Engine {
	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:               log,
		clock:             c.Clock,
		cfg:               c.ConfigFile,
		registry:          c.Registry,
		notify:            c.Notify,
		status:            c.Status,
		tsdb:              c.TSDB,
		id:                c.ID,
		statusInterval:    c.StatusInterval,
		tsdbFlushInterval: c.TSDBFlushInterval,
		recvBuf:           make([]byte, 65535),
	}
}

// NotifyReload records a pending SIGHUP for the next loop iteration.
func (e *Engine) NotifyReload() { e.reloadRequested.set(true); e.wake() }

// NotifyStatus records a pending SIGUSR1 for the next loop iteration.
func (e *Engine) NotifyStatus() { e.statusRequested.set(true); e.wake() }

// NotifySignal records a terminating signal (SIGTERM/SIGINT) or a no-op
// SIGPIPE. sig is whatever signal.Notify delivered (a syscall.Signal on
// every platform this //go:build linux file runs on).
func (e *Engine) NotifySignal(sig os.Signal) {
	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		e.interruptedBy.set(int32(signalNumber(sig)))
		e.wake()
	case syscall.SIGPIPE:
		e.sigpipeReceived.set(true)
		e.wake()
	case syscall.SIGHUP:
		e.NotifyReload()
	case syscall.SIGUSR1:
		e.NotifyStatus()
	}
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return -1
}

// Run drives the cooperative main loop until ctx is canceled or a
// terminating signal is recorded. On return every target socket has been
// closed and the notification queue has been drained synchronously.
func (e *Engine) Run(ctx context.Context) error {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("engine: eventfd: %w", err)
	}
	e.efd = efd
	defer unix.Close(efd)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			e.interruptedBy.set(int32(syscall.SIGTERM))
			e.wake()
		case <-stop:
		}
	}()

	for {
		loopStart := e.clock.Now()
		drift := e.lastDrift
		targets := e.registry.Targets()
		metrics.TargetsCurrent.Set(float64(len(targets)))

		pfds := make([]unix.PollFd, 0, len(targets)+1)
		fdIndex := make(map[int32]*target.Target, len(targets))

		for _, t := range targets {
			e.runDownChecks(ctx, t, loopStart, drift)

			if t.Conn == nil {
				continue
			}
			if t.NextProbeDeadline.Compare(loopStart) <= 0 {
				e.sendProbe(t, loopStart)
			}
			fd := int32(t.Conn.FD())
			pfds = append(pfds, unix.PollFd{Fd: fd, Events: unix.POLLIN})
			fdIndex[fd] = t
		}
		efdSlot := len(pfds)
		pfds = append(pfds, unix.PollFd{Fd: int32(e.efd), Events: unix.POLLIN})

		if e.reloadRequested.swap(false) {
			e.handleReload(ctx, loopStart)
			targets = e.registry.Targets()
		}
		if e.sigpipeReceived.swap(false) {
			e.log.Debug("engine: sigpipe received, ignoring")
		}

		e.dispatchRepeats(ctx, targets, loopStart)

		if e.statusRequested.swap(false) || (e.statusInterval > 0 && e.statusDue(loopStart)) {
			if err := e.status.Write(targets); err != nil {
				e.log.Warn("engine: write status file", "error", err)
			}
			e.nextStatusFlush = loopStart.Add(apitime.FromDuration(e.statusInterval))
			e.haveStatus = true
		}

		if e.tsdbFlushInterval > 0 && e.tsdbDue(loopStart) {
			e.tsdb.Flush()
			e.nextTSDBFlush = loopStart.Add(apitime.FromDuration(e.tsdbFlushInterval))
			e.haveTSDB = true
		}

		e.notify.DispatchDue(ctx, loopStart)
		metrics.NotificationQueueDepth.Set(float64(e.notify.Queue.Len()))

		if sig := e.interruptedBy.get(); sig != 0 {
			e.log.Info("engine: shutting down", "signal", sig)
			e.drainQueueSynchronously(ctx)
			for _, t := range targets {
				if cerr := t.Close(); cerr != nil {
					e.log.Debug("engine: close target socket", "target", t.Name, "error", cerr)
				}
			}
			return nil
		}

		// dispatchEnd marks the end of this iteration's own bookkeeping;
		// the gap since loopStart is the drift fed back into the next
		// iteration's DOWN checks and into this iteration's reply delays.
		dispatchEnd := e.clock.Now()
		e.lastDrift = dispatchEnd.Sub(loopStart).Duration()
		metrics.TickDuration.Observe(e.lastDrift.Seconds())

		deadline := e.nextWakeup(targets, dispatchEnd)
		timeout := pollTimeoutMs(deadline, dispatchEnd)

		n, err := unix.Poll(pfds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("engine: poll: %w", err)
		}
		if pfds[efdSlot].Revents&unix.POLLIN != 0 {
			var tmp [8]byte
			_, _ = unix.Read(e.efd, tmp[:])
		}
		if n <= 0 {
			continue
		}
		for _, pfd := range pfds[:efdSlot] {
			if pfd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) == 0 {
				continue
			}
			t := fdIndex[pfd.Fd]
			e.drainSocket(ctx, t, e.lastDrift)
		}
	}
}

func (e *Engine) wake() {
	if e.efd == 0 {
		return
	}
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(e.efd, one[:])
}

func (e *Engine) runDownChecks(ctx context.Context, t *target.Target, now apitime.Timeval, drift time.Duration) {
	for _, tr := range alarm.EvaluateTick(t, now, drift) {
		e.recordTransition(ctx, tr, now)
	}
}

func (e *Engine) recordTransition(ctx context.Context, tr target.Transition, now apitime.Timeval) {
	e.notify.Handle(ctx, tr, now)
	v := 0.0
	if tr.Target.Alarms[tr.Alarm.Name] != nil && tr.Target.Alarms[tr.Alarm.Name].Active {
		v = 1.0
	}
	metrics.AlarmsActive.WithLabelValues(tr.Target.Name, tr.Alarm.Name, string(tr.Alarm.Type)).Set(v)
	polarity := "clear"
	if tr.Polarity > 0 {
		polarity = "fire"
	} else if tr.Polarity < 0 {
		polarity = "canceled"
	}
	metrics.NotificationsDispatchedTotal.WithLabelValues(string(tr.Alarm.Type), polarity).Inc()
}

func (e *Engine) sendProbe(t *target.Target, now apitime.Timeval) {
	seq := uint64(t.UpSent)
	payload := wire.TracePayload{Timestamp: now, TargetHandle: t.Handle, Seq: uint32(seq)}

	var pkt []byte
	switch t.Family {
	case rawsock.FamilyV4:
		pkt = wire.EncodeV4(e.id, uint32(seq), payload)
	case rawsock.FamilyV6:
		var err error
		pkt, err = wire.EncodeV6(e.id, uint32(seq), payload, t.Source, t.Dest)
		if err != nil {
			e.log.Warn("engine: encode icmpv6 echo", "target", t.Name, "error", err)
			t.OnSend(seq)
			e.advanceProbeDeadline(t)
			return
		}
	}

	if err := t.Conn.Send(t.Dest, pkt); err != nil {
		if rawsock.IsFatalSendError(err) {
			if rerr := t.Conn.Reopen(); rerr != nil {
				e.log.Warn("engine: reopen socket after fatal send error", "target", t.Name, "error", rerr)
			}
		} else {
			e.log.Debug("engine: send probe", "target", t.Name, "error", err)
		}
	} else {
		metrics.ProbesSentTotal.WithLabelValues(t.Name).Inc()
	}

	t.OnSend(seq)
	e.advanceProbeDeadline(t)
}

// advanceProbeDeadline advances from the previous deadline, not from now,
// so a late-serviced tick doesn't compound drift into the next interval.
func (e *Engine) advanceProbeDeadline(t *target.Target) {
	t.NextProbeDeadline = t.NextProbeDeadline.Add(msToTimeval(t.Cfg.IntervalMS))
}

func (e *Engine) drainSocket(ctx context.Context, t *target.Target, drift time.Duration) {
	if t == nil || t.Conn == nil {
		return
	}
	for {
		n, _, err := t.Conn.Recv(e.recvBuf)
		if err != nil {
			if errors.Is(err, rawsock.ErrWouldBlock) {
				return
			}
			if rawsock.IsFatalSendError(err) {
				if rerr := t.Conn.Reopen(); rerr != nil {
					e.log.Warn("engine: reopen socket after fatal recv error", "target", t.Name, "error", rerr)
				}
				return
			}
			e.log.Debug("engine: recv", "target", t.Name, "error", err)
			return
		}
		// Timestamp each packet individually rather than reusing one taken
		// before poll() returned: for a reply that actually waited on
		// poll, the pre-block time is stale and understates the measured
		// delay by roughly the wait duration.
		now := e.clock.Now()
		e.handlePacket(ctx, t, e.recvBuf[:n], now, drift)
	}
}

func (e *Engine) handlePacket(ctx context.Context, t *target.Target, pkt []byte, now apitime.Timeval, drift time.Duration) {
	var (
		sentAt apitime.Timeval
		handle uint32
		seq    uint32
	)

	switch t.Family {
	case rawsock.FamilyV4:
		reply, err := wire.DecodeV4(pkt, e.id)
		if err != nil {
			e.dropReply(t, err)
			return
		}
		sentAt, handle, seq = reply.Payload.Timestamp, reply.Payload.TargetHandle, reply.Payload.Seq
	case rawsock.FamilyV6:
		reply, err := wire.DecodeV6(pkt, e.id)
		if err != nil {
			e.dropReply(t, err)
			return
		}
		sentAt, handle, seq = reply.Payload.Timestamp, reply.Payload.TargetHandle, reply.Payload.Seq
	}

	if handle != t.Handle {
		metrics.ProbesDroppedTotal.WithLabelValues(t.Name, "alien handle").Inc()
		return
	}

	rtt := now.Sub(sentAt).Duration() - drift
	delayMs := float64(rtt.Microseconds()) / 1000.0

	slot := 0
	if n := len(t.DelayBuf); n > 0 {
		slot = int(t.Received) % n
	}
	oldSlot := 0.0
	if len(t.DelayBuf) > 0 {
		oldSlot = t.DelayBuf[slot]
	}

	t.OnReply(uint64(seq), delayMs)
	t.LastReceivedSeq = uint64(seq)
	t.LastReceivedTime = now
	metrics.ProbesReceivedTotal.WithLabelValues(t.Name).Inc()

	for _, tr := range alarm.EvaluateReply(t, delayMs, oldSlot) {
		e.recordTransition(ctx, tr, now)
	}

	avgDelay, delayKnown := t.AvgDelay()
	avgLoss, lossKnown := t.AvgLoss()
	if delayKnown {
		metrics.AvgDelayMilliseconds.WithLabelValues(t.Name).Set(avgDelay)
	}
	if lossKnown {
		metrics.AvgLossPercent.WithLabelValues(t.Name).Set(avgLoss)
	}

	e.tsdb.Write(tsdb.Sample{
		TargetName: t.Name,
		SourceIP:   t.SourceIP,
		Timestamp:  e.clock.Underlying().Now(),
		DelayKnown: delayKnown,
		DelayMS:    avgDelay,
		LossKnown:  lossKnown,
		LossPct:    avgLoss,
	})
}

func (e *Engine) dropReply(t *target.Target, err error) {
	reason := "decode"
	var de *wire.DropError
	if errors.As(err, &de) {
		reason = de.Reason
	}
	metrics.ProbesDroppedTotal.WithLabelValues(t.Name, reason).Inc()
	e.log.Debug("engine: dropped reply", "target", t.Name, "reason", reason)
}

// dispatchRepeats sends a bypass-the-queue notification for every active
// alarm with a positive repeat_interval whose next_repeat_deadline has
// passed.
func (e *Engine) dispatchRepeats(ctx context.Context, targets []*target.Target, now apitime.Timeval) {
	for _, t := range targets {
		for _, b := range t.Alarms {
			if !b.Active || b.Cfg.RepeatIntervalMS <= 0 {
				continue
			}
			if !b.NextRepeatDue.IsSet() {
				b.NextRepeatDue = now.Add(msToTimeval(b.Cfg.RepeatIntervalMS))
				continue
			}
			if now.Before(b.NextRepeatDue) {
				continue
			}
			if b.Cfg.RepeatMax > 0 && b.NumRepeats >= b.Cfg.RepeatMax {
				continue
			}
			b.NumRepeats++
			b.NextRepeatDue = now.Add(msToTimeval(b.Cfg.RepeatIntervalMS))
			e.notify.Dispatcher.DispatchImmediate(ctx, t, b.Cfg, target.PolarityFire)
			metrics.NotificationsDispatchedTotal.WithLabelValues(string(b.Cfg.Type), "repeat").Inc()
		}
	}
}

func (e *Engine) handleReload(ctx context.Context, now apitime.Timeval) {
	_, err := e.cfg.Reload()
	if err != nil {
		e.log.Error("engine: reload config", "error", err)
		return
	}
	e.log.Info("engine: configuration reloaded")
	canceled := e.registry.Reconcile(e.cfg.Snapshot(), now)
	for _, tr := range canceled {
		e.notify.Handle(ctx, tr, now)
		e.notify.Queue.RemoveTarget(tr.Target)
	}

	// Surviving targets keep their queued entries but those entries must be
	// re-pointed to the rebound AlarmConfig values.
	for _, t := range e.registry.Targets() {
		alarmsByName := make(map[string]config.AlarmConfig, len(t.Alarms))
		for name, b := range t.Alarms {
			alarmsByName[name] = b.Cfg
		}
		e.notify.Queue.Rebind(t, alarmsByName)
	}
}

// drainQueueSynchronously dispatches every remaining combine-delay entry
// immediately, ignoring its deadline.
func (e *Engine) drainQueueSynchronously(ctx context.Context) {
	for e.notify.Queue.Len() > 0 {
		// PopDue with a far-future timeval flushes regardless of deadline.
		far := apitime.Timeval{Sec: 1 << 62}
		if !e.notify.DispatchDue(ctx, far) {
			break
		}
	}
}

func (e *Engine) statusDue(now apitime.Timeval) bool {
	return !e.haveStatus || !now.Before(e.nextStatusFlush)
}

func (e *Engine) tsdbDue(now apitime.Timeval) bool {
	return !e.haveTSDB || !now.Before(e.nextTSDBFlush)
}

// nextWakeup computes the earliest of every future deadline the loop
// knows about.
func (e *Engine) nextWakeup(targets []*target.Target, now apitime.Timeval) apitime.Timeval {
	best := now.Add(apitime.Timeval{Sec: 1}) // fallback when no deadline is known: wake after 1s
	have := false

	consider := func(tv apitime.Timeval, ok bool) {
		if !ok {
			return
		}
		if !have || tv.Before(best) {
			best = tv
			have = true
		}
	}

	for _, t := range targets {
		if t.Conn != nil {
			consider(t.NextProbeDeadline, true)
		}
		for _, b := range t.Alarms {
			if b.Cfg.Type == config.AlarmDown && !b.Active {
				ref := t.LastReceivedTime
				if !ref.IsSet() {
					ref = t.OperationStarted
				}
				consider(ref.Add(msToTimeval(b.Cfg.Val)), true)
			}
			if b.Active && b.Cfg.RepeatIntervalMS > 0 && b.NextRepeatDue.IsSet() {
				consider(b.NextRepeatDue, true)
			}
		}
	}
	if e.statusInterval > 0 {
		consider(e.nextStatusFlush, e.haveStatus)
	}
	if e.tsdbFlushInterval > 0 {
		consider(e.nextTSDBFlush, e.haveTSDB)
	}
	consider(e.notify.Queue.NextDeadline())

	if !have {
		return best
	}
	if best.Before(now) {
		return now
	}
	return best
}

func msToTimeval(ms int64) apitime.Timeval {
	return apitime.Timeval{Sec: ms / 1000, Usec: (ms % 1000) * 1000}
}

// pollTimeoutMs converts deadline-now into a millisecond poll() timeout,
// never negative and capped against a signed 32-bit overflow.
func pollTimeoutMs(deadline, now apitime.Timeval) int {
	d := deadline.Sub(now).Duration()
	if d <= 0 {
		return 0
	}
	const max = int(^uint32(0) >> 1)
	if d > time.Duration(max)*time.Millisecond {
		return max
	}
	return int(d / time.Millisecond)
}
