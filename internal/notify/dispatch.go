package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/fichtner/apinger/internal/config"
	"github.com/fichtner/apinger/internal/target"
)

// Dispatcher runs the pipe_on/off and command_on/off collaborators for a
// dispatched Entry.
type Dispatcher struct {
	log             *slog.Logger
	timestampFormat string
	now             func() time.Time
}

// NewDispatcher constructs a Dispatcher. timestampFormat feeds the %s
// macro; now defaults to time.Now.
func NewDispatcher(log *slog.Logger, timestampFormat string) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{log: log, timestampFormat: timestampFormat, now: time.Now}
}

// Dispatch runs e's on/off collaborators. A non-zero exit status or
// abnormal termination is logged and never retried — errors are never
// returned to the caller, only logged.
func (d *Dispatcher) Dispatch(ctx context.Context, e Entry) {
	d.dispatch(ctx, e.Target, e.Alarm, e.Polarity)
}

// DispatchImmediate runs a transition's on/off collaborators directly,
// bypassing the combine queue — used for repeats and for polarity −1
// ("canceled by reload").
func (d *Dispatcher) DispatchImmediate(ctx context.Context, t *target.Target, a config.AlarmConfig, polarity int) {
	d.dispatch(ctx, t, a, polarity)
}

func (d *Dispatcher) dispatch(ctx context.Context, t *target.Target, a config.AlarmConfig, polarity int) {
	mctx := Context{Target: t, Alarm: &a, Polarity: polarity, TimestampFormat: d.timestampFormat, Now: d.now()}

	pipeCmd := a.PipeOff
	cmdCmd := a.CommandOff
	if polarity > 0 {
		pipeCmd = a.PipeOn
		cmdCmd = a.CommandOn
	}

	if pipeCmd != "" {
		d.runPipe(ctx, t, a, Substitute(pipeCmd, mctx))
	}
	if cmdCmd != "" {
		d.runCommand(ctx, t, a, Substitute(cmdCmd, mctx))
	}
}

func (d *Dispatcher) runPipe(ctx context.Context, t *target.Target, a config.AlarmConfig, command string) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		d.log.Warn("notify: open pipe stdin", "command", command, "error", err)
		return
	}
	if err := cmd.Start(); err != nil {
		d.log.Warn("notify: popen failed", "command", command, "error", err)
		return
	}
	line := ReportLine(t)
	if _, err := stdin.Write([]byte(line + "\n")); err != nil {
		d.log.Debug("notify: write report line", "error", err)
	}
	_ = stdin.Close()
	if err := cmd.Wait(); err != nil {
		d.log.Warn("notify: piped command failed", "alarm", a.Name, "target", t.Name, "command", command, "error", err)
	}
}

func (d *Dispatcher) runCommand(ctx context.Context, t *target.Target, a config.AlarmConfig, command string) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	if err := cmd.Run(); err != nil {
		d.log.Warn("notify: command failed", "alarm", a.Name, "target", t.Name, "command", command, "error", err)
	}
}
