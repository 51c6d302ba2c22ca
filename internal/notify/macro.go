package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/fichtner/apinger/internal/config"
	"github.com/fichtner/apinger/internal/target"
)

// Context carries everything a %-token in a command or subject string can
// reference.
type Context struct {
	Target          *target.Target
	Alarm           *config.AlarmConfig // nil when no alarm is associated
	Polarity        int
	TimestampFormat string
	Now             time.Time
}

// Substitute expands every recognized %-token in s. An empty or nil
// input yields the empty string, but a non-empty input with no '%' token
// is returned unchanged rather than reduced to "".
func Substitute(s string, ctx Context) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsRune(s, '%') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		b.WriteString(expand(s[i], ctx))
	}
	return b.String()
}

func expand(token byte, ctx Context) string {
	t := ctx.Target
	switch token {
	case 't':
		return t.Name
	case 'T':
		return t.Description
	case 'a':
		if ctx.Alarm != nil {
			return ctx.Alarm.Name
		}
		return "?"
	case 'A':
		if ctx.Alarm == nil {
			return "?"
		}
		switch ctx.Alarm.Type {
		case config.AlarmDown:
			return "down"
		case config.AlarmLoss:
			return "loss"
		case config.AlarmDelay:
			return "delay"
		default:
			return "unknown"
		}
	case 'r':
		switch {
		case ctx.Polarity < 0:
			return "alarm canceled (config reload)"
		case ctx.Polarity == 0:
			return "alarm canceled"
		default:
			return "ALARM"
		}
	case 'p':
		return fmt.Sprintf("%d", t.LastSent)
	case 'P':
		return fmt.Sprintf("%d", t.Received)
	case 'l':
		if v, known := t.AvgLoss(); known {
			return fmt.Sprintf("%0.1f%%", v)
		}
		return "n/a"
	case 'd':
		if v, known := t.AvgDelay(); known {
			return fmt.Sprintf("%0.3fms", v)
		}
		return "n/a"
	case 's':
		return ctx.Now.Format(ctx.TimestampFormat)
	case '%':
		return "%"
	default:
		return ""
	}
}

// ReportLine renders the report line piped to pipe_on/pipe_off:
// "name|description|last_sent+1|received|last_received_seconds|", then
// "avg_delay_ms|" when the average delay is known, then avg_loss_pct when
// the average loss is known. Unknown trailing fields are omitted; every
// field except the loss is followed by '|', so the line ends in '|' unless
// the loss is known.
func ReportLine(t *target.Target) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%d|%d|", t.Name, t.Description, t.LastSent+1, t.Received, t.LastReceivedTime.Sec)
	if v, known := t.AvgDelay(); known {
		fmt.Fprintf(&b, "%4.3fms|", v)
	}
	if v, known := t.AvgLoss(); known {
		fmt.Fprintf(&b, "%5.1f%%", v)
	}
	return b.String()
}
