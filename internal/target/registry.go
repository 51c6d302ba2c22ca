//go:build linux

package target

import (
	"log/slog"
	"sync"

	"github.com/fichtner/apinger/internal/apitime"
	"github.com/fichtner/apinger/internal/config"
	"github.com/fichtner/apinger/internal/rawsock"
)

// key is the (name, source_ip) identity a Registry reconciles on.
type key = [2]string

// Registry holds every currently configured Target and reconciles it
// against a new configuration snapshot on reload.
type Registry struct {
	log *slog.Logger

	mu      sync.Mutex
	order   []*Target
	byKey   map[key]*Target
	nextID  uint32
	started bool
}

// NewRegistry constructs an empty Registry. A nil logger falls back to
// slog.Default(), matching every other collaborator in this repo.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, byKey: make(map[key]*Target)}
}

// Targets returns a snapshot slice of every target currently held,
// including ones whose socket could not be opened; the main loop simply
// does not poll those.
func (r *Registry) Targets() []*Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Target, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of targets currently held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Reconcile diffs cfg's target list against the current registry contents
// and performs a three-way split: targets absent from cfg are removed
// (their active alarms canceled), targets present in both keep their
// statistics and active alarms but get rebound configuration and resized
// buffers, and targets new to cfg are resolved and added. It returns one
// PolarityCanceled Transition per active alarm on every removed target,
// for the caller to route through the notification manager and then drop
// from the combine queue.
func (r *Registry) Reconcile(cfg *config.Config, now apitime.Timeval) []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[key]config.TargetConfig, len(cfg.Targets))
	var order []key
	for _, tc := range cfg.Targets {
		k := key(tc.Key())
		if _, dup := wanted[k]; dup {
			r.log.Warn("target: duplicate target in config, keeping first", "name", tc.Name, "source_ip", tc.SourceIP)
			continue
		}
		wanted[k] = tc
		order = append(order, k)
	}

	var canceled []Transition
	newOrder := make([]*Target, 0, len(order))
	newByKey := make(map[key]*Target, len(order))

	// 1. Targets absent from the new config: cancel active alarms, close
	// sockets, drop them.
	for _, t := range r.order {
		k := key{t.Name, t.SourceIP}
		if _, ok := wanted[k]; ok {
			continue
		}
		for _, b := range t.Alarms {
			if b.Active {
				canceled = append(canceled, Transition{Target: t, Alarm: b.Cfg, Polarity: PolarityCanceled})
			}
		}
		if err := t.Close(); err != nil {
			r.log.Debug("target: close socket for removed target", "name", t.Name, "error", err)
		}
	}

	// 2 & 3. Targets present in both (rebind) or new (resolve + add), in
	// config file order.
	for _, k := range order {
		tc := wanted[k]
		if existing, ok := r.byKey[k]; ok {
			r.rebind(existing, tc, cfg)
			newOrder = append(newOrder, existing)
			newByKey[k] = existing
			continue
		}

		t, err := r.addNew(tc, cfg, now)
		if err != nil {
			r.log.Warn("target: skipping new target", "name", tc.Name, "source_ip", tc.SourceIP, "error", err)
			continue
		}
		newOrder = append(newOrder, t)
		newByKey[k] = t
	}

	r.order = newOrder
	r.byKey = newByKey
	r.started = true

	return canceled
}

func (r *Registry) addNew(tc config.TargetConfig, cfg *config.Config, now apitime.Timeval) (*Target, error) {
	r.nextID++
	t, err := New(r.nextID, tc, now)
	if err != nil {
		return nil, err
	}

	conn, err := rawsock.New(t.Family, t.Source)
	if err != nil {
		r.log.Warn("target: could not open socket, target will not be polled", "name", tc.Name, "error", err)
	} else {
		t.Conn = conn
	}

	r.bindAlarms(t, tc, cfg)
	return t, nil
}

// rebind re-points an existing target's alarm bindings and configuration
// handle to the new snapshot, resizes its rolling buffers, and preserves
// its statistics and active alarm set.
func (r *Registry) rebind(t *Target, tc config.TargetConfig, cfg *config.Config) {
	t.Resize(tc)
	r.bindAlarms(t, tc, cfg)
}

// bindAlarms synchronizes t.Alarms with tc.Alarms (a list of alarm
// names), re-pointing bindings to the new alarm configs matched by
// (name, type). Existing bindings whose (name, type) still matches keep
// their Active/repeat state; only the embedded AlarmConfig value is
// replaced. Bindings for alarms no longer listed, or whose type changed,
// are replaced or dropped.
func (r *Registry) bindAlarms(t *Target, tc config.TargetConfig, cfg *config.Config) {
	kept := make(map[string]*AlarmBinding, len(tc.Alarms))
	for _, name := range tc.Alarms {
		ac, ok := cfg.AlarmByName(name)
		if !ok {
			r.log.Warn("target: alarm referenced by target not found in config", "target", tc.Name, "alarm", name)
			continue
		}
		if b, ok := t.Alarms[name]; ok && b.Cfg.Key() == ac.Key() {
			b.Cfg = ac
			kept[name] = b
			continue
		}
		kept[name] = &AlarmBinding{Cfg: ac}
	}
	t.Alarms = kept
}
