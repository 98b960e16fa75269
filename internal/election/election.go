// Package election implements MasterElector: it registers this node's
// identity as ephemeral coordinator membership, watches the cluster for
// membership changes, and notifies a Registry of the deterministically
// elected master (SPEC_FULL.md §4.2).
package election

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"schemaregistry/internal/coordinator"
	"schemaregistry/internal/identity"
)

// MasterSetter is the subset of Registry the elector drives. Registry
// implements it; tests can supply a fake.
type MasterSetter interface {
	SetMaster(id *identity.Identity)
}

// Config controls this node's identity and how long its membership lease
// lives before it must be refreshed.
type Config struct {
	Self        identity.Identity
	LeaseTTL    time.Duration
	RefreshTick time.Duration
}

// Elector registers Self as an ephemeral cluster member, watches every
// member's liveness, and calls Registry.SetMaster whenever the deterministic
// winner among eligible members changes.
type Elector struct {
	coord    coordinator.Coordinator
	registry MasterSetter
	cfg      Config

	mu       sync.Mutex
	members  map[string]identity.Identity
	current  *identity.Identity
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closeErr error
}

// New builds an Elector. Run starts it; Close stops it and deregisters.
func New(coord coordinator.Coordinator, registry MasterSetter, cfg Config) *Elector {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.RefreshTick <= 0 {
		cfg.RefreshTick = cfg.LeaseTTL / 3
	}
	return &Elector{
		coord:    coord,
		registry: registry,
		cfg:      cfg,
		members:  make(map[string]identity.Identity),
	}
}

// Run registers this node's membership, primes the member set from whatever
// is already known, and starts the background watch/refresh goroutines. It
// returns once the initial registration and an initial election pass
// complete.
func (e *Elector) Run(ctx context.Context) error {
	if err := e.coord.EnsureNamespace(ctx); err != nil {
		return err
	}

	value, err := e.cfg.Self.Marshal()
	if err != nil {
		return err
	}
	if err := e.coord.Register(ctx, e.cfg.Self.String(), value, e.cfg.LeaseTTL); err != nil {
		return err
	}

	e.mu.Lock()
	e.members[e.cfg.Self.String()] = e.cfg.Self
	e.mu.Unlock()
	e.elect()

	events, err := e.coord.Watch(ctx)
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(2)
	go e.watchLoop(watchCtx, events)
	go e.refreshLoop(watchCtx)

	return nil
}

func (e *Elector) watchLoop(ctx context.Context, events <-chan coordinator.MembershipEvent) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.applyEvent(ev)
		}
	}
}

func (e *Elector) applyEvent(ev coordinator.MembershipEvent) {
	e.mu.Lock()
	if ev.Removed {
		delete(e.members, ev.MemberID)
	} else {
		id, err := identity.Unmarshal(ev.Value)
		if err != nil {
			e.mu.Unlock()
			slog.Warn("dropping malformed membership entry", "member", ev.MemberID, "error", err)
			return
		}
		e.members[ev.MemberID] = id
	}
	e.mu.Unlock()
	e.elect()
}

func (e *Elector) refreshLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.RefreshTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			value, err := e.cfg.Self.Marshal()
			if err != nil {
				slog.Error("failed to marshal identity for lease refresh", "error", err)
				continue
			}
			if err := e.coord.Register(ctx, e.cfg.Self.String(), value, e.cfg.LeaseTTL); err != nil {
				slog.Warn("failed to refresh membership lease", "error", err)
			}
		}
	}
}

// elect recomputes the winner among eligible members under the deterministic
// total order (lowest host:port) and, if it changed, notifies the registry.
func (e *Elector) elect() {
	e.mu.Lock()
	var winner *identity.Identity
	for _, id := range e.members {
		if !id.Eligible {
			continue
		}
		if winner == nil || id.Less(*winner) {
			w := id
			winner = &w
		}
	}

	changed := (winner == nil) != (e.current == nil)
	if !changed && winner != nil && e.current != nil {
		changed = !winner.Equal(*e.current)
	}
	e.current = winner
	e.mu.Unlock()

	if changed {
		if winner != nil {
			slog.Info("master election result", "master", winner.String())
		} else {
			slog.Warn("master election result: no eligible master")
		}
		e.registry.SetMaster(winner)
	}
}

// Current returns the currently elected master, or nil if none.
func (e *Elector) Current() *identity.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Close deregisters this node's membership and stops the background loops.
func (e *Elector) Close(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	return e.coord.Deregister(ctx, e.cfg.Self.String())
}
