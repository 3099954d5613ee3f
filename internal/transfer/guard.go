package transfer

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// UnloadGuard intercepts termination signals while transfers are active,
// giving the user a chance to keep the process alive instead of losing
// in-flight work. The guard is removable so it does not leak a global
// signal registration past the tracker's lifetime.
type UnloadGuard struct {
	tracker *Tracker
	confirm func(active int) bool

	sigCh chan os.Signal
	done  chan struct{}
	quit  chan struct{}
	once  sync.Once
}

// NewUnloadGuard installs a SIGINT/SIGTERM interceptor. While at least one
// transfer is active, confirm decides whether shutdown proceeds; with no
// active transfers the signal passes straight through. Done() closes when
// shutdown should proceed. Call Remove to release the registration.
func (t *Tracker) NewUnloadGuard(confirm func(active int) bool) *UnloadGuard {
	g := &UnloadGuard{
		tracker: t,
		confirm: confirm,
		sigCh:   make(chan os.Signal, 1),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}

	signal.Notify(g.sigCh, os.Interrupt, syscall.SIGTERM)
	go g.run()
	return g
}

func (g *UnloadGuard) run() {
	for {
		select {
		case <-g.quit:
			return
		case <-g.sigCh:
			if g.decide() {
				close(g.done)
				return
			}
		}
	}
}

// decide returns true when shutdown should proceed.
func (g *UnloadGuard) decide() bool {
	active := g.tracker.Counts().Active
	if active == 0 {
		return true
	}
	if g.confirm == nil {
		return true
	}
	return g.confirm(active)
}

// Done closes when a termination signal was accepted.
func (g *UnloadGuard) Done() <-chan struct{} {
	return g.done
}

// Remove releases the signal registration and stops the guard.
func (g *UnloadGuard) Remove() {
	g.once.Do(func() {
		signal.Stop(g.sigCh)
		close(g.quit)
	})
}
