package launcher

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Signals end a foreground run. Every one of them stops the server before frontman exits;
// left to their default action, SIGHUP and SIGQUIT would orphan it.
var Signals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

// SignalTrap cancels a context on the first of Signals and remembers which one arrived.
type SignalTrap struct {
	ch     chan os.Signal
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	mu       sync.Mutex
	received os.Signal
}

// TrapSignals returns a context that is cancelled when one of Signals arrives. Signals stay
// trapped until Stop, so a second Ctrl-C cannot cut the shutdown short.
func TrapSignals(parent context.Context) (context.Context, *SignalTrap) {
	ctx, cancel := context.WithCancel(parent)
	t := &SignalTrap{
		ch:     make(chan os.Signal, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	signal.Notify(t.ch, Signals...)

	go func() {
		select {
		case sig := <-t.ch:
			t.mu.Lock()
			t.received = sig
			t.mu.Unlock()
			cancel()
		case <-ctx.Done():
		case <-t.done:
		}
	}()
	return ctx, t
}

// Received returns the signal that cancelled the context, or nil.
func (t *SignalTrap) Received() os.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.received
}

// Stop restores default signal handling and releases the context.
func (t *SignalTrap) Stop() {
	t.once.Do(func() {
		signal.Stop(t.ch)
		close(t.done)
		t.cancel()
	})
}
