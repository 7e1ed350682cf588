package metrics

import (
	"github.com/smazurov/frontman/internal/events"
	"github.com/smazurov/frontman/internal/process"
)

// Subscribe feeds the metrics from bus. The returned function unsubscribes.
func Subscribe(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.PhaseChangedEvent) {
			SetPhase(e.Identifier, e.To)
			if e.From == string(process.PhaseStarting) && e.To == string(process.PhaseRunning) {
				ObserveStartDuration(e.Identifier, e.Elapsed)
			}
		}),
		bus.Subscribe(func(e events.ReloadedEvent) {
			IncReload(e.Identifier, e.Error != "")
		}),
		bus.Subscribe(func(e events.ProcessExitedEvent) {
			IncExit(e.Identifier)
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
