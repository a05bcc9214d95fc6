package plugin

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// State is the lifecycle state of an installed plugin.
type State string

const (
	// StateDiscovered - found on disk, no enable/disable decision applied yet.
	StateDiscovered State = "discovered"
	// StateEnabled - configuration says enabled; code loaded when possible.
	StateEnabled State = "enabled"
	// StateDisabled - configuration says disabled; code unloaded.
	StateDisabled State = "disabled"
	// StateUninstalled - removed from disk and configuration. Terminal.
	StateUninstalled State = "uninstalled"
)

// Lifecycle events.
const (
	eventEnable    = "ENABLE"
	eventDisable   = "DISABLE"
	eventUninstall = "UNINSTALL"
)

// lifecycleContext carries no data; the machine only tracks which state a
// plugin is in.
type lifecycleContext struct{}

// lifecycle wraps a per-plugin state machine:
// discovered → enabled ⇄ disabled → uninstalled (terminal).
type lifecycle struct {
	interp *statekit.Interpreter[lifecycleContext]
}

// newLifecycle builds and starts a lifecycle machine in the discovered state.
func newLifecycle() (*lifecycle, error) {
	machine, err := statekit.NewMachine[lifecycleContext]("plugin-lifecycle").
		WithInitial(statekit.StateID(StateDiscovered)).
		WithContext(lifecycleContext{}).
		State(statekit.StateID(StateDiscovered)).
		On(eventEnable).Target(statekit.StateID(StateEnabled)).
		On(eventDisable).Target(statekit.StateID(StateDisabled)).
		On(eventUninstall).Target(statekit.StateID(StateUninstalled)).Done().
		State(statekit.StateID(StateEnabled)).
		On(eventDisable).Target(statekit.StateID(StateDisabled)).
		On(eventUninstall).Target(statekit.StateID(StateUninstalled)).Done().
		State(statekit.StateID(StateDisabled)).
		On(eventEnable).Target(statekit.StateID(StateEnabled)).
		On(eventUninstall).Target(statekit.StateID(StateUninstalled)).Done().
		State(statekit.StateID(StateUninstalled)).Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("building lifecycle machine: %w", err)
	}

	interp := statekit.NewInterpreter(machine)
	interp.Start()
	return &lifecycle{interp: interp}, nil
}

func (l *lifecycle) signal(event string) {
	l.interp.Send(statekit.Event{Type: statekit.EventType(event)})
}

func (l *lifecycle) state() State {
	return State(l.interp.State().Value)
}

// stop tears the interpreter down; used when a plugin is uninstalled or its
// record is abandoned by a rescan.
func (l *lifecycle) stop() {
	l.interp.Stop()
}
