package daemon

import "github.com/anthropic/lifeos/pkg/metrics"

// State is the daemon lifecycle state.
type State string

const (
	Starting State = "STARTING"
	Running  State = "RUNNING"
	Degraded State = "DEGRADED"
	Stopping State = "STOPPING"
	Stopped  State = "STOPPED"
)

var allStates = []string{
	string(Starting), string(Running), string(Degraded), string(Stopping), string(Stopped),
}

// setState records s and mirrors it to the state gauge. Once STOPPING the
// tick outcome can no longer move the daemon back to RUNNING or DEGRADED.
func (d *Daemon) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if (d.state == Stopping || d.state == Stopped) && (s == Running || s == Degraded) {
		return
	}
	d.state = s
	metrics.UpdateDaemonState(string(s), allStates)
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
