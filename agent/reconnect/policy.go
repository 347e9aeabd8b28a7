/*
Package reconnect decides whether the controller connection should be
rebuilt. Decide is a pure function of a snapshot of the agent's state so that
every branch can be checked in isolation; the rest of the package gathers the
inputs it needs: the cached connect test outcome, the connect test itself and
the hosts record for the controller's name.
*/
package reconnect

type Decision int

const (
	Keep Decision = iota
	Reconnect
	Halt
)

func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Reconnect:
		return "reconnect"
	case Halt:
		return "halt"
	default:
		return "unknown"
	}
}

type Inputs struct {
	// Config could not be read; this alone asks for a reconnect
	ConfigErr error

	CloudManaged    bool
	SupervisorAlive bool
	Ready           bool
	Connected       bool
	PersistedStatus string

	AccountInvalid bool
	IPLocked       bool
	CertInvalid    bool

	// Address the live connection was dialed on and what the hosts record
	// currently says for the controller's name
	ObservedIP string
	HostsIP    string
}

func Decide(in Inputs) Decision {
	switch {
	case in.ConfigErr != nil:
		return Reconnect
	case !in.CloudManaged:
		return Keep
	case !in.SupervisorAlive:
		return Reconnect
	case in.Ready:
		// a bad reconfiguration must not disturb a working connection
		return Keep
	case in.AccountInvalid, in.IPLocked, in.CertInvalid:
		return Halt
	case !in.Connected:
		return Reconnect
	case in.PersistedStatus == "ready", in.PersistedStatus == "connecting":
		return Keep
	case in.ObservedIP != in.HostsIP:
		return Reconnect
	default:
		return Keep
	}
}
