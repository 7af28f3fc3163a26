package dispatch

import "github.com/flowhaven/ofcore/pkg/ofp"

// Command is a listener's verdict on whether dispatch should continue to the
// next registered listener for this message.
type Command int

const (
	Continue Command = iota
	Stop
)

func (c Command) String() string {
	if c == Stop {
		return "STOP"
	}
	return "CONTINUE"
}

// Listener receives one OpenFlow message of a type it registered for.
// Returning Stop short-circuits the remaining listeners in this dispatch's
// total order; it never affects listeners registered for other message
// types.
type Listener interface {
	Receive(sw *ofp.Switch, msg ofp.Message, ctx *DispatchContext) Command
}

// SwitchFilter is an optional capability a Listener can implement to skip
// messages from switches it has no interest in, without the dispatcher
// needing any switch-selection logic of its own.
type SwitchFilter interface {
	IsInterested(sw *ofp.Switch) bool
}

// SwitchListener observes switch lifecycle and port-state Updates.
type SwitchListener interface {
	SwitchAdded(sw *ofp.Switch)
	SwitchRemoved(sw *ofp.Switch)
	SwitchPortChanged(dpid uint64)
}

// HAListener observes effective HA role transitions, in the same total
// order every registered HAListener sees every other transition.
type HAListener interface {
	RoleChanged(oldRole, newRole ofp.Role, description string)
}

// NodeIPListener observes controller-cluster membership changes.
type NodeIPListener interface {
	ControllerNodeIPsChanged(current, added, removed map[string]string)
}
