package dispatch

import "github.com/flowhaven/ofcore/pkg/ofp"

// UpdateKind discriminates the Update tagged union. Every variant is
// delivered to its own listener set, in FIFO order, by the single draining
// worker — never fanned out concurrently.
type UpdateKind int

const (
	SwitchAdded UpdateKind = iota
	SwitchRemoved
	SwitchPortChanged
	HARoleChanged
	ControllerNodeIPsChanged
)

func (k UpdateKind) String() string {
	switch k {
	case SwitchAdded:
		return "SWITCH_ADDED"
	case SwitchRemoved:
		return "SWITCH_REMOVED"
	case SwitchPortChanged:
		return "SWITCH_PORT_CHANGED"
	case HARoleChanged:
		return "HA_ROLE_CHANGED"
	case ControllerNodeIPsChanged:
		return "CONTROLLER_NODE_IPS_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// Update is one entry on the bounded FIFO queue the dispatch worker drains.
// Only the fields relevant to Kind are populated.
type Update struct {
	Kind UpdateKind

	// SwitchAdded, SwitchRemoved
	Switch *ofp.Switch

	// SwitchPortChanged
	DPID uint64

	// HARoleChanged
	OldRole     ofp.Role
	NewRole     ofp.Role
	Description string

	// ControllerNodeIPsChanged
	Current map[string]string
	Added   map[string]string
	Removed map[string]string
}
