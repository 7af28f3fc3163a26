package rolechanger

import "fmt"

// ProtocolViolationError is returned (and logged) when a role-reply or
// not-supported error arrives out of the discipline spec §4.3 requires:
// unsolicited, wrong xid, or a reply naming a different role than the first
// pending entry. The channel is always closed alongside this error; Reason
// lets a caller distinguish the three cases without the core exposing a
// distinct Update variant for them (see SPEC_FULL.md Open Question 1).
type ProtocolViolationError struct {
	DPID   uint64
	Reason string // "unsolicited" | "wrong_xid" | "wrong_role"
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("rolechanger: protocol violation on dpid %d: %s", e.DPID, e.Reason)
}

// CapabilityError is logged when a SLAVE role is requested of a switch
// that has already told us it does not support the NX role extension. The
// only safe response is to disconnect — the role cannot be enforced.
type CapabilityError struct {
	DPID uint64
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("rolechanger: dpid %d does not support nx_role, cannot enforce SLAVE", e.DPID)
}
