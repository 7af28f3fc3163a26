package ofp

import "context"

// MessageType enumerates the OpenFlow 1.0 message types the core has to
// recognize to drive the handshake and role protocol. Application-class
// types beyond PacketIn are opaque to the core and simply forwarded.
type MessageType int

const (
	TypeHello MessageType = iota
	TypeError
	TypeEchoRequest
	TypeEchoReply
	TypeVendor
	TypeFeaturesRequest
	TypeFeaturesReply
	TypeSetConfig
	TypeGetConfigRequest
	TypeGetConfigReply
	TypeStatsRequest
	TypeStatsReply
	TypePacketIn
	TypeOther // every application-class message the core does not parse
)

func (t MessageType) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypeError:
		return "ERROR"
	case TypeEchoRequest:
		return "ECHO_REQUEST"
	case TypeEchoReply:
		return "ECHO_REPLY"
	case TypeVendor:
		return "VENDOR"
	case TypeFeaturesRequest:
		return "FEATURES_REQUEST"
	case TypeFeaturesReply:
		return "FEATURES_REPLY"
	case TypeSetConfig:
		return "SET_CONFIG"
	case TypeGetConfigRequest:
		return "GET_CONFIG_REQUEST"
	case TypeGetConfigReply:
		return "GET_CONFIG_REPLY"
	case TypeStatsRequest:
		return "STATS_REQUEST"
	case TypeStatsReply:
		return "STATS_REPLY"
	case TypePacketIn:
		return "PACKET_IN"
	default:
		return "OTHER"
	}
}

// NxVendorID is the Nicira vendor ID used by the role-request extension.
const NxVendorID uint32 = 0x00002320

// NxRoleRequestSubtype and NxRoleReplySubtype identify the vendor body as a
// role assertion rather than some other Nicira extension.
const (
	NxRoleRequestSubtype uint32 = 10
	NxRoleReplySubtype   uint32 = 11
)

// Message is the minimum surface the core needs from a decoded OpenFlow
// message. The wire codec itself — framing, marshaling, the rest of the
// OpenFlow 1.0 type space — is supplied by an external MessageFactory; this
// interface only constrains how the core invokes it.
type Message interface {
	Type() MessageType
	Xid() uint32
}

// VendorMessage is a Message carrying a vendor ID, e.g. a role request or
// reply.
type VendorMessage interface {
	Message
	VendorID() uint32
	Subtype() uint32
}

// RoleMessage is a decoded Nicira role-request or role-reply body.
type RoleMessage interface {
	VendorMessage
	NxRole() uint32
}

// ErrorMessage is a decoded OF_ERROR, used to detect "role request not
// supported" (a vendor-extension-unknown error referencing the role xid).
type ErrorMessage interface {
	Message
	IsVendorNotSupported() bool
}

// FeaturesReplyMessage carries the switch's DPID, learned during the
// handshake's WAIT_FEATURES_REPLY state.
type FeaturesReplyMessage interface {
	Message
	DPID() uint64
}

// PacketInMessage carries the raw frame bytes the dispatcher pre-parses an
// Ethernet header out of before handing the message to listeners.
type PacketInMessage interface {
	Message
	Data() []byte
}

// MessageFactory builds and parses OpenFlow wire messages. An external
// collaborator: this package only declares the shape the acceptor and role
// changer code against.
type MessageFactory interface {
	NewHello(xid uint32) Message
	NewEchoReply(xid uint32) Message
	NewFeaturesRequest(xid uint32) Message
	NewSetConfig(xid uint32) Message
	NewGetConfigRequest(xid uint32) Message
	NewDescriptionStatsRequest(xid uint32) Message
	NewRoleRequest(xid uint32, role Role) Message

	// Parse decodes one message from the front of b, returning the message,
	// the number of bytes consumed, and an error. A nil message with zero
	// bytes consumed and a nil error means more data is needed.
	Parse(b []byte) (msg Message, consumed int, err error)
	// Encode serializes a message for writing to the wire.
	Encode(m Message) ([]byte, error)
}

// Channel is the write/close handle a Switch holds on its TCP connection.
// Implemented by the acceptor's per-connection handler.
type Channel interface {
	// Write serializes and writes a message to the wire. Returns an I/O
	// error on failure; callers treat any error as fatal to the connection.
	Write(ctx context.Context, m Message) error
	// Disconnect closes the underlying connection. Idempotent.
	Disconnect()
	// RemoteAddr is the switch's TCP peer address.
	RemoteAddr() string
}
