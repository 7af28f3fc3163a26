// Package ofp10 is a minimal OpenFlow 1.0 wire codec: enough framing and
// per-type body layout to drive the handshake and the Nicira role-request
// extension. It is the concrete ofp.MessageFactory the core's packages
// declare against but never construct themselves.
package ofp10

import (
	"encoding/binary"
	"fmt"

	"github.com/flowhaven/ofcore/pkg/ofp"
)

// Wire message type codes (OFPT_*), OpenFlow 1.0.
const (
	wireHello             = 0
	wireError             = 1
	wireEchoRequest       = 2
	wireEchoReply         = 3
	wireVendor            = 4
	wireFeaturesRequest   = 5
	wireGetConfigRequest  = 7
	wireGetConfigReply    = 8
	wireFeaturesReply     = 6
	wireSetConfig         = 9
	wirePacketIn          = 10
	wireStatsRequest      = 16
	wireStatsReply        = 17
)

// OFPET_BAD_REQUEST / OFPBRC_BAD_VENDOR: the (type, code) pair a switch
// answers with when it rejects an unrecognized vendor extension, used to
// detect "role request not supported".
const (
	errTypeBadRequest = 1
	errCodeBadVendor  = 3
)

const headerLen = 8

func header(typ byte, xid uint32, bodyLen int) []byte {
	b := make([]byte, headerLen+bodyLen)
	b[0] = 1 // version
	b[1] = typ
	binary.BigEndian.PutUint16(b[2:4], uint16(headerLen+bodyLen))
	binary.BigEndian.PutUint32(b[4:8], xid)
	return b
}

func wireToCoreType(w byte) ofp.MessageType {
	switch w {
	case wireHello:
		return ofp.TypeHello
	case wireError:
		return ofp.TypeError
	case wireEchoRequest:
		return ofp.TypeEchoRequest
	case wireEchoReply:
		return ofp.TypeEchoReply
	case wireVendor:
		return ofp.TypeVendor
	case wireFeaturesRequest:
		return ofp.TypeFeaturesRequest
	case wireFeaturesReply:
		return ofp.TypeFeaturesReply
	case wireSetConfig:
		return ofp.TypeSetConfig
	case wireGetConfigRequest:
		return ofp.TypeGetConfigRequest
	case wireGetConfigReply:
		return ofp.TypeGetConfigReply
	case wireStatsRequest:
		return ofp.TypeStatsRequest
	case wireStatsReply:
		return ofp.TypeStatsReply
	case wirePacketIn:
		return ofp.TypePacketIn
	default:
		return ofp.TypeOther
	}
}

// message is the concrete decoded value. It carries every field any
// supported type might need; fields irrelevant to a given Type are zero.
type message struct {
	typ      ofp.MessageType
	xid      uint32
	dpid     uint64
	vendorID uint32
	subtype  uint32
	nxRole   uint32
	errType  uint16
	errCode  uint16
	data     []byte
}

func (m *message) Type() ofp.MessageType { return m.typ }
func (m *message) Xid() uint32           { return m.xid }
func (m *message) DPID() uint64          { return m.dpid }
func (m *message) VendorID() uint32      { return m.vendorID }
func (m *message) Subtype() uint32       { return m.subtype }
func (m *message) NxRole() uint32        { return m.nxRole }
func (m *message) Data() []byte          { return m.data }

func (m *message) IsVendorNotSupported() bool {
	return m.errType == errTypeBadRequest && m.errCode == errCodeBadVendor
}

// Factory implements ofp.MessageFactory over this package's wire format.
type Factory struct{}

func (Factory) NewHello(xid uint32) ofp.Message {
	return &message{typ: ofp.TypeHello, xid: xid}
}

func (Factory) NewEchoReply(xid uint32) ofp.Message {
	return &message{typ: ofp.TypeEchoReply, xid: xid}
}

func (Factory) NewFeaturesRequest(xid uint32) ofp.Message {
	return &message{typ: ofp.TypeFeaturesRequest, xid: xid}
}

func (Factory) NewSetConfig(xid uint32) ofp.Message {
	return &message{typ: ofp.TypeSetConfig, xid: xid}
}

func (Factory) NewGetConfigRequest(xid uint32) ofp.Message {
	return &message{typ: ofp.TypeGetConfigRequest, xid: xid}
}

func (Factory) NewDescriptionStatsRequest(xid uint32) ofp.Message {
	return &message{typ: ofp.TypeStatsRequest, xid: xid}
}

// NewRoleRequest builds a Nicira vendor message with subtype
// ofp.NxRoleRequestSubtype; it always emits a request, never a reply.
func (Factory) NewRoleRequest(xid uint32, role ofp.Role) ofp.Message {
	return &message{
		typ: ofp.TypeVendor, xid: xid,
		vendorID: ofp.NxVendorID, subtype: ofp.NxRoleRequestSubtype,
		nxRole: ofp.NxRoleValue(role),
	}
}

// Parse decodes the first complete message at the front of b. A nil
// message with zero consumed and a nil error means the header or body is
// not fully buffered yet.
func (Factory) Parse(b []byte) (ofp.Message, int, error) {
	if len(b) < headerLen {
		return nil, 0, nil
	}
	if b[0] != 1 {
		return nil, 0, fmt.Errorf("ofp10: unsupported wire version %d", b[0])
	}
	totalLen := int(binary.BigEndian.Uint16(b[2:4]))
	if totalLen < headerLen {
		return nil, 0, fmt.Errorf("ofp10: message length %d shorter than header", totalLen)
	}
	if len(b) < totalLen {
		return nil, 0, nil
	}

	xid := binary.BigEndian.Uint32(b[4:8])
	body := b[headerLen:totalLen]
	m := &message{typ: wireToCoreType(b[1]), xid: xid}

	switch b[1] {
	case wireFeaturesReply:
		if len(body) < 8 {
			return nil, 0, fmt.Errorf("ofp10: features reply body too short")
		}
		m.dpid = binary.BigEndian.Uint64(body[0:8])
	case wireVendor:
		if len(body) < 8 {
			return nil, 0, fmt.Errorf("ofp10: vendor body too short")
		}
		m.vendorID = binary.BigEndian.Uint32(body[0:4])
		m.subtype = binary.BigEndian.Uint32(body[4:8])
		if len(body) >= 12 {
			m.nxRole = binary.BigEndian.Uint32(body[8:12])
		}
	case wireError:
		if len(body) < 4 {
			return nil, 0, fmt.Errorf("ofp10: error body too short")
		}
		m.errType = binary.BigEndian.Uint16(body[0:2])
		m.errCode = binary.BigEndian.Uint16(body[2:4])
	case wirePacketIn:
		// buffer_id(4) + total_len(2) + in_port(2) + reason(1) + pad(1)
		if len(body) < 10 {
			return nil, 0, fmt.Errorf("ofp10: packet-in body too short")
		}
		m.data = append([]byte(nil), body[10:]...)
	}

	return m, totalLen, nil
}

// Encode serializes m for writing to the wire. Only the message shapes
// this factory itself constructs (the controller-to-switch direction) are
// supported; replies and errors arrive pre-encoded over the wire and are
// never re-encoded.
func (Factory) Encode(msg ofp.Message) ([]byte, error) {
	m, ok := msg.(*message)
	if !ok {
		return nil, fmt.Errorf("ofp10: cannot encode message of type %T", msg)
	}

	switch m.typ {
	case ofp.TypeHello:
		return header(wireHello, m.xid, 0), nil
	case ofp.TypeEchoReply:
		return header(wireEchoReply, m.xid, 0), nil
	case ofp.TypeFeaturesRequest:
		return header(wireFeaturesRequest, m.xid, 0), nil
	case ofp.TypeSetConfig:
		body := make([]byte, 4) // flags(2) + miss_send_len(2), zero value: fragment normally, no miss-send truncation
		return append(header(wireSetConfig, m.xid, len(body)), body...), nil
	case ofp.TypeGetConfigRequest:
		return header(wireGetConfigRequest, m.xid, 0), nil
	case ofp.TypeStatsRequest:
		body := make([]byte, 4) // stats type OFPST_DESC(0), flags(2)=0
		return append(header(wireStatsRequest, m.xid, len(body)), body...), nil
	case ofp.TypeVendor:
		body := make([]byte, 12)
		binary.BigEndian.PutUint32(body[0:4], m.vendorID)
		binary.BigEndian.PutUint32(body[4:8], m.subtype)
		binary.BigEndian.PutUint32(body[8:12], m.nxRole)
		return append(header(wireVendor, m.xid, len(body)), body...), nil
	default:
		return nil, fmt.Errorf("ofp10: cannot encode message type %v", m.typ)
	}
}
