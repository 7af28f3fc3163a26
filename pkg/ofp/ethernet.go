package ofp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortEthernetFrame is returned when a PACKET_IN payload is too short to
// contain a full Ethernet header.
var ErrShortEthernetFrame = errors.New("ofp: frame shorter than ethernet header")

// MAC is a 6-byte hardware address.
type MAC [6]byte

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// EthernetHeader is the parsed result of ParseEthernetHeader: destination
// and source MAC, EtherType, and an optional 802.1Q VLAN tag.
type EthernetHeader struct {
	DstMAC       MAC
	SrcMAC       MAC
	EtherType    uint16
	VLANID       uint16 // 0 if untagged
	VLANPriority uint8
}

const (
	vlanTPID            = 0x8100
	ethHeaderLen        = 14
	ethHeaderLenTagged  = 18
)

// ParseEthernetHeader parses the Ethernet header of a PACKET_IN payload:
// dst MAC, src MAC, EtherType, and a single 802.1Q tag if present. Anything
// beyond the header (the L3 payload) is left for listeners to parse
// themselves — flow-entry JSON and deeper protocol parsing are out of core
// scope.
func ParseEthernetHeader(data []byte) (*EthernetHeader, error) {
	if len(data) < ethHeaderLen {
		return nil, ErrShortEthernetFrame
	}
	h := &EthernetHeader{}
	copy(h.DstMAC[:], data[0:6])
	copy(h.SrcMAC[:], data[6:12])

	ethType := binary.BigEndian.Uint16(data[12:14])
	if ethType == vlanTPID {
		if len(data) < ethHeaderLenTagged {
			return nil, ErrShortEthernetFrame
		}
		tci := binary.BigEndian.Uint16(data[14:16])
		h.VLANID = tci & 0x0FFF
		h.VLANPriority = uint8(tci >> 13)
		h.EtherType = binary.BigEndian.Uint16(data[16:18])
		return h, nil
	}
	h.EtherType = ethType
	return h, nil
}
