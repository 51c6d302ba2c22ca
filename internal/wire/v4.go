package wire

import (
	"encoding/binary"
	"fmt"
)

// ICMPv4 type/code constants.
const (
	ICMPv4TypeEchoRequest = 8
	ICMPv4TypeEchoReply   = 0
)

const icmpv4HeaderLen = 8 // type, code, checksum, id, seq

// EncodeV4 builds a complete ICMPv4 echo-request message: an 8-byte ICMP
// header (type=ECHO, code=0, id, seq%65536) followed by the trace payload,
// with the checksum computed over the whole message and written back in.
func EncodeV4(id uint16, seq uint32, payload TracePayload) []byte {
	body := payload.Marshal()
	pkt := make([]byte, icmpv4HeaderLen+len(body))
	pkt[0] = ICMPv4TypeEchoRequest
	pkt[1] = 0
	pkt[2], pkt[3] = 0, 0
	binary.BigEndian.PutUint16(pkt[4:6], id)
	binary.BigEndian.PutUint16(pkt[6:8], uint16(seq%65536))
	copy(pkt[icmpv4HeaderLen:], body)
	binary.BigEndian.PutUint16(pkt[2:4], Checksum(pkt))
	return pkt
}

// DecodedV4Reply is the result of successfully decoding an inbound IPv4
// packet as an ICMP echo-reply addressed to us.
type DecodedV4Reply struct {
	ID      uint16
	ICMPSeq uint16
	Payload TracePayload
}

// DecodeV4 parses a raw IPv4 packet (as delivered by a SOCK_RAW ICMP
// socket, IPv4 header included) and returns the embedded trace payload iff
// it is a well-formed ICMPv4 echo-reply whose trace-payload sequence agrees
// with the on-wire 16-bit ICMP sequence.
//
// Errors returned are always of type *DropError so callers can
// distinguish "debug-log and drop" conditions from genuine I/O failures,
// which never originate here.
func DecodeV4(pkt []byte, wantID uint16) (DecodedV4Reply, error) {
	if len(pkt) < 20 {
		return DecodedV4Reply{}, &DropError{Reason: "packet shorter than an IPv4 header"}
	}
	version := pkt[0] >> 4
	ihl := int(pkt[0]&0x0f) * 4
	if version != 4 {
		return DecodedV4Reply{}, &DropError{Reason: fmt.Sprintf("not IPv4 (version=%d)", version)}
	}
	if ihl < 20 {
		return DecodedV4Reply{}, &DropError{Reason: fmt.Sprintf("IHL too small: %d", ihl)}
	}
	if len(pkt) < ihl+icmpv4HeaderLen {
		return DecodedV4Reply{}, &DropError{Reason: "total length < header + 8"}
	}

	icmp := pkt[ihl:]
	if icmp[0] != ICMPv4TypeEchoReply {
		return DecodedV4Reply{}, &DropError{Reason: fmt.Sprintf("not an echo-reply (type=%d)", icmp[0]), AlienType: true}
	}

	id := binary.BigEndian.Uint16(icmp[4:6])
	if id != wantID {
		// Echo-reply addressed to another process sharing the same raw
		// socket family; the caller re-reads the socket.
		return DecodedV4Reply{}, &DropError{Reason: "alien identifier", AlienID: true}
	}

	payload := icmp[icmpv4HeaderLen:]
	if len(payload) != TracePayloadLen {
		return DecodedV4Reply{}, &DropError{Reason: fmt.Sprintf("trace payload length mismatch: %d != %d", len(payload), TracePayloadLen)}
	}

	tp, err := UnmarshalTracePayload(payload)
	if err != nil {
		return DecodedV4Reply{}, &DropError{Reason: err.Error()}
	}

	icmpSeq := binary.BigEndian.Uint16(icmp[6:8])
	if icmpSeq != uint16(tp.Seq%65536) {
		return DecodedV4Reply{}, &DropError{Reason: "sequence number mismatch"}
	}

	return DecodedV4Reply{ID: id, ICMPSeq: icmpSeq, Payload: tp}, nil
}

// DropError marks a decode failure that should be logged at debug level
// and dropped, not treated as a transport error.
type DropError struct {
	Reason    string
	AlienID   bool
	AlienType bool
}

func (e *DropError) Error() string { return "wire: dropped packet: " + e.Reason }
