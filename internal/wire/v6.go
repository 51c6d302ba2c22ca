package wire

import (
	"fmt"
	"net"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

// ICMPv6 type constants.
const (
	ICMPv6TypeEchoRequest = 128
	ICMPv6TypeEchoReply   = 129
)

// EncodeV6 builds an ICMPv6 echo-request message using golang.org/x/net/icmp
// (the idiomatic Go way to frame ICMPv6; golang.org/x/sys/unix has no
// convenience layer for it the way it does for raw IPv4 ICMP sockets).
//
// When src/dst are both non-nil, the checksum is computed here over the
// IPv6 pseudo-header plus payload. When either is nil the caller is
// relying on the kernel's checksum offload (the IPV6_CHECKSUM socket option
// internal/rawsock sets) and the checksum field is left zero for the kernel
// to fill in.
func EncodeV6(id uint16, seq uint32, payload TracePayload, src, dst net.IP) ([]byte, error) {
	msg := &icmp.Message{
		Type: ipv6.ICMPTypeEchoRequest,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(id),
			Seq:  int(seq % 65536),
			Data: payload.Marshal(),
		},
	}

	var psh []byte
	if src != nil && dst != nil {
		psh = icmp.IPv6PseudoHeader(src, dst)
	}
	b, err := msg.Marshal(psh)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal icmpv6 echo: %w", err)
	}
	return b, nil
}

// DecodedV6Reply is the result of successfully decoding an ICMPv6 payload
// (no IPv6 header framing: a raw ICMPv6 socket delivers ICMPv6 messages
// without the IP header, unlike a raw IPv4 SOCK_RAW socket).
type DecodedV6Reply struct {
	ID      uint16
	ICMPSeq uint16
	Payload TracePayload
}

// DecodeV6 parses an ICMPv6 message body and returns the embedded trace
// payload iff it is a well-formed echo-reply addressed to us, applying the
// same identifier/sequence validation as DecodeV4.
func DecodeV6(b []byte, wantID uint16) (DecodedV6Reply, error) {
	msg, err := icmp.ParseMessage(58 /* ipv6.ICMPTypeEchoReply protocol number */, b)
	if err != nil {
		return DecodedV6Reply{}, &DropError{Reason: fmt.Sprintf("parse icmpv6 message: %v", err)}
	}
	if msg.Type != ipv6.ICMPTypeEchoReply {
		return DecodedV6Reply{}, &DropError{Reason: fmt.Sprintf("not an echo-reply (type=%v)", msg.Type), AlienType: true}
	}
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok {
		return DecodedV6Reply{}, &DropError{Reason: "echo-reply body has unexpected type"}
	}
	if uint16(echo.ID) != wantID {
		return DecodedV6Reply{}, &DropError{Reason: "alien identifier", AlienID: true}
	}
	if len(echo.Data) != TracePayloadLen {
		return DecodedV6Reply{}, &DropError{Reason: fmt.Sprintf("trace payload length mismatch: %d != %d", len(echo.Data), TracePayloadLen)}
	}
	tp, err := UnmarshalTracePayload(echo.Data)
	if err != nil {
		return DecodedV6Reply{}, &DropError{Reason: err.Error()}
	}
	icmpSeq := uint16(echo.Seq)
	if icmpSeq != uint16(tp.Seq%65536) {
		return DecodedV6Reply{}, &DropError{Reason: "sequence number mismatch"}
	}
	return DecodedV6Reply{ID: wantID, ICMPSeq: icmpSeq, Payload: tp}, nil
}
