package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/fichtner/apinger/internal/apitime"
)

// TracePayloadLen is the on-wire size of TracePayload in bytes:
// 4 (timestamp seconds) + 4 (timestamp microseconds) + 4 (target handle) +
// 4 (full 32-bit sequence).
const TracePayloadLen = 16

// TracePayload is embedded in every echo-request and echoed back verbatim
// by the remote stack. It carries enough information for the receiver to
// demultiplex the reply back to the originating Target and sequence
// without keeping per-sequence server-side state of its own.
//
// TargetHandle is an opaque identifier the Target Registry hands out and
// can resolve back to a *target.Target on reply; it is a registry-assigned
// uint32, not a pointer, so the payload stays stable across reconcile.
type TracePayload struct {
	Timestamp    apitime.Timeval
	TargetHandle uint32
	Seq          uint32
}

// Marshal encodes the trace payload as TracePayloadLen opaque bytes.
func (p TracePayload) Marshal() []byte {
	buf := make([]byte, TracePayloadLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.Timestamp.Sec))
	binary.BigEndian.PutUint32(buf[4:8], uint32(p.Timestamp.Usec))
	binary.BigEndian.PutUint32(buf[8:12], p.TargetHandle)
	binary.BigEndian.PutUint32(buf[12:16], p.Seq)
	return buf
}

// UnmarshalTracePayload decodes a trace payload previously produced by
// Marshal. It returns an error if b is shorter than TracePayloadLen.
func UnmarshalTracePayload(b []byte) (TracePayload, error) {
	if len(b) < TracePayloadLen {
		return TracePayload{}, fmt.Errorf("wire: trace payload too short: %d < %d", len(b), TracePayloadLen)
	}
	return TracePayload{
		Timestamp: apitime.Timeval{
			Sec:  int64(binary.BigEndian.Uint32(b[0:4])),
			Usec: int64(binary.BigEndian.Uint32(b[4:8])),
		},
		TargetHandle: binary.BigEndian.Uint32(b[8:12]),
		Seq:          binary.BigEndian.Uint32(b[12:16]),
	}, nil
}
