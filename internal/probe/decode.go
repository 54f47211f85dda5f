// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package probe reads socket lifecycle records produced by the eBPF probe.
package probe

import (
	"encoding/binary"
	"net/netip"
	"time"

	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/kernel"
)

// RecordSize is the size of one packed record emitted by the probe.
const RecordSize = 71

// Record field offsets. Integers are little endian, addresses are in
// network byte order, and the struct is packed.
const (
	offV6        = 0
	offSocket    = 1
	offRemove    = 9
	offUID       = 10
	offPID       = 14
	offSrcV4     = 18
	offSrcV6     = 22
	offSrcPort   = 38
	offDstV4     = 40
	offDstV6     = 44
	offDstPort   = 60
	offTimestamp = 62
	offProtocol  = 70
)

// ErrShortRecord is returned for records smaller than RecordSize.
var ErrShortRecord = errors.New(errors.KindValidation, "probe record too short")

// Decode parses one record. toWall converts the probe's monotonic
// timestamp to wall time; nil leaves Timestamp as the zero time.
func Decode(raw []byte, toWall func(ktime uint64) time.Time) (kernel.ProbeEvent, error) {
	if len(raw) < RecordSize {
		return kernel.ProbeEvent{}, errors.Wrapf(ErrShortRecord, errors.KindValidation, "got %d bytes", len(raw))
	}
	le := binary.LittleEndian

	ev := kernel.ProbeEvent{
		Family:     kernel.FamilyIPv4,
		Socket:     le.Uint64(raw[offSocket:]),
		Remove:     raw[offRemove] != 0,
		UID:        le.Uint32(raw[offUID:]),
		PID:        le.Uint32(raw[offPID:]),
		LocalPort:  le.Uint16(raw[offSrcPort:]),
		RemotePort: le.Uint16(raw[offDstPort:]),
		Protocol:   kernel.Protocol(raw[offProtocol]),
	}

	if raw[offV6] != 0 {
		ev.Family = kernel.FamilyIPv6
		ev.LocalAddr = netip.AddrFrom16([16]byte(raw[offSrcV6 : offSrcV6+16])).Unmap()
		ev.RemoteAddr = netip.AddrFrom16([16]byte(raw[offDstV6 : offDstV6+16])).Unmap()
	} else {
		ev.LocalAddr = netip.AddrFrom4([4]byte(raw[offSrcV4 : offSrcV4+4]))
		ev.RemoteAddr = netip.AddrFrom4([4]byte(raw[offDstV4 : offDstV4+4]))
	}

	if toWall != nil {
		ev.Timestamp = toWall(le.Uint64(raw[offTimestamp:]))
	}
	return ev, nil
}
