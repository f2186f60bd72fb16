// Copyright (c) 2026 The BATHRON developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package htlc implements C5's HTLC/HTLC3S record lifecycle (spec.md
// §4.5.5): CREATE/CLAIM/REFUND status transitions, the hashlock discovery
// indices of §4.5.6, and the undo records block disconnect needs to
// reverse either transition. The redeem-script shapes those transitions
// gate on live in the sibling txscript package.
package htlc

import (
	"errors"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/wire"
)

// Status is an HTLC record's lifecycle state (spec.md §4.5.5).
type Status uint8

const (
	StatusNone Status = iota
	StatusActive
	StatusClaimed
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClaimed:
		return "claimed"
	case StatusRefunded:
		return "refunded"
	default:
		return "none"
	}
}

// Record is a 1-secret HTLC's persisted state.
type Record struct {
	Outpoint     wire.OutPoint
	Amount       int64
	Hashlock     [32]byte
	DestA        [20]byte
	DestB        [20]byte
	Timelock     int64
	Covenant     *[32]byte
	Status       Status
	CreateHeight int32
	CreateTxid   chainhash.Hash
}

// Record3S is a 3-secret HTLC's persisted state (spec.md §4.5.3).
type Record3S struct {
	Outpoint     wire.OutPoint
	Amount       int64
	HashUser     [32]byte
	HashLP1      [32]byte
	HashLP2      [32]byte
	ClaimDest    [20]byte
	RefundDest   [20]byte
	Timelock     int64
	Covenant     *[32]byte
	Status       Status
	CreateHeight int32
	CreateTxid   chainhash.Hash
}

// ErrBadRecordEncoding is returned when a persisted record is corrupt.
var ErrBadRecordEncoding = errors.New("htlc: corrupt record encoding")

func encodeOutpoint(o wire.OutPoint) []byte {
	b := make([]byte, chainhash.HashSize+4)
	copy(b, o.Hash[:])
	putLE32(b[chainhash.HashSize:], o.Index)
	return b
}

func decodeOutpoint(b []byte) (wire.OutPoint, error) {
	if len(b) != chainhash.HashSize+4 {
		return wire.OutPoint{}, ErrBadRecordEncoding
	}
	var o wire.OutPoint
	copy(o.Hash[:], b[:chainhash.HashSize])
	o.Index = getLE32(b[chainhash.HashSize:])
	return o, nil
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getLE64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// Encode serializes a 1-secret Record for persistence.
func (r *Record) Encode() []byte {
	hasCovenant := byte(0)
	if r.Covenant != nil {
		hasCovenant = 1
	}
	buf := make([]byte, 0, 128)
	buf = append(buf, encodeOutpoint(r.Outpoint)...)
	var b8 [8]byte
	putLE64(b8[:], uint64(r.Amount))
	buf = append(buf, b8[:]...)
	buf = append(buf, r.Hashlock[:]...)
	buf = append(buf, r.DestA[:]...)
	buf = append(buf, r.DestB[:]...)
	putLE64(b8[:], uint64(r.Timelock))
	buf = append(buf, b8[:]...)
	buf = append(buf, hasCovenant)
	if r.Covenant != nil {
		buf = append(buf, r.Covenant[:]...)
	}
	buf = append(buf, byte(r.Status))
	var b4 [4]byte
	putLE32(b4[:], uint32(r.CreateHeight))
	buf = append(buf, b4[:]...)
	buf = append(buf, r.CreateTxid[:]...)
	return buf
}

// DecodeRecord deserializes a 1-secret Record.
func DecodeRecord(b []byte) (*Record, error) {
	off := 0
	need := func(n int) bool { return off+n <= len(b) }

	if !need(chainhash.HashSize + 4) {
		return nil, ErrBadRecordEncoding
	}
	op, err := decodeOutpoint(b[off : off+chainhash.HashSize+4])
	if err != nil {
		return nil, err
	}
	off += chainhash.HashSize + 4

	r := &Record{Outpoint: op}
	if !need(8) {
		return nil, ErrBadRecordEncoding
	}
	r.Amount = int64(getLE64(b[off : off+8]))
	off += 8

	if !need(32) {
		return nil, ErrBadRecordEncoding
	}
	copy(r.Hashlock[:], b[off:off+32])
	off += 32

	if !need(20) {
		return nil, ErrBadRecordEncoding
	}
	copy(r.DestA[:], b[off:off+20])
	off += 20

	if !need(20) {
		return nil, ErrBadRecordEncoding
	}
	copy(r.DestB[:], b[off:off+20])
	off += 20

	if !need(8) {
		return nil, ErrBadRecordEncoding
	}
	r.Timelock = int64(getLE64(b[off : off+8]))
	off += 8

	if !need(1) {
		return nil, ErrBadRecordEncoding
	}
	hasCovenant := b[off]
	off++
	if hasCovenant == 1 {
		if !need(32) {
			return nil, ErrBadRecordEncoding
		}
		var c [32]byte
		copy(c[:], b[off:off+32])
		r.Covenant = &c
		off += 32
	}

	if !need(1) {
		return nil, ErrBadRecordEncoding
	}
	r.Status = Status(b[off])
	off++

	if !need(4) {
		return nil, ErrBadRecordEncoding
	}
	r.CreateHeight = int32(getLE32(b[off : off+4]))
	off += 4

	if !need(chainhash.HashSize) {
		return nil, ErrBadRecordEncoding
	}
	copy(r.CreateTxid[:], b[off:off+chainhash.HashSize])

	return r, nil
}

// Encode serializes a 3-secret Record3S for persistence.
func (r *Record3S) Encode() []byte {
	hasCovenant := byte(0)
	if r.Covenant != nil {
		hasCovenant = 1
	}
	buf := make([]byte, 0, 192)
	buf = append(buf, encodeOutpoint(r.Outpoint)...)
	var b8 [8]byte
	putLE64(b8[:], uint64(r.Amount))
	buf = append(buf, b8[:]...)
	buf = append(buf, r.HashUser[:]...)
	buf = append(buf, r.HashLP1[:]...)
	buf = append(buf, r.HashLP2[:]...)
	buf = append(buf, r.ClaimDest[:]...)
	buf = append(buf, r.RefundDest[:]...)
	putLE64(b8[:], uint64(r.Timelock))
	buf = append(buf, b8[:]...)
	buf = append(buf, hasCovenant)
	if r.Covenant != nil {
		buf = append(buf, r.Covenant[:]...)
	}
	buf = append(buf, byte(r.Status))
	var b4 [4]byte
	putLE32(b4[:], uint32(r.CreateHeight))
	buf = append(buf, b4[:]...)
	buf = append(buf, r.CreateTxid[:]...)
	return buf
}

// DecodeRecord3S deserializes a 3-secret Record3S.
func DecodeRecord3S(b []byte) (*Record3S, error) {
	off := 0
	need := func(n int) bool { return off+n <= len(b) }

	if !need(chainhash.HashSize + 4) {
		return nil, ErrBadRecordEncoding
	}
	op, err := decodeOutpoint(b[off : off+chainhash.HashSize+4])
	if err != nil {
		return nil, err
	}
	off += chainhash.HashSize + 4

	r := &Record3S{Outpoint: op}
	if !need(8) {
		return nil, ErrBadRecordEncoding
	}
	r.Amount = int64(getLE64(b[off : off+8]))
	off += 8

	for _, dst := range []*[32]byte{&r.HashUser, &r.HashLP1, &r.HashLP2} {
		if !need(32) {
			return nil, ErrBadRecordEncoding
		}
		copy(dst[:], b[off:off+32])
		off += 32
	}

	if !need(20) {
		return nil, ErrBadRecordEncoding
	}
	copy(r.ClaimDest[:], b[off:off+20])
	off += 20

	if !need(20) {
		return nil, ErrBadRecordEncoding
	}
	copy(r.RefundDest[:], b[off:off+20])
	off += 20

	if !need(8) {
		return nil, ErrBadRecordEncoding
	}
	r.Timelock = int64(getLE64(b[off : off+8]))
	off += 8

	if !need(1) {
		return nil, ErrBadRecordEncoding
	}
	hasCovenant := b[off]
	off++
	if hasCovenant == 1 {
		if !need(32) {
			return nil, ErrBadRecordEncoding
		}
		var c [32]byte
		copy(c[:], b[off:off+32])
		r.Covenant = &c
		off += 32
	}

	if !need(1) {
		return nil, ErrBadRecordEncoding
	}
	r.Status = Status(b[off])
	off++

	if !need(4) {
		return nil, ErrBadRecordEncoding
	}
	r.CreateHeight = int32(getLE32(b[off : off+4]))
	off += 4

	if !need(chainhash.HashSize) {
		return nil, ErrBadRecordEncoding
	}
	copy(r.CreateTxid[:], b[off:off+chainhash.HashSize])

	return r, nil
}
