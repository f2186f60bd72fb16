// Copyright (c) 2026 The BATHRON developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settlement

import (
	"encoding/binary"
	"fmt"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/wire"
)

// M1Receipt is one outstanding M1 bearer receipt (spec.md §3.4): ownership
// is the ability to spend its outpoint, there is no owner field.
type M1Receipt struct {
	Amount       int64
	CreateHeight int32
}

// Encode serializes a receipt as amount(8) || create_height(4).
func (r *M1Receipt) Encode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint64(buf[:8], uint64(r.Amount))
	binary.LittleEndian.PutUint32(buf[8:], uint32(r.CreateHeight))
	return buf
}

// DecodeM1Receipt parses the Encode format.
func DecodeM1Receipt(b []byte) (*M1Receipt, error) {
	if len(b) != 12 {
		return nil, fmt.Errorf("settlement: corrupt M1 receipt record (%d bytes)", len(b))
	}
	return &M1Receipt{
		Amount:       int64(binary.LittleEndian.Uint64(b[:8])),
		CreateHeight: int32(binary.LittleEndian.Uint32(b[8:])),
	}, nil
}

func encodeOutpoint(o wire.OutPoint) []byte {
	buf := make([]byte, chainhash.HashSize+4)
	copy(buf, o.Hash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], o.Index)
	return buf
}

func decodeOutpoint(b []byte) (wire.OutPoint, error) {
	if len(b) != chainhash.HashSize+4 {
		return wire.OutPoint{}, fmt.Errorf("settlement: corrupt outpoint key (%d bytes)", len(b))
	}
	var op wire.OutPoint
	copy(op.Hash[:], b[:chainhash.HashSize])
	op.Index = binary.LittleEndian.Uint32(b[chainhash.HashSize:])
	return op, nil
}

// supplyCounters is the persisted record of spec.md §3.4's three counters.
type supplyCounters struct {
	M0Total   uint64
	M0Vaulted uint64
	M1Supply  uint64
}

func (c *supplyCounters) Encode() []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], c.M0Total)
	binary.LittleEndian.PutUint64(buf[8:16], c.M0Vaulted)
	binary.LittleEndian.PutUint64(buf[16:24], c.M1Supply)
	return buf
}

func decodeSupplyCounters(b []byte) (*supplyCounters, error) {
	if len(b) != 24 {
		return nil, fmt.Errorf("settlement: corrupt supply counters record (%d bytes)", len(b))
	}
	return &supplyCounters{
		M0Total:   binary.LittleEndian.Uint64(b[0:8]),
		M0Vaulted: binary.LittleEndian.Uint64(b[8:16]),
		M1Supply:  binary.LittleEndian.Uint64(b[16:24]),
	}, nil
}

// lockUndo is the undo record stashed by ApplyLock (spec.md §4.5's undo
// pattern, adapted here for TX_LOCK/TX_UNLOCK/TX_TRANSFER_M1 reorg
// support). Only the fields needed to reverse the transition are kept.
type lockUndo struct {
	Dest   [20]byte
	Amount int64
}

func (u *lockUndo) Encode() []byte {
	buf := make([]byte, 20+8)
	copy(buf[:20], u.Dest[:])
	binary.LittleEndian.PutUint64(buf[20:], uint64(u.Amount))
	return buf
}

func decodeLockUndo(b []byte) (*lockUndo, error) {
	if len(b) != 28 {
		return nil, fmt.Errorf("settlement: corrupt lock undo record")
	}
	u := &lockUndo{}
	copy(u.Dest[:], b[:20])
	u.Amount = int64(binary.LittleEndian.Uint64(b[20:]))
	return u, nil
}

// unlockUndo restores a consumed M1 receipt and reverses the balance
// credit on disconnect.
type unlockUndo struct {
	Outpoint wire.OutPoint
	Receipt  M1Receipt
	Dest     [20]byte
	Credited int64
}

func (u *unlockUndo) Encode() []byte {
	buf := make([]byte, 0, 36+12+20+8)
	buf = append(buf, encodeOutpoint(u.Outpoint)...)
	buf = append(buf, u.Receipt.Encode()...)
	buf = append(buf, u.Dest[:]...)
	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], uint64(u.Credited))
	buf = append(buf, amt[:]...)
	return buf
}

func decodeUnlockUndo(b []byte) (*unlockUndo, error) {
	const opLen = chainhash.HashSize + 4
	if len(b) != opLen+12+20+8 {
		return nil, fmt.Errorf("settlement: corrupt unlock undo record")
	}
	op, err := decodeOutpoint(b[:opLen])
	if err != nil {
		return nil, err
	}
	rec, err := DecodeM1Receipt(b[opLen : opLen+12])
	if err != nil {
		return nil, err
	}
	u := &unlockUndo{Outpoint: op, Receipt: *rec}
	copy(u.Dest[:], b[opLen+12:opLen+32])
	u.Credited = int64(binary.LittleEndian.Uint64(b[opLen+32:]))
	return u, nil
}

// transferUndo restores every consumed receipt and deletes every created
// receipt on disconnect.
type transferUndo struct {
	Consumed []transferEntry
	Created  []wire.OutPoint
	Fee      int64
}

type transferEntry struct {
	Outpoint wire.OutPoint
	Receipt  M1Receipt
}

func (u *transferUndo) Encode() []byte {
	buf := make([]byte, 0, 256)
	var n2 [2]byte
	binary.LittleEndian.PutUint16(n2[:], uint16(len(u.Consumed)))
	buf = append(buf, n2[:]...)
	for _, e := range u.Consumed {
		buf = append(buf, encodeOutpoint(e.Outpoint)...)
		buf = append(buf, e.Receipt.Encode()...)
	}
	binary.LittleEndian.PutUint16(n2[:], uint16(len(u.Created)))
	buf = append(buf, n2[:]...)
	for _, op := range u.Created {
		buf = append(buf, encodeOutpoint(op)...)
	}
	var fee [8]byte
	binary.LittleEndian.PutUint64(fee[:], uint64(u.Fee))
	buf = append(buf, fee[:]...)
	return buf
}

func decodeTransferUndo(b []byte) (*transferUndo, error) {
	const opLen = chainhash.HashSize + 4
	if len(b) < 2 {
		return nil, fmt.Errorf("settlement: corrupt transfer undo record")
	}
	off := 0
	nConsumed := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	u := &transferUndo{}
	for i := 0; i < nConsumed; i++ {
		if off+opLen+12 > len(b) {
			return nil, fmt.Errorf("settlement: truncated transfer undo record")
		}
		op, err := decodeOutpoint(b[off : off+opLen])
		if err != nil {
			return nil, err
		}
		off += opLen
		rec, err := DecodeM1Receipt(b[off : off+12])
		if err != nil {
			return nil, err
		}
		off += 12
		u.Consumed = append(u.Consumed, transferEntry{Outpoint: op, Receipt: *rec})
	}
	if off+2 > len(b) {
		return nil, fmt.Errorf("settlement: truncated transfer undo record")
	}
	nCreated := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	for i := 0; i < nCreated; i++ {
		if off+opLen > len(b) {
			return nil, fmt.Errorf("settlement: truncated transfer undo record")
		}
		op, err := decodeOutpoint(b[off : off+opLen])
		if err != nil {
			return nil, err
		}
		off += opLen
		u.Created = append(u.Created, op)
	}
	if off+8 > len(b) {
		return nil, fmt.Errorf("settlement: truncated transfer undo record")
	}
	u.Fee = int64(binary.LittleEndian.Uint64(b[off:]))
	return u, nil
}
