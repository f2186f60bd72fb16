package consensus

import (
	"encoding/binary"
	"fmt"

	"github.com/bathron-chain/bathron/htlc"
)

// LockPayload is TX_LOCK's ExtraPayload (spec.md §6.1 labels LOCK/UNLOCK/
// TRANSFER_M1's payload "inline", but LOCK's M0 debit has no UTXO to
// attach a source address to, so the debited address rides here instead
// of in a TxIn). General ownership authorization of that address is
// not checked by this package; consensus only needs to know which balance
// to debit and cross-check its amount against the vault/receipt outputs.
type LockPayload struct {
	SourceDest [20]byte
	Amount     int64
}

// Encode serializes a LockPayload as dest(20) || amount(8).
func (p *LockPayload) Encode() []byte {
	buf := make([]byte, 28)
	copy(buf[:20], p.SourceDest[:])
	binary.LittleEndian.PutUint64(buf[20:], uint64(p.Amount))
	return buf
}

// DecodeLockPayload parses the Encode format.
func DecodeLockPayload(b []byte) (*LockPayload, error) {
	if len(b) != 28 {
		return nil, fmt.Errorf("consensus: corrupt lock payload (%d bytes)", len(b))
	}
	p := &LockPayload{}
	copy(p.SourceDest[:], b[:20])
	p.Amount = int64(binary.LittleEndian.Uint64(b[20:]))
	return p, nil
}

// UnlockPayload is TX_UNLOCK's ExtraPayload: the credited destination
// address, which (like LockPayload's source) has no UTXO to live on.
type UnlockPayload struct {
	DestDest [20]byte
}

// Encode serializes an UnlockPayload as dest(20).
func (p *UnlockPayload) Encode() []byte {
	buf := make([]byte, 20)
	copy(buf, p.DestDest[:])
	return buf
}

// DecodeUnlockPayload parses the Encode format.
func DecodeUnlockPayload(b []byte) (*UnlockPayload, error) {
	if len(b) != 20 {
		return nil, fmt.Errorf("consensus: corrupt unlock payload (%d bytes)", len(b))
	}
	p := &UnlockPayload{}
	copy(p.DestDest[:], b)
	return p, nil
}

// HTLCAction tags which of the four HTLC lifecycle transitions (spec.md
// §4.5.5) a TX_TRANSFER_M1 carrying an HTLCExtra performs. HTLC CREATE/
// CLAIM/REFUND have no dedicated transaction code of their own (spec.md
// §6.1's table lists only the six base types); they are TX_TRANSFER_M1
// transactions whose input or output is P2SH-HTLC shaped rather than a
// plain receipt, distinguished here by an optional extra payload.
type HTLCAction uint8

const (
	HTLCActionNone HTLCAction = iota
	HTLCActionCreate1S
	HTLCActionCreate3S
	HTLCActionResolve1S
	HTLCActionResolve3S
)

// HTLCExtra is the optional ExtraPayload a TX_TRANSFER_M1 carries when it
// creates or resolves an HTLC. RedeemScript lets consensus recover the
// hashlock/timelock/destination parameters a P2SH output's bare 20-byte
// hash cannot reveal on its own (spec.md §4.5.5's CREATE effect: the
// output commits to a redeem script, and only the spender of the
// original receipt knows what that script is at broadcast time).
// Preimages carries the secret(s) a CLAIM reveals, in the canonical
// order spec.md §4.5.3 fixes for the 3-secret case (user, lp1, lp2); a
// REFUND carries none.
type HTLCExtra struct {
	Action       HTLCAction
	RedeemScript []byte
	Preimages    [][32]byte
}

// Encode serializes an HTLCExtra as action(1) || varbytes(redeemScript) ||
// varint(len(preimages)) || preimages(32 each).
func (e *HTLCExtra) Encode() ([]byte, error) {
	var buf []byte
	buf = append(buf, byte(e.Action))
	buf = appendVarBytes(buf, e.RedeemScript)
	buf = appendVarInt(buf, uint64(len(e.Preimages)))
	for _, p := range e.Preimages {
		buf = append(buf, p[:]...)
	}
	return buf, nil
}

// DecodeHTLCExtra parses the Encode format.
func DecodeHTLCExtra(b []byte) (*HTLCExtra, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("consensus: corrupt htlc extra payload")
	}
	e := &HTLCExtra{Action: HTLCAction(b[0])}
	off := 1
	rs, n, err := readVarBytes(b[off:])
	if err != nil {
		return nil, err
	}
	e.RedeemScript = rs
	off += n

	count, n, err := readVarInt(b[off:])
	if err != nil {
		return nil, err
	}
	off += n
	for i := uint64(0); i < count; i++ {
		if off+32 > len(b) {
			return nil, fmt.Errorf("consensus: truncated htlc extra payload")
		}
		var p [32]byte
		copy(p[:], b[off:off+32])
		e.Preimages = append(e.Preimages, p)
		off += 32
	}
	return e, nil
}

// resolveToStatus maps an HTLCAction to the htlc.Status it transitions
// the record to.
func (a HTLCAction) resolveToStatus(branchA bool) htlc.Status {
	if branchA {
		return htlc.StatusClaimed
	}
	return htlc.StatusRefunded
}

func appendVarInt(buf []byte, v uint64) []byte {
	var tmp [9]byte
	switch {
	case v < 0xfd:
		return append(buf, byte(v))
	case v <= 0xffff:
		tmp[0] = 0xfd
		binary.LittleEndian.PutUint16(tmp[1:3], uint16(v))
		return append(buf, tmp[:3]...)
	case v <= 0xffffffff:
		tmp[0] = 0xfe
		binary.LittleEndian.PutUint32(tmp[1:5], uint32(v))
		return append(buf, tmp[:5]...)
	default:
		tmp[0] = 0xff
		binary.LittleEndian.PutUint64(tmp[1:9], v)
		return append(buf, tmp[:9]...)
	}
}

func readVarInt(b []byte) (uint64, int, error) {
	if len(b) < 1 {
		return 0, 0, fmt.Errorf("consensus: truncated varint")
	}
	switch b[0] {
	case 0xfd:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("consensus: truncated varint")
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, nil
	case 0xfe:
		if len(b) < 5 {
			return 0, 0, fmt.Errorf("consensus: truncated varint")
		}
		return uint64(binary.LittleEndian.Uint32(b[1:5])), 5, nil
	case 0xff:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("consensus: truncated varint")
		}
		return binary.LittleEndian.Uint64(b[1:9]), 9, nil
	default:
		return uint64(b[0]), 1, nil
	}
}

func appendVarBytes(buf, b []byte) []byte {
	buf = appendVarInt(buf, uint64(len(b)))
	return append(buf, b...)
}

func readVarBytes(b []byte) ([]byte, int, error) {
	n, off, err := readVarInt(b)
	if err != nil {
		return nil, 0, err
	}
	if uint64(off)+n > uint64(len(b)) {
		return nil, 0, fmt.Errorf("consensus: truncated varbytes")
	}
	return b[off : off+int(n)], off + int(n), nil
}
