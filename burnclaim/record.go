package burnclaim

import (
	"encoding/binary"
	"errors"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
)

// ErrBadRecordEncoding is returned when a persisted burnclaim record is
// corrupt.
var ErrBadRecordEncoding = errors.New("burnclaim: corrupt record encoding")

// BurnClaim is the persisted evidence of a verified burn (spec.md §3.3).
type BurnClaim struct {
	BtcTxid        chainhash.Hash
	BtcBlockHeight int32
	DestHash160    [20]byte
	AmountSats     uint64
	NetworkTag     uint8
}

// Encode serializes a BurnClaim.
func (c *BurnClaim) Encode() []byte {
	buf := make([]byte, 0, chainhash.HashSize+4+20+8+1)
	buf = append(buf, c.BtcTxid[:]...)
	var b4 [4]byte
	putLE32(b4[:], uint32(c.BtcBlockHeight))
	buf = append(buf, b4[:]...)
	buf = append(buf, c.DestHash160[:]...)
	var b8 [8]byte
	putLE64(b8[:], c.AmountSats)
	buf = append(buf, b8[:]...)
	buf = append(buf, c.NetworkTag)
	return buf
}

// DecodeBurnClaim deserializes a BurnClaim.
func DecodeBurnClaim(b []byte) (*BurnClaim, error) {
	const want = chainhash.HashSize + 4 + 20 + 8 + 1
	if len(b) != want {
		return nil, ErrBadRecordEncoding
	}
	c := new(BurnClaim)
	off := 0
	copy(c.BtcTxid[:], b[off:off+chainhash.HashSize])
	off += chainhash.HashSize
	c.BtcBlockHeight = int32(getLE32(b[off : off+4]))
	off += 4
	copy(c.DestHash160[:], b[off:off+20])
	off += 20
	c.AmountSats = getLE64(b[off : off+8])
	off += 8
	c.NetworkTag = b[off]
	return c, nil
}

// PendingMint is a scheduled, not-yet-applied M0 mint (spec.md §3.3),
// keyed by the BTC txid whose burn it resolves.
type PendingMint struct {
	BtcTxid           chainhash.Hash
	MatureAtBtcHeight int32
	Dest              [20]byte
	Amount            uint64
	ClaimTxid         chainhash.Hash
}

// Encode serializes a PendingMint.
func (p *PendingMint) Encode() []byte {
	buf := make([]byte, 0, chainhash.HashSize+4+20+8+chainhash.HashSize)
	buf = append(buf, p.BtcTxid[:]...)
	var b4 [4]byte
	putLE32(b4[:], uint32(p.MatureAtBtcHeight))
	buf = append(buf, b4[:]...)
	buf = append(buf, p.Dest[:]...)
	var b8 [8]byte
	putLE64(b8[:], p.Amount)
	buf = append(buf, b8[:]...)
	buf = append(buf, p.ClaimTxid[:]...)
	return buf
}

// DecodePendingMint deserializes a PendingMint.
func DecodePendingMint(b []byte) (*PendingMint, error) {
	const want = chainhash.HashSize + 4 + 20 + 8 + chainhash.HashSize
	if len(b) != want {
		return nil, ErrBadRecordEncoding
	}
	p := new(PendingMint)
	off := 0
	copy(p.BtcTxid[:], b[off:off+chainhash.HashSize])
	off += chainhash.HashSize
	p.MatureAtBtcHeight = int32(getLE32(b[off : off+4]))
	off += 4
	copy(p.Dest[:], b[off:off+20])
	off += 20
	p.Amount = getLE64(b[off : off+8])
	off += 8
	copy(p.ClaimTxid[:], b[off:off+chainhash.HashSize])
	return p, nil
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

func matureHeightBytes(height int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(height))
	return b
}
