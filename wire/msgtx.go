package wire

import (
	"bytes"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
)

// TxType is the tagged-union discriminant for BATHRON settlement
// transactions (spec.md §6.1). Each value has a fixed numeric code that is
// part of consensus and must never be renumbered.
type TxType uint8

const (
	TxLock        TxType = 20
	TxUnlock      TxType = 21
	TxTransferM1  TxType = 22
	TxBurnClaim   TxType = 31
	TxMintM0BTC   TxType = 32
	TxBtcHeaders  TxType = 33
)

func (t TxType) String() string {
	switch t {
	case TxLock:
		return "TX_LOCK"
	case TxUnlock:
		return "TX_UNLOCK"
	case TxTransferM1:
		return "TX_TRANSFER_M1"
	case TxBurnClaim:
		return "TX_BURN_CLAIM"
	case TxMintM0BTC:
		return "TX_MINT_M0BTC"
	case TxBtcHeaders:
		return "TX_BTC_HEADERS"
	default:
		return "TX_UNKNOWN"
	}
}

// MaxMoney is the maximum representable value of M0/M1 in base units,
// mirrored from spec.md §4.4.3 rule 4.
const MaxMoney int64 = 21_000_000 * 1e8

// OutPoint identifies a specific output of a specific transaction.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NewOutPoint returns a new OutPoint.
func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return &OutPoint{Hash: *hash, Index: index}
}

// String returns the canonical "hash:index" form.
func (o OutPoint) String() string {
	return o.Hash.String() + ":" + itoa(int64(o.Index))
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// TxOut defines a single BATHRON transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// TxIn defines a single BATHRON transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint32
}

// MsgTx is a BATHRON settlement transaction: a tagged union over Type with
// inline payload fields used by LOCK/UNLOCK/TRANSFER_M1 and an opaque
// ExtraPayload carrying the special-transaction payload for BURN_CLAIM,
// MINT_M0BTC and BTC_HEADERS (spec.md §6.1).
type MsgTx struct {
	Version      int32
	Type         TxType
	TxIn         []*TxIn
	TxOut        []*TxOut
	LockTime     uint32
	ExtraPayload []byte
}

// NewMsgTx returns a new, empty MsgTx of the given type.
func NewMsgTx(version int32, txType TxType) *MsgTx {
	return &MsgTx{Version: version, Type: txType}
}

// AddTxIn adds an input to the transaction.
func (m *MsgTx) AddTxIn(ti *TxIn) { m.TxIn = append(m.TxIn, ti) }

// AddTxOut adds an output to the transaction.
func (m *MsgTx) AddTxOut(to *TxOut) { m.TxOut = append(m.TxOut, to) }

// SerializeSize returns the serialized byte size of the transaction,
// matching spec.md §4.4.3 rule 3 (total_tx_size) and §4.4.1's fee-rate
// calculation, which is a function of size.
func (m *MsgTx) SerializeSize() int {
	// 4 (version) + 1 (type) + varint(vin) + inputs + varint(vout) + outputs
	// + 4 (locktime) + varint(payload) + payload.
	n := 4 + 1 + 4
	n += varIntSerializeSize(uint64(len(m.TxIn)))
	for _, in := range m.TxIn {
		n += chainhash.HashSize + 4 // prevout hash + index
		n += varIntSerializeSize(uint64(len(in.SignatureScript))) + len(in.SignatureScript)
		n += 4 // sequence
	}
	n += varIntSerializeSize(uint64(len(m.TxOut)))
	for _, out := range m.TxOut {
		n += 8 // value
		n += varIntSerializeSize(uint64(len(out.PkScript))) + len(out.PkScript)
	}
	n += varIntSerializeSize(uint64(len(m.ExtraPayload))) + len(m.ExtraPayload)
	return n
}

func varIntSerializeSize(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// Serialize writes the canonical wire encoding of the transaction, used as
// the basis for TxHash. ComputeTemplateHash builds its own encoding of the
// fields it covers.
func (m *MsgTx) Serialize() []byte {
	var buf bytes.Buffer
	var b4 [4]byte
	putLE32(b4[:], uint32(m.Version))
	buf.Write(b4[:])
	buf.WriteByte(byte(m.Type))

	_ = WriteVarInt(&buf, uint64(len(m.TxIn)))
	for _, in := range m.TxIn {
		buf.Write(in.PreviousOutPoint.Hash[:])
		putLE32(b4[:], in.PreviousOutPoint.Index)
		buf.Write(b4[:])
		_ = WriteVarBytes(&buf, in.SignatureScript)
		putLE32(b4[:], in.Sequence)
		buf.Write(b4[:])
	}

	_ = WriteVarInt(&buf, uint64(len(m.TxOut)))
	for _, out := range m.TxOut {
		var b8 [8]byte
		putLE64(b8[:], uint64(out.Value))
		buf.Write(b8[:])
		_ = WriteVarBytes(&buf, out.PkScript)
	}

	putLE32(b4[:], m.LockTime)
	buf.Write(b4[:])
	_ = WriteVarBytes(&buf, m.ExtraPayload)

	return buf.Bytes()
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// TxHash returns the double-SHA256 hash of the serialized transaction.
func (m *MsgTx) TxHash() chainhash.Hash {
	return chainhash.HashH(m.Serialize())
}

// Copy returns a deep copy of the transaction, so a draft can be mutated
// without touching the original.
func (m *MsgTx) Copy() *MsgTx {
	c := &MsgTx{
		Version:  m.Version,
		Type:     m.Type,
		LockTime: m.LockTime,
	}
	c.ExtraPayload = append([]byte(nil), m.ExtraPayload...)
	for _, in := range m.TxIn {
		nc := *in
		nc.SignatureScript = append([]byte(nil), in.SignatureScript...)
		c.TxIn = append(c.TxIn, &nc)
	}
	for _, out := range m.TxOut {
		nc := *out
		nc.PkScript = append([]byte(nil), out.PkScript...)
		c.TxOut = append(c.TxOut, &nc)
	}
	return c
}
