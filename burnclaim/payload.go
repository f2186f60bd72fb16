package burnclaim

import (
	"bytes"
	"errors"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/wire"
)

// ErrBadPayload is returned when a TX_BURN_CLAIM or TX_MINT_M0BTC extra
// payload is structurally malformed.
var ErrBadPayload = errors.New("burnclaim: malformed extra payload")

// ClaimPayload is TX_BURN_CLAIM's extra payload (spec.md §6.1): the raw
// Bitcoin transaction plus the merkle-inclusion proof the submitter is
// claiming against C2.
type ClaimPayload struct {
	RawBtcTx    []byte
	BlockHeight int32
	MerkleRoot  chainhash.Hash
	Siblings    []chainhash.Hash
	TxIndex     uint32
}

// Encode serializes the claim payload for inclusion in MsgTx.ExtraPayload.
func (p *ClaimPayload) Encode() []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarBytes(&buf, p.RawBtcTx)
	var b4 [4]byte
	putLE32(b4[:], uint32(p.BlockHeight))
	buf.Write(b4[:])
	buf.Write(p.MerkleRoot[:])
	_ = wire.WriteVarInt(&buf, uint64(len(p.Siblings)))
	for _, s := range p.Siblings {
		buf.Write(s[:])
	}
	putLE32(b4[:], p.TxIndex)
	buf.Write(b4[:])
	return buf.Bytes()
}

// DecodeClaimPayload deserializes a TX_BURN_CLAIM extra payload.
func DecodeClaimPayload(raw []byte) (*ClaimPayload, error) {
	r := bytes.NewReader(raw)

	rawTx, err := wire.ReadVarBytes(r, 4_000_000)
	if err != nil {
		return nil, ErrBadPayload
	}

	var heightBuf [4]byte
	if _, err := readFull(r, heightBuf[:]); err != nil {
		return nil, ErrBadPayload
	}
	blockHeight := int32(getLE32(heightBuf[:]))

	var merkleRoot chainhash.Hash
	if _, err := readFull(r, merkleRoot[:]); err != nil {
		return nil, ErrBadPayload
	}

	n, err := wire.ReadVarInt(r)
	if err != nil || n > 64 {
		return nil, ErrBadPayload
	}
	siblings := make([]chainhash.Hash, n)
	for i := range siblings {
		if _, err := readFull(r, siblings[i][:]); err != nil {
			return nil, ErrBadPayload
		}
	}

	var idxBuf [4]byte
	if _, err := readFull(r, idxBuf[:]); err != nil {
		return nil, ErrBadPayload
	}

	return &ClaimPayload{
		RawBtcTx:    rawTx,
		BlockHeight: blockHeight,
		MerkleRoot:  merkleRoot,
		Siblings:    siblings,
		TxIndex:     getLE32(idxBuf[:]),
	}, nil
}

// MintPayload is TX_MINT_M0BTC's extra payload (spec.md §6.1): a reference
// back to the BTC txid whose pending mint has matured.
type MintPayload struct {
	BtcTxid chainhash.Hash
}

// Encode serializes the mint payload.
func (p *MintPayload) Encode() []byte {
	return append([]byte(nil), p.BtcTxid[:]...)
}

// DecodeMintPayload deserializes a TX_MINT_M0BTC extra payload.
func DecodeMintPayload(raw []byte) (*MintPayload, error) {
	if len(raw) != chainhash.HashSize {
		return nil, ErrBadPayload
	}
	var txid chainhash.Hash
	copy(txid[:], raw)
	return &MintPayload{BtcTxid: txid}, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
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
