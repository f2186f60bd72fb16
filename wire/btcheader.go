// Package wire implements BATHRON's wire-level encodings: the 80-byte
// Bitcoin header format reused verbatim for SPV (spec.md §3.1), and the
// settlement-layer transaction envelope (spec.md §6.1) carrying the six
// BATHRON transaction types as tagged payloads.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
)

// BtcHeaderLen is the exact serialized size of a Bitcoin block header.
const BtcHeaderLen = 80

// BtcHeader is a Bitcoin block header, serialized byte-for-byte compatible
// with Bitcoin Core (spec.md §3.1).
type BtcHeader struct {
	Version    int32
	PrevHash   chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// Serialize writes the 80-byte little-endian wire encoding of the header.
func (h *BtcHeader) Serialize(w io.Writer) error {
	buf := make([]byte, BtcHeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	_, err := w.Write(buf)
	return err
}

// Bytes returns the serialized 80-byte header.
func (h *BtcHeader) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(BtcHeaderLen)
	_ = h.Serialize(&buf)
	return buf.Bytes()
}

// Deserialize reads an 80-byte little-endian header.
func (h *BtcHeader) Deserialize(r io.Reader) error {
	buf := make([]byte, BtcHeaderLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	h.Version = int32(binary.LittleEndian.Uint32(buf[0:4]))
	copy(h.PrevHash[:], buf[4:36])
	copy(h.MerkleRoot[:], buf[36:68])
	h.Timestamp = binary.LittleEndian.Uint32(buf[68:72])
	h.Bits = binary.LittleEndian.Uint32(buf[72:76])
	h.Nonce = binary.LittleEndian.Uint32(buf[76:80])
	return nil
}

// BtcHeaderFromBytes parses an 80-byte header.
func BtcHeaderFromBytes(b []byte) (*BtcHeader, error) {
	if len(b) != BtcHeaderLen {
		return nil, fmt.Errorf("invalid header length %d, want %d", len(b), BtcHeaderLen)
	}
	h := new(BtcHeader)
	if err := h.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return h, nil
}

// BlockHash computes the double-SHA256 hash of the serialized header, i.e.
// the Bitcoin block hash.
func (h *BtcHeader) BlockHash() chainhash.Hash {
	return chainhash.HashH(h.Bytes())
}
