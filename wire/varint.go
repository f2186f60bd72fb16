package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteVarInt serializes i as a Bitcoin-style compact size integer, the
// encoding used by ComputeTemplateHash (spec.md §4.5.4), MsgTx.Serialize
// and the burn-claim sibling count. The BtcHeadersPayload header count is
// a fixed 2-byte field, not a compact size.
func WriteVarInt(w io.Writer, i uint64) error {
	var buf [9]byte
	switch {
	case i < 0xfd:
		buf[0] = byte(i)
		_, err := w.Write(buf[:1])
		return err
	case i <= 0xffff:
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:3], uint16(i))
		_, err := w.Write(buf[:3])
		return err
	case i <= 0xffffffff:
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:5], uint32(i))
		_, err := w.Write(buf[:5])
		return err
	default:
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:9], i)
		_, err := w.Write(buf[:9])
		return err
	}
}

// ReadVarInt deserializes a Bitcoin-style compact size integer.
func ReadVarInt(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}
	switch prefix[0] {
	case 0xfd:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b[:])), nil
	case 0xfe:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b[:])), nil
	case 0xff:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	default:
		return uint64(prefix[0]), nil
	}
}

// WriteVarBytes writes a length-prefixed byte slice.
func WriteVarBytes(w io.Writer, b []byte) error {
	if err := WriteVarInt(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadVarBytes reads a length-prefixed byte slice, rejecting lengths beyond
// maxLen (a DoS bound on attacker-controlled sizes).
func ReadVarBytes(r io.Reader, maxLen uint64) ([]byte, error) {
	n, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, fmt.Errorf("varbytes length %d exceeds max %d", n, maxLen)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
