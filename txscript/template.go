package txscript

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/wire"
)

// MaxTemplateOutputs bounds the number of outputs ComputeTemplateHash will
// cover, a DoS bound (spec.md §4.5.4).
const MaxTemplateOutputs = 4

// ErrTooManyOutputs is returned when a transaction exceeds
// MaxTemplateOutputs.
var ErrTooManyOutputs = errors.New("txscript: too many outputs for template hash")

// ComputeTemplateHash implements the CTV-lite commitment of spec.md
// §4.5.4: double-SHA256 of
//
//	version || type || locktime
//	|| varint(input_count) || sequences[..]
//	|| varint(output_count) || for each out: value || scriptPubKey
//
// It commits to type (so normal and special transaction types can never
// collide), every output's value and script, input count and sequences,
// but deliberately not to prevouts — the covenant only constrains the
// shape of the *spending* transaction, not which coins fund it.
func ComputeTemplateHash(tx *wire.MsgTx) (chainhash.Hash, error) {
	if len(tx.TxOut) > MaxTemplateOutputs {
		return chainhash.Hash{}, fmt.Errorf("%w: %d > %d", ErrTooManyOutputs, len(tx.TxOut), MaxTemplateOutputs)
	}

	var buf bytes.Buffer
	var b4 [4]byte
	putLE32(b4[:], uint32(tx.Version))
	buf.Write(b4[:])
	buf.WriteByte(byte(tx.Type))
	putLE32(b4[:], tx.LockTime)
	buf.Write(b4[:])

	_ = wire.WriteVarInt(&buf, uint64(len(tx.TxIn)))
	for _, in := range tx.TxIn {
		putLE32(b4[:], in.Sequence)
		buf.Write(b4[:])
	}

	_ = wire.WriteVarInt(&buf, uint64(len(tx.TxOut)))
	for _, out := range tx.TxOut {
		var b8 [8]byte
		putLE64(b8[:], uint64(out.Value))
		buf.Write(b8[:])
		_ = wire.WriteVarBytes(&buf, out.PkScript)
	}

	return chainhash.HashH(buf.Bytes()), nil
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

// VerifyTemplateCommitment implements OP_TEMPLATEVERIFY's semantics: it
// pops a 32-byte commitment from the redeem script and checks it against
// ComputeTemplateHash of the transaction currently being verified.
func VerifyTemplateCommitment(commitment []byte, spendingTx *wire.MsgTx) error {
	if len(commitment) != chainhash.HashSize {
		return fmt.Errorf("txscript: template commitment must be %d bytes, got %d", chainhash.HashSize, len(commitment))
	}
	want, err := ComputeTemplateHash(spendingTx)
	if err != nil {
		return err
	}
	var got chainhash.Hash
	copy(got[:], commitment)
	if got != want {
		return errors.New("txscript: template commitment mismatch")
	}
	return nil
}
