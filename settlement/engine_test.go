package settlement

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/wire"
)

func mustOpenEngine(t *testing.T) *Engine {
	t.Helper()
	dir, err := os.MkdirTemp("", "settlement")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	e, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func txid(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func outpoint(b byte, idx uint32) wire.OutPoint {
	return wire.OutPoint{Hash: txid(b), Index: idx}
}

// TestLockUnlockRoundTrip reproduces spec.md §8 concrete scenario 1
// exactly: address A has M0=100, locks 60, then unlocks with a 10 sat
// fee, ending at balance[A]=90, M0_vaulted=0, M1_supply=0.
func TestLockUnlockRoundTrip(t *testing.T) {
	e := mustOpenEngine(t)
	var a [20]byte
	a[0] = 0xAA

	require.NoError(t, e.CreditM0(a, 100))

	receiptOP := outpoint(1, 0)
	require.NoError(t, e.ApplyLock(txid(1), 10, a, 60, receiptOP))

	bal, err := e.GetBalance(a)
	require.NoError(t, err)
	require.EqualValues(t, 40, bal)

	m0t, m0v, m1s, err := e.Supply()
	require.NoError(t, err)
	require.EqualValues(t, 100, m0t)
	require.EqualValues(t, 60, m0v)
	require.EqualValues(t, 60, m1s)

	require.NoError(t, e.ApplyUnlock(txid(2), receiptOP, 60, 10, a))

	bal, err = e.GetBalance(a)
	require.NoError(t, err)
	require.EqualValues(t, 90, bal)

	m0t, m0v, m1s, err = e.Supply()
	require.NoError(t, err)
	require.EqualValues(t, 100, m0t)
	require.EqualValues(t, 0, m0v)
	require.EqualValues(t, 0, m1s)

	rec, err := e.GetReceipt(receiptOP)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestUnlockRejectsAmountMismatch(t *testing.T) {
	e := mustOpenEngine(t)
	var a [20]byte
	a[0] = 1
	require.NoError(t, e.CreditM0(a, 100))
	receiptOP := outpoint(1, 0)
	require.NoError(t, e.ApplyLock(txid(1), 1, a, 60, receiptOP))

	err := e.ApplyUnlock(txid(2), receiptOP, 50, 1, a)
	require.ErrorIs(t, err, ErrAmountMismatch)
}

func TestDisconnectLockReversesState(t *testing.T) {
	e := mustOpenEngine(t)
	var a [20]byte
	a[0] = 1
	require.NoError(t, e.CreditM0(a, 100))
	receiptOP := outpoint(1, 0)
	require.NoError(t, e.ApplyLock(txid(1), 1, a, 60, receiptOP))

	require.NoError(t, e.DisconnectLock(txid(1), receiptOP))

	bal, err := e.GetBalance(a)
	require.NoError(t, err)
	require.EqualValues(t, 100, bal)

	m0t, m0v, m1s, err := e.Supply()
	require.NoError(t, err)
	require.EqualValues(t, 100, m0t)
	require.EqualValues(t, 0, m0v)
	require.EqualValues(t, 0, m1s)

	rec, err := e.GetReceipt(receiptOP)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestTransferPreservesVaultIdentity(t *testing.T) {
	e := mustOpenEngine(t)
	var a, bAddr [20]byte
	a[0], bAddr[0] = 1, 2
	require.NoError(t, e.CreditM0(a, 100))
	receiptOP := outpoint(1, 0)
	require.NoError(t, e.ApplyLock(txid(1), 1, a, 100, receiptOP))

	out1 := outpoint(2, 0)
	require.NoError(t, e.ApplyTransfer(txid(2), 2, []wire.OutPoint{receiptOP}, []TransferOutput{
		{Outpoint: out1, Amount: 95},
	}, 5))

	m0t, m0v, m1s, err := e.Supply()
	require.NoError(t, err)
	require.EqualValues(t, 100, m0t)
	require.EqualValues(t, 95, m0v) // I6: vaulted == supply holds after the fee burn
	require.EqualValues(t, 95, m1s)

	rec, err := e.GetReceipt(out1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.EqualValues(t, 95, rec.Amount)

	require.NoError(t, e.DisconnectTransfer(txid(2)))
	m0t, m0v, m1s, err = e.Supply()
	require.NoError(t, err)
	require.EqualValues(t, 100, m0t)
	require.EqualValues(t, 100, m0v)
	require.EqualValues(t, 100, m1s)

	rec, err = e.GetReceipt(receiptOP)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.EqualValues(t, 100, rec.Amount)
}

func TestTransferRejectsUnconservedValue(t *testing.T) {
	e := mustOpenEngine(t)
	var a [20]byte
	a[0] = 1
	require.NoError(t, e.CreditM0(a, 100))
	receiptOP := outpoint(1, 0)
	require.NoError(t, e.ApplyLock(txid(1), 1, a, 100, receiptOP))

	err := e.ApplyTransfer(txid(2), 2, []wire.OutPoint{receiptOP}, []TransferOutput{
		{Outpoint: outpoint(2, 0), Amount: 96},
	}, 5)
	require.ErrorIs(t, err, ErrValueNotConserved)
}

func TestCanonicalFeeOutputValidation(t *testing.T) {
	fc := NewFeeCalculator(1000)
	tx := wire.NewMsgTx(1, wire.TxUnlock)
	tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: []byte{0x51}})

	min := fc.MinFee(tx.SerializeSize())
	tx.TxOut[0].Value = min

	code, ok := fc.CheckCanonicalFeeOutput(tx, 0, "unlock")
	require.True(t, ok)
	require.Empty(t, code)

	tx.TxOut[0].Value = min - 1
	if min > 1 {
		code, ok = fc.CheckCanonicalFeeOutput(tx, 0, "unlock")
		require.False(t, ok)
		require.Equal(t, "bad-unlock-fee-too-low", code)
	}

	tx.TxOut[0].PkScript = []byte{0x51, 0x00} // trailing byte - not byte-exact
	code, ok = fc.CheckCanonicalFeeOutput(tx, 0, "unlock")
	require.False(t, ok)
	require.Equal(t, "bad-unlock-fee-script", code)

	code, ok = fc.CheckCanonicalFeeOutput(tx, 5, "unlock")
	require.False(t, ok)
	require.Equal(t, "bad-unlock-fee-missing", code)
}
