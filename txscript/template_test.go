package txscript

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bathron-chain/bathron/wire"
)

func buildTx(outCount int) *wire.MsgTx {
	tx := wire.NewMsgTx(1, wire.TxTransferM1)
	tx.AddTxIn(&wire.TxIn{Sequence: 0xffffffff})
	for i := 0; i < outCount; i++ {
		tx.AddTxOut(&wire.TxOut{Value: int64(1000 + i), PkScript: []byte{byte(OP_1)}})
	}
	return tx
}

func TestComputeTemplateHashDeterministic(t *testing.T) {
	tx := buildTx(2)
	h1, err := ComputeTemplateHash(tx)
	require.NoError(t, err)
	h2, err := ComputeTemplateHash(tx)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestComputeTemplateHashIgnoresPrevout(t *testing.T) {
	tx1 := buildTx(1)
	tx2 := buildTx(1)
	tx2.TxIn[0].PreviousOutPoint.Index = 7 // differs, but not covered

	h1, err := ComputeTemplateHash(tx1)
	require.NoError(t, err)
	h2, err := ComputeTemplateHash(tx2)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestComputeTemplateHashCoversType(t *testing.T) {
	tx1 := buildTx(1)
	tx2 := buildTx(1)
	tx2.Type = wire.TxUnlock

	h1, err := ComputeTemplateHash(tx1)
	require.NoError(t, err)
	h2, err := ComputeTemplateHash(tx2)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestComputeTemplateHashRejectsTooManyOutputs(t *testing.T) {
	tx := buildTx(MaxTemplateOutputs + 1)
	_, err := ComputeTemplateHash(tx)
	require.ErrorIs(t, err, ErrTooManyOutputs)
}

func TestVerifyTemplateCommitmentRoundTrip(t *testing.T) {
	tx := buildTx(1)
	h, err := ComputeTemplateHash(tx)
	require.NoError(t, err)
	require.NoError(t, VerifyTemplateCommitment(h[:], tx))

	other := buildTx(2)
	require.Error(t, VerifyTemplateCommitment(h[:], other))
}
