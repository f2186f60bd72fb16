package masternode

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/require"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
)

func TestVerifyBatchSignatureAcceptsActiveOperator(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	proTxHash := chainhash.HashH([]byte("operator-1"))
	reg := NewRegistry(&Operator{ID: "op1", ProTxHash: proTxHash, PublicKey: priv.PubKey(), Status: StatusActive})

	payload := chainhash.HashH([]byte("batch"))
	sig := ecdsa.Sign(priv, payload[:])

	op, err := reg.VerifyBatchSignature(proTxHash, payload, sig.Serialize())
	require.NoError(t, err)
	require.Equal(t, "op1", op.ID)
}

func TestVerifyBatchSignatureRejectsUnknownProTxHash(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	reg := NewRegistry(&Operator{ID: "op1", ProTxHash: chainhash.HashH([]byte("operator-1")), PublicKey: priv.PubKey(), Status: StatusActive})

	payload := chainhash.HashH([]byte("batch"))
	sig := ecdsa.Sign(priv, payload[:])

	unknown := chainhash.HashH([]byte("operator-2"))
	_, err = reg.VerifyBatchSignature(unknown, payload, sig.Serialize())
	require.ErrorIs(t, err, ErrUnknownOperator)
}

func TestVerifyBatchSignatureRejectsSuspendedOperator(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	proTxHash := chainhash.HashH([]byte("operator-1"))
	reg := NewRegistry(&Operator{ID: "op1", ProTxHash: proTxHash, PublicKey: priv.PubKey(), Status: StatusActive})
	reg.Suspend(proTxHash)

	payload := chainhash.HashH([]byte("batch"))
	sig := ecdsa.Sign(priv, payload[:])

	_, err = reg.VerifyBatchSignature(proTxHash, payload, sig.Serialize())
	require.ErrorIs(t, err, ErrUnknownOperator)
}

func TestVerifyBatchSignatureRejectsWrongPayload(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	proTxHash := chainhash.HashH([]byte("operator-1"))
	reg := NewRegistry(&Operator{ID: "op1", ProTxHash: proTxHash, PublicKey: priv.PubKey(), Status: StatusActive})

	payload := chainhash.HashH([]byte("batch"))
	wrong := chainhash.HashH([]byte("different"))
	sig := ecdsa.Sign(priv, payload[:])

	_, err = reg.VerifyBatchSignature(proTxHash, wrong, sig.Serialize())
	require.Error(t, err)
}
