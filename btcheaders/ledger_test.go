package btcheaders

import (
	"os"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/require"

	"github.com/bathron-chain/bathron/btcspv"
	"github.com/bathron-chain/bathron/chaincfg"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/masternode"
	"github.com/bathron-chain/bathron/wire"
)

func testBathronParams() *chaincfg.BATHRONParams {
	return &chaincfg.BATHRONParams{
		Name:                        "unit-test",
		BTC:                         chaincfg.RegTestBTCParams,
		BtcHeadersMaxCount:          1000,
		BtcHeadersDefaultCount:      100,
		BtcHeadersGenesisMaxCount:   5000,
		BtcHeadersMaxPayloadSize:    500000,
		BtcHeadersPublisherCooldown: 3,
	}
}

func mustOpenLedger(t *testing.T, params *chaincfg.BATHRONParams, reg *masternode.Registry) *Ledger {
	t.Helper()
	dir, err := os.MkdirTemp("", "btcheaders")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	l, err := Open(dir, params, nil, reg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func mineHeader(prev chainhash.Hash, bits uint32, ts uint32) wire.BtcHeader {
	h := wire.BtcHeader{Version: 1, PrevHash: prev, Timestamp: ts, Bits: bits}
	target := btcspv.CompactToBig(bits)
	for nonce := uint32(0); ; nonce++ {
		h.Nonce = nonce
		if btcspv.HashToBig(h.BlockHash()).Cmp(target) <= 0 {
			return h
		}
	}
}

func signPayload(t *testing.T, priv *btcec.PrivateKey, p *Payload) {
	t.Helper()
	sig := ecdsa.Sign(priv, p.SigningHash().CloneBytes())
	p.Sig = sig.Serialize()
}

func TestValidateAcceptsGenesisPayloadWithoutPublisher(t *testing.T) {
	params := testBathronParams()
	l := mustOpenLedger(t, params, nil)

	var genesisPrev chainhash.Hash
	h := mineHeader(genesisPrev, params.BTC.PowLimitBits, 1000)

	p := &Payload{Version: PayloadVersion, StartHeight: 0, Headers: []wire.BtcHeader{h}}
	err := l.Validate(p, len(p.Encode()), 0, true)
	require.NoError(t, err)
}

func TestValidateRejectsOversizeCount(t *testing.T) {
	params := testBathronParams()
	l := mustOpenLedger(t, params, nil)

	headers := make([]wire.BtcHeader, int(params.BtcHeadersGenesisMaxCount)+1)
	p := &Payload{Version: PayloadVersion, StartHeight: 0, Headers: headers}
	err := l.Validate(p, 1000, 0, true)
	require.Error(t, err)
	var rej *Reject
	require.ErrorAs(t, err, &rej)
	require.Equal(t, RejectBadShape, rej.Code)
}

func TestValidateAndConnectExtendsTip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	proTxHash := chainhash.HashH([]byte("masternode-1"))
	reg := masternode.NewRegistry(&masternode.Operator{
		ID: "mn1", ProTxHash: proTxHash, PublicKey: priv.PubKey(), Status: masternode.StatusActive,
	})

	params := testBathronParams()
	l := mustOpenLedger(t, params, reg)

	var genesisPrev chainhash.Hash
	h0 := mineHeader(genesisPrev, params.BTC.PowLimitBits, 1000)
	genesisPayload := &Payload{Version: PayloadVersion, StartHeight: 0, Headers: []wire.BtcHeader{h0}}
	require.NoError(t, l.Validate(genesisPayload, len(genesisPayload.Encode()), 0, true))
	require.NoError(t, l.Connect(genesisPayload, 1))
	require.Equal(t, int32(0), l.TipHeight())

	h1 := mineHeader(h0.BlockHash(), params.BTC.PowLimitBits, 1100)
	p1 := &Payload{Version: PayloadVersion, PublisherProTxHash: proTxHash, StartHeight: 1, Headers: []wire.BtcHeader{h1}}
	signPayload(t, priv, p1)

	err = l.Validate(p1, len(p1.Encode()), 1, false)
	require.NoError(t, err)
	require.NoError(t, l.Connect(p1, 2))
	require.Equal(t, int32(1), l.TipHeight())
	require.Equal(t, h1.BlockHash(), l.TipHash())
}

func TestValidateRejectsNonExtendingStartHeight(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	proTxHash := chainhash.HashH([]byte("masternode-1"))
	reg := masternode.NewRegistry(&masternode.Operator{
		ID: "mn1", ProTxHash: proTxHash, PublicKey: priv.PubKey(), Status: masternode.StatusActive,
	})
	params := testBathronParams()
	l := mustOpenLedger(t, params, reg)

	var genesisPrev chainhash.Hash
	h0 := mineHeader(genesisPrev, params.BTC.PowLimitBits, 1000)
	genesisPayload := &Payload{Version: PayloadVersion, StartHeight: 0, Headers: []wire.BtcHeader{h0}}
	require.NoError(t, l.Validate(genesisPayload, len(genesisPayload.Encode()), 0, true))
	require.NoError(t, l.Connect(genesisPayload, 1))

	// start_height should be 1, not 5.
	var randomPrev chainhash.Hash
	randomPrev[0] = 0xAA
	h1 := mineHeader(randomPrev, params.BTC.PowLimitBits, 1100)
	p1 := &Payload{Version: PayloadVersion, PublisherProTxHash: proTxHash, StartHeight: 5, Headers: []wire.BtcHeader{h1}}
	signPayload(t, priv, p1)

	err = l.Validate(p1, len(p1.Encode()), 1, false)
	require.Error(t, err)
	var rej *Reject
	require.ErrorAs(t, err, &rej)
	require.Equal(t, RejectBadExtend, rej.Code)
}

func TestValidateRejectsCooldownViolation(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	proTxHash := chainhash.HashH([]byte("masternode-1"))
	reg := masternode.NewRegistry(&masternode.Operator{
		ID: "mn1", ProTxHash: proTxHash, PublicKey: priv.PubKey(), Status: masternode.StatusActive,
	})
	params := testBathronParams()
	l := mustOpenLedger(t, params, reg)

	var genesisPrev chainhash.Hash
	h0 := mineHeader(genesisPrev, params.BTC.PowLimitBits, 1000)
	genesisPayload := &Payload{Version: PayloadVersion, StartHeight: 0, Headers: []wire.BtcHeader{h0}}
	require.NoError(t, l.Validate(genesisPayload, len(genesisPayload.Encode()), 0, true))
	require.NoError(t, l.Connect(genesisPayload, 1))

	h1 := mineHeader(h0.BlockHash(), params.BTC.PowLimitBits, 1100)
	p1 := &Payload{Version: PayloadVersion, PublisherProTxHash: proTxHash, StartHeight: 1, Headers: []wire.BtcHeader{h1}}
	signPayload(t, priv, p1)
	require.NoError(t, l.Validate(p1, len(p1.Encode()), 1, false))
	require.NoError(t, l.Connect(p1, 2))

	// Same publisher publishes again within the cooldown by replaying the
	// range it just published: start_height 1 is not tip+1 (no catch-up
	// bypass) and the SPV tip is not ahead of the ledger tip.
	p2 := &Payload{Version: PayloadVersion, PublisherProTxHash: proTxHash, StartHeight: 1, Headers: []wire.BtcHeader{h1}}
	signPayload(t, priv, p2)

	err = l.Validate(p2, len(p2.Encode()), 1, false)
	require.Error(t, err)
	var rej *Reject
	require.ErrorAs(t, err, &rej)
	require.Equal(t, RejectCooldown, rej.Code)
}

func TestDisconnectRestoresPriorTip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	proTxHash := chainhash.HashH([]byte("masternode-1"))
	reg := masternode.NewRegistry(&masternode.Operator{
		ID: "mn1", ProTxHash: proTxHash, PublicKey: priv.PubKey(), Status: masternode.StatusActive,
	})
	params := testBathronParams()
	l := mustOpenLedger(t, params, reg)

	var genesisPrev chainhash.Hash
	h0 := mineHeader(genesisPrev, params.BTC.PowLimitBits, 1000)
	genesisPayload := &Payload{Version: PayloadVersion, StartHeight: 0, Headers: []wire.BtcHeader{h0}}
	require.NoError(t, l.Validate(genesisPayload, len(genesisPayload.Encode()), 0, true))
	require.NoError(t, l.Connect(genesisPayload, 1))

	h1 := mineHeader(h0.BlockHash(), params.BTC.PowLimitBits, 1100)
	p1 := &Payload{Version: PayloadVersion, PublisherProTxHash: proTxHash, StartHeight: 1, Headers: []wire.BtcHeader{h1}}
	signPayload(t, priv, p1)
	require.NoError(t, l.Validate(p1, len(p1.Encode()), 1, false))
	require.NoError(t, l.Connect(p1, 2))
	require.Equal(t, int32(1), l.TipHeight())

	require.NoError(t, l.Disconnect(p1))
	require.Equal(t, int32(0), l.TipHeight())
	require.Equal(t, h0.BlockHash(), l.TipHash())
}
