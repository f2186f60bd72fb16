package publisher

import (
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/require"

	"github.com/bathron-chain/bathron/btcheaders"
	"github.com/bathron-chain/bathron/btcspv"
	"github.com/bathron-chain/bathron/chaincfg"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/masternode"
	"github.com/bathron-chain/bathron/wire"
)

func testBTCParams(genesisHash chainhash.Hash) *chaincfg.BTCParams {
	return &chaincfg.BTCParams{
		Name:                "unit-test",
		PowLimit:            new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1)),
		PowLimitBits:        0x207fffff,
		RetargetInterval:    2016,
		TargetTimespan:      14 * 24 * 60 * 60,
		TargetTimePerBlock:  600,
		ReduceMinDifficulty: true,
		SPVCheckpoints: []chaincfg.SPVCheckpoint{
			{Height: 0, Hash: genesisHash, CumulativeWork: big.NewInt(1)},
		},
	}
}

func mineToTarget(h *wire.BtcHeader) {
	target := btcspv.CompactToBig(h.Bits)
	for nonce := uint32(0); ; nonce++ {
		h.Nonce = nonce
		if btcspv.HashToBig(h.BlockHash()).Cmp(target) <= 0 {
			return
		}
	}
}

type stubSigner struct {
	priv *btcec.PrivateKey
}

func (s *stubSigner) Sign(hash chainhash.Hash) ([]byte, error) {
	sig := ecdsa.Sign(s.priv, hash.CloneBytes())
	return sig.Serialize(), nil
}

type recordingSubmitter struct {
	submitted []*btcheaders.Payload
	rejectErr error
}

func (s *recordingSubmitter) SubmitHeadersTx(p *btcheaders.Payload) error {
	if s.rejectErr != nil {
		return s.rejectErr
	}
	s.submitted = append(s.submitted, p)
	return nil
}

// setupAheadOfLedger builds an SPV store holding the starting checkpoint
// plus two mined headers (tip height 2) next to an empty ledger, the shape
// spec.md §5's publisher tick notices.
func setupAheadOfLedger(t *testing.T) (*btcspv.Store, *btcheaders.Ledger, chainhash.Hash, *btcec.PrivateKey) {
	t.Helper()
	var genesisHash chainhash.Hash
	genesisHash[0] = 0xAB
	btcParams := testBTCParams(genesisHash)

	spvDir, err := os.MkdirTemp("", "publisher-spv")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(spvDir) })
	spv, err := btcspv.Open(spvDir, btcParams)
	require.NoError(t, err)
	t.Cleanup(func() { spv.Close() })

	// The starting checkpoint is seeded as the tip at height 0 on Open;
	// only headers extending it need real mining.
	require.Equal(t, int32(0), spv.GetTipHeight())

	h1 := &wire.BtcHeader{Version: 1, PrevHash: genesisHash, Timestamp: 1000, Bits: btcParams.PowLimitBits}
	mineToTarget(h1)
	res, err := spv.AddHeader(h1)
	require.NoError(t, err)
	require.Equal(t, btcspv.Valid, res)

	h2 := &wire.BtcHeader{Version: 1, PrevHash: h1.BlockHash(), Timestamp: 1100, Bits: btcParams.PowLimitBits}
	mineToTarget(h2)
	res, err = spv.AddHeader(h2)
	require.NoError(t, err)
	require.Equal(t, btcspv.Valid, res)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	proTxHash := chainhash.HashH([]byte("operator-1"))
	reg := masternode.NewRegistry(&masternode.Operator{
		ID: "op1", ProTxHash: proTxHash, PublicKey: priv.PubKey(), Status: masternode.StatusActive,
	})

	bathronParams := &chaincfg.BATHRONParams{
		Name:                        "unit-test",
		BTC:                         btcParams,
		BtcHeadersMaxCount:          1000,
		BtcHeadersDefaultCount:      100,
		BtcHeadersGenesisMaxCount:   5000,
		BtcHeadersMaxPayloadSize:    500000,
		BtcHeadersPublisherCooldown: 3,
	}

	ledgerDir, err := os.MkdirTemp("", "publisher-ledger")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(ledgerDir) })
	ledger, err := btcheaders.Open(ledgerDir, bathronParams, spv, reg)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	return spv, ledger, proTxHash, priv
}

func TestTickPublishesHeadersAheadOfLedgerTip(t *testing.T) {
	spv, ledger, proTxHash, priv := setupAheadOfLedger(t)
	submitter := &recordingSubmitter{}

	bathronParams := &chaincfg.BATHRONParams{
		BtcHeadersMaxCount:        1000,
		BtcHeadersGenesisMaxCount: 5000,
	}
	task := New(bathronParams, spv, ledger, proTxHash, &stubSigner{priv: priv}, submitter, 0)

	require.NoError(t, task.Tick())
	require.Len(t, submitter.submitted, 1)
	require.Equal(t, uint32(0), submitter.submitted[0].StartHeight)
	require.Len(t, submitter.submitted[0].Headers, 3)
	// Genesis bootstrap: no registered masternode yet, no signature expected.
	require.Empty(t, submitter.submitted[0].Sig)
}

func TestTickReturnsNothingToPublishWhenCaughtUp(t *testing.T) {
	spv, ledger, proTxHash, priv := setupAheadOfLedger(t)
	submitter := &recordingSubmitter{}
	bathronParams := &chaincfg.BATHRONParams{
		BtcHeadersMaxCount:        1000,
		BtcHeadersGenesisMaxCount: 5000,
	}
	task := New(bathronParams, spv, ledger, proTxHash, &stubSigner{priv: priv}, submitter, 0)
	require.NoError(t, task.Tick())
	// The ledger catches up once the published batch is connected.
	require.NoError(t, ledger.Connect(submitter.submitted[0], 1))

	require.ErrorIs(t, task.Tick(), ErrNothingToPublish)
	require.Len(t, submitter.submitted, 1)
}

func TestDisabledTaskSkipsTick(t *testing.T) {
	spv, ledger, proTxHash, priv := setupAheadOfLedger(t)
	submitter := &recordingSubmitter{}
	bathronParams := &chaincfg.BATHRONParams{
		BtcHeadersMaxCount:        1000,
		BtcHeadersGenesisMaxCount: 5000,
	}
	task := New(bathronParams, spv, ledger, proTxHash, &stubSigner{priv: priv}, submitter, 0)
	task.SetEnabled(false)

	require.NoError(t, task.Tick())
	require.Empty(t, submitter.submitted)
}

func TestStartStopIsCooperative(t *testing.T) {
	spv, ledger, proTxHash, priv := setupAheadOfLedger(t)
	submitter := &recordingSubmitter{}
	bathronParams := &chaincfg.BATHRONParams{
		BtcHeadersMaxCount:        1000,
		BtcHeadersGenesisMaxCount: 5000,
	}
	task := New(bathronParams, spv, ledger, proTxHash, &stubSigner{priv: priv}, submitter, MinInterval)
	task.interval = 20 * time.Millisecond // bypass the production clamp for a fast test tick
	task.Start()
	time.Sleep(60 * time.Millisecond)
	task.Stop()

	require.NotEmpty(t, submitter.submitted)
}

func TestIntervalIsClamped(t *testing.T) {
	require.Equal(t, MinInterval, clampInterval(time.Second))
	require.Equal(t, MaxInterval, clampInterval(time.Hour))
	require.Equal(t, 30*time.Second, clampInterval(30*time.Second))
}
