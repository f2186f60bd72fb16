package btcspv

import (
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bathron-chain/bathron/chaincfg"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/wire"
)

func testParams(genesisHash chainhash.Hash) *chaincfg.BTCParams {
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

func mustOpen(t *testing.T, params *chaincfg.BTCParams) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "btcspv")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := Open(dir, params)
	require.NoError(t, err)
	t.Cleanup(func() { s.db.Close() })
	return s
}

func easyHeader(prev chainhash.Hash, bits uint32, t uint32) *wire.BtcHeader {
	return &wire.BtcHeader{
		Version:   1,
		PrevHash:  prev,
		Timestamp: t,
		Bits:      bits,
	}
}

// mineToTarget brute-forces a nonce so the header hash satisfies bits. Only
// usable with the very easy regtest-style pow limit used in these tests.
func mineToTarget(h *wire.BtcHeader) {
	target := CompactToBig(h.Bits)
	for nonce := uint32(0); ; nonce++ {
		h.Nonce = nonce
		hash := h.BlockHash()
		if HashToBig(hash).Cmp(target) <= 0 {
			return
		}
	}
}

func TestAddHeaderGenesisAnchorThenExtend(t *testing.T) {
	var genesisHash chainhash.Hash
	genesisHash[0] = 0xAB

	params := testParams(genesisHash)
	s := mustOpen(t, params)

	require.Equal(t, int32(0), s.GetTipHeight())
	require.Equal(t, genesisHash, s.GetTipHash())

	h1 := easyHeader(genesisHash, params.PowLimitBits, 1000)
	mineToTarget(h1)

	res, err := s.AddHeader(h1)
	require.NoError(t, err)
	require.Equal(t, Valid, res)
	require.Equal(t, int32(1), s.GetTipHeight())
	require.Equal(t, h1.BlockHash(), s.GetTipHash())
}

func TestAddHeaderOrphanWithoutParentOrCheckpoint(t *testing.T) {
	var genesisHash chainhash.Hash
	genesisHash[0] = 1
	params := testParams(genesisHash)
	s := mustOpen(t, params)

	var randomPrev chainhash.Hash
	randomPrev[0] = 0xFF
	h := easyHeader(randomPrev, params.PowLimitBits, 1000)
	mineToTarget(h)

	res, err := s.AddHeader(h)
	require.NoError(t, err)
	require.Equal(t, Orphan, res)
}

func TestAddHeaderDuplicateShortCircuits(t *testing.T) {
	var genesisHash chainhash.Hash
	genesisHash[0] = 2
	params := testParams(genesisHash)
	s := mustOpen(t, params)

	h1 := easyHeader(genesisHash, params.PowLimitBits, 1000)
	mineToTarget(h1)
	res, err := s.AddHeader(h1)
	require.NoError(t, err)
	require.Equal(t, Valid, res)

	res, err = s.AddHeader(h1)
	require.NoError(t, err)
	require.Equal(t, Duplicate, res)
}

func TestAddHeaderRejectsFutureTimestamp(t *testing.T) {
	var genesisHash chainhash.Hash
	genesisHash[0] = 3
	params := testParams(genesisHash)
	s := mustOpen(t, params)
	s.Clock = func() time.Time { return time.Unix(1000, 0) }

	h := easyHeader(genesisHash, params.PowLimitBits, uint32(1000+maxFutureBlockTime+10))
	mineToTarget(h)

	res, err := s.AddHeader(h)
	require.NoError(t, err)
	require.Equal(t, InvalidTimestampFuture, res)
}

func TestAddHeaderRejectsMTPViolation(t *testing.T) {
	var genesisHash chainhash.Hash
	genesisHash[0] = 4
	params := testParams(genesisHash)
	s := mustOpen(t, params)
	s.Clock = func() time.Time { return time.Unix(1_700_000_000, 0) }

	genesisIdx, err := s.GetHeaderByHeight(0)
	require.NoError(t, err)
	require.NotNil(t, genesisIdx)

	// A header whose time is not strictly greater than the parent's own
	// time (and thus not greater than the trivial 1-sample MTP) must be
	// rejected.
	h := easyHeader(genesisHash, params.PowLimitBits, 0)
	mineToTarget(h)

	res, err := s.AddHeader(h)
	require.NoError(t, err)
	require.Equal(t, InvalidTimestampMtp, res)
}

func TestAddHeaderA7CheckpointRejection(t *testing.T) {
	var genesisHash chainhash.Hash
	genesisHash[0] = 5
	params := testParams(genesisHash)

	var expected chainhash.Hash
	expected[0] = 0xEE
	params.A7Checkpoints = []chaincfg.A7Checkpoint{{Height: 1, ExpectedHash: expected}}

	s := mustOpen(t, params)

	h := easyHeader(genesisHash, params.PowLimitBits, 1000)
	mineToTarget(h)
	require.NotEqual(t, expected, h.BlockHash())

	res, err := s.AddHeader(h)
	require.NoError(t, err)
	require.Equal(t, InvalidCheckpoint, res)
	require.Equal(t, int32(0), s.GetTipHeight(), "tip must not advance on checkpoint violation")
}

func TestVerifyMerkleProofThreeWayRetry(t *testing.T) {
	txid := chainhash.HashH([]byte("tx"))
	sib1 := chainhash.HashH([]byte("sib1"))
	sib2 := chainhash.HashH([]byte("sib2"))
	siblings := []chainhash.Hash{sib1, sib2}

	root := walkMerkle(txid, siblings, 1)

	ok, err := VerifyMerkleProof(txid, root, siblings, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// Fully byte-reversed inputs must also verify (R5).
	revTxid := reverseHash(txid)
	revSiblings := []chainhash.Hash{reverseHash(sib1), reverseHash(sib2)}
	ok, err = VerifyMerkleProof(revTxid, root, revSiblings, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyMerkleProofRejectsOversizeDepth(t *testing.T) {
	txid := chainhash.HashH([]byte("tx"))
	siblings := make([]chainhash.Hash, MaxMerkleProofDepth+1)
	_, err := VerifyMerkleProof(txid, txid, siblings, 0)
	require.Error(t, err)
}

func TestVerifyMerkleProofRejectsOutOfRangeIndex(t *testing.T) {
	txid := chainhash.HashH([]byte("tx"))
	siblings := []chainhash.Hash{chainhash.HashH([]byte("a"))}
	_, err := VerifyMerkleProof(txid, txid, siblings, 2)
	require.Error(t, err)
}
