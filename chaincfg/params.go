// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2026 The BATHRON developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg defines the BTC SPV network parameters BATHRON validates
// against: PoW limits, the SPV checkpoint set (spec.md §3.1), the A7
// canonical-chain checkpoint set (spec.md §3.1/§4.1 rule 6), and the
// burn-claim constants of spec.md §4.3 and §6.5.
package chaincfg

import (
	"math/big"

	"github.com/bathron-chain/bathron/chaincfg/chainhash"
)

// bigOne is 1 represented as a big.Int, defined once to avoid repeated
// allocation (mirrors the teacher's chaincfg/params.go bigOne).
var bigOne = big.NewInt(1)

// mainPowLimit is the highest proof-of-work target a Bitcoin mainnet header
// may have: 2^224 - 1.
var mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)

// testNet3PowLimit is the highest proof-of-work target a Bitcoin testnet3
// header may have: 2^224 - 1.
var testNet3PowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)

// regTestPowLimit is the highest proof-of-work target a regtest header may
// have: 2^255 - 1 (trivial difficulty).
var regTestPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)

// SPVCheckpoint is one entry of the SPV checkpoint set (spec.md §3.1):
// an ordered (height, hash, cumulative_chain_work) triple.
type SPVCheckpoint struct {
	Height         int32
	Hash           chainhash.Hash
	CumulativeWork *big.Int
}

// A7Checkpoint enforces BTC chain identity at an exact height (spec.md
// §4.1 rule 6): a non-canonical chain with more work than the real one is
// rejected outright at these heights.
type A7Checkpoint struct {
	Height       int32
	ExpectedHash chainhash.Hash
}

// BTCParams carries every Bitcoin-SPV-relevant network constant BATHRON's
// consensus core needs (spec.md §3.1).
type BTCParams struct {
	Name string

	// PowLimit is the highest (easiest) proof-of-work target permitted.
	PowLimit *big.Int

	// PowLimitBits is PowLimit in Bitcoin's compact representation.
	PowLimitBits uint32

	// GenesisHash is the hash of the BTC genesis block this SPV chain is
	// rooted at (informational; the starting checkpoint is authoritative
	// for min_supported_height).
	GenesisHash chainhash.Hash

	// RetargetInterval is the number of blocks between difficulty
	// adjustments (2016 on Bitcoin mainnet/testnet).
	RetargetInterval int32

	// TargetTimespan is the expected total time, in seconds, for
	// RetargetInterval blocks (2 weeks on Bitcoin mainnet/testnet).
	TargetTimespan int64

	// TargetTimePerBlock is the expected spacing, in seconds, between
	// blocks (600s on Bitcoin).
	TargetTimePerBlock int64

	// ReduceMinDifficulty relaxes the retarget bits-match rule down to
	// log-only, as allowed for test networks by spec.md §4.1 rule 5.
	ReduceMinDifficulty bool

	// SPVCheckpoints is the ordered SPV checkpoint set (spec.md §3.1). The
	// first (lowest height) entry is the starting checkpoint defining
	// MinSupportedHeight.
	SPVCheckpoints []SPVCheckpoint

	// A7Checkpoints is the canonical-chain checkpoint set (spec.md §3.1
	// and §4.1 rule 6).
	A7Checkpoints []A7Checkpoint

	// BurnMagic is the 7-ASCII-byte chain tag prefixing burn OP_RETURN
	// payloads (spec.md §4.3, §6.2).
	BurnMagic [7]byte

	// BurnNetworkTag identifies this network inside the burn metadata
	// payload (spec.md §3.3).
	BurnNetworkTag uint8

	// MinBurnSats is the minimum value, in satoshis, a burn's unspendable
	// output must carry to be claimable (spec.md §4.3 step 6).
	MinBurnSats uint64

	// BurnConfirmations is K, the number of BTC confirmations required
	// before a burn claim matures into a mint (spec.md §6.5, K=6).
	BurnConfirmations uint32
}

// MinSupportedHeight returns the height of the starting checkpoint: the
// lowest height in SPVCheckpoints, below which headers are not stored and
// burns are unverifiable (spec.md §3.1).
func (p *BTCParams) MinSupportedHeight() int32 {
	if len(p.SPVCheckpoints) == 0 {
		return 0
	}
	min := p.SPVCheckpoints[0].Height
	for _, cp := range p.SPVCheckpoints[1:] {
		if cp.Height < min {
			min = cp.Height
		}
	}
	return min
}

// CheckpointByHeight returns the SPV checkpoint at the given height, if
// any.
func (p *BTCParams) CheckpointByHeight(height int32) (SPVCheckpoint, bool) {
	for _, cp := range p.SPVCheckpoints {
		if cp.Height == height {
			return cp, true
		}
	}
	return SPVCheckpoint{}, false
}

// A7CheckpointByHeight returns the A7 checkpoint at the given height, if
// any.
func (p *BTCParams) A7CheckpointByHeight(height int32) (A7Checkpoint, bool) {
	for _, cp := range p.A7Checkpoints {
		if cp.Height == height {
			return cp, true
		}
	}
	return A7Checkpoint{}, false
}

// BATHRONParams carries the BATHRON-side consensus constants: publisher
// cooldown, header-batch limits, HTLC expiry bounds (spec.md §6.5).
type BATHRONParams struct {
	Name string

	BTC *BTCParams

	BtcHeadersMaxCount          uint16
	BtcHeadersDefaultCount      uint16
	BtcHeadersGenesisMaxCount   uint16
	BtcHeadersMaxPayloadSize    uint32
	BtcHeadersPublisherCooldown int32

	HTLCMinExpiryBlocks uint32
	HTLCMaxExpiryBlocks uint32
	HTLCPreimageSize    int

	CTVMaxOutputs int
	CTVFixedFee   int64

	// CanonicalFeeRatePerKB is the fee rate, in sats per 1000 bytes, used
	// to compute the minimum mandatory fee output value (spec.md §4.4.1).
	CanonicalFeeRatePerKB int64
}

// MainNetBTCParams is the Bitcoin mainnet SPV parameter set BATHRON
// mainnet validates burns against.
var MainNetBTCParams = &BTCParams{
	Name:                "btc-mainnet",
	PowLimit:            mainPowLimit,
	PowLimitBits:        0x1d00ffff,
	RetargetInterval:    2016,
	TargetTimespan:      14 * 24 * 60 * 60,
	TargetTimePerBlock:  10 * 60,
	ReduceMinDifficulty: false,
	BurnMagic:           [7]byte{'B', 'A', 'T', 'H', 'R', 'O', 'N'},
	BurnNetworkTag:      1,
	MinBurnSats:         10000,
	BurnConfirmations:   6,
}

// TestNetBTCParams is the Bitcoin testnet3 SPV parameter set. Retarget
// mismatches are downgraded to log-only here per spec.md §4.1 rule 5 and
// §9's open question (kept, not tightened).
var TestNetBTCParams = &BTCParams{
	Name:                "btc-testnet3",
	PowLimit:            testNet3PowLimit,
	PowLimitBits:        0x1d00ffff,
	RetargetInterval:    2016,
	TargetTimespan:      14 * 24 * 60 * 60,
	TargetTimePerBlock:  10 * 60,
	ReduceMinDifficulty: true,
	BurnMagic:           [7]byte{'B', 'A', 'T', 'H', 'R', 'N', 'T'},
	BurnNetworkTag:      2,
	MinBurnSats:         1000,
	BurnConfirmations:   6,
}

// RegTestBTCParams is used for deterministic unit/integration tests.
var RegTestBTCParams = &BTCParams{
	Name:                "btc-regtest",
	PowLimit:            regTestPowLimit,
	PowLimitBits:        0x207fffff,
	RetargetInterval:    2016,
	TargetTimespan:      14 * 24 * 60 * 60,
	TargetTimePerBlock:  10 * 60,
	ReduceMinDifficulty: true,
	BurnMagic:           [7]byte{'B', 'A', 'T', 'H', 'R', 'N', 'R'},
	BurnNetworkTag:      0,
	MinBurnSats:         1,
	BurnConfirmations:   2,
}

// MainNetParams is BATHRON's production parameter set.
var MainNetParams = &BATHRONParams{
	Name:                        "mainnet",
	BTC:                         MainNetBTCParams,
	BtcHeadersMaxCount:          1000,
	BtcHeadersDefaultCount:      100,
	BtcHeadersGenesisMaxCount:   5000,
	BtcHeadersMaxPayloadSize:    500000,
	BtcHeadersPublisherCooldown: 3,
	HTLCMinExpiryBlocks:         6,
	HTLCMaxExpiryBlocks:         4320,
	HTLCPreimageSize:            32,
	CTVMaxOutputs:               4,
	CTVFixedFee:                 200,
	CanonicalFeeRatePerKB:       1000,
}

// TestNetParams is BATHRON's test parameter set, identical to MainNetParams
// except that it validates against Bitcoin testnet3.
var TestNetParams = &BATHRONParams{
	Name:                        "testnet",
	BTC:                         TestNetBTCParams,
	BtcHeadersMaxCount:          1000,
	BtcHeadersDefaultCount:      100,
	BtcHeadersGenesisMaxCount:   5000,
	BtcHeadersMaxPayloadSize:    500000,
	BtcHeadersPublisherCooldown: 3,
	HTLCMinExpiryBlocks:         6,
	HTLCMaxExpiryBlocks:         4320,
	HTLCPreimageSize:            32,
	CTVMaxOutputs:               4,
	CTVFixedFee:                 200,
	CanonicalFeeRatePerKB:       1000,
}

// RegTestParams is BATHRON's deterministic test parameter set.
var RegTestParams = &BATHRONParams{
	Name:                        "regtest",
	BTC:                         RegTestBTCParams,
	BtcHeadersMaxCount:          1000,
	BtcHeadersDefaultCount:      100,
	BtcHeadersGenesisMaxCount:   5000,
	BtcHeadersMaxPayloadSize:    500000,
	BtcHeadersPublisherCooldown: 3,
	HTLCMinExpiryBlocks:         6,
	HTLCMaxExpiryBlocks:         4320,
	HTLCPreimageSize:            32,
	CTVMaxOutputs:               4,
	CTVFixedFee:                 200,
	CanonicalFeeRatePerKB:       1000,
}
