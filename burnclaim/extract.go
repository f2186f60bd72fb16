// Copyright (c) 2026 The BATHRON developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package burnclaim implements C3, the Bitcoin burn-claim engine: raw BTC
// transaction parsing, merkle-inclusion verification against C2, K-deep
// confirmation gating, dedup, and the two-phase TX_BURN_CLAIM /
// TX_MINT_M0BTC pending-mint schedule (spec.md §4.3, §3.3).
package burnclaim

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	btcdwire "github.com/btcsuite/btcd/wire"

	"github.com/bathron-chain/bathron/chaincfg"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/txscript"
)

// opReturn is Bitcoin's OP_RETURN opcode.
const opReturn = 0x6a

// BurnMetadataVersion is the version byte of the OP_RETURN payload format
// (spec.md §6.2): `MAGIC || version:u8 || network_tag:u8 || dest_hash160`.
const BurnMetadataVersion uint8 = 1

var (
	errBadMagic     = fmt.Errorf("burnclaim: OP_RETURN magic/version/network mismatch")
	errBurnTooSmall = fmt.Errorf("burnclaim: no sibling unspendable output meets the minimum burn amount")
)

// sinkScript is the canonical P2WSH(OP_FALSE) scriptPubKey BATHRON
// recognizes as a provably-unspendable burn sink (spec.md §4.3, §6.2):
// `OP_0 <sha256(witness script)>` where the witness script is the single
// byte OP_FALSE (0x00).
func sinkScript() []byte {
	h := sha256.Sum256([]byte{0x00})
	out := make([]byte, 0, 34)
	out = append(out, 0x00, 0x20)
	out = append(out, h[:]...)
	return out
}

// ExtractedBurn is what ExtractBurnOutput recovers from a raw Bitcoin
// transaction's outputs.
type ExtractedBurn struct {
	BtcTxid     chainhash.Hash
	DestHash160 [20]byte
	AmountSats  uint64
}

// ExtractBurnOutput parses a raw, wire-serialized Bitcoin transaction and
// locates its OP_RETURN metadata output plus a sibling provably-unspendable
// burn output meeting the network's minimum (spec.md §4.3 step 6).
func ExtractBurnOutput(rawTx []byte, btc *chaincfg.BTCParams) (*ExtractedBurn, error) {
	var tx btcdwire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, fmt.Errorf("burnclaim: decode raw btc tx: %w", err)
	}

	sink := sinkScript()

	var (
		haveMeta    bool
		destHash160 [20]byte
		haveSink    bool
		amount      uint64
	)

	for _, out := range tx.TxOut {
		if !haveMeta && len(out.PkScript) > 0 && out.PkScript[0] == opReturn {
			if d, ok := parseBurnMetadata(out.PkScript[1:], btc); ok {
				destHash160 = d
				haveMeta = true
			}
		}
		if !haveSink && bytes.Equal(out.PkScript, sink) && out.Value >= 0 && uint64(out.Value) >= btc.MinBurnSats {
			amount = uint64(out.Value)
			haveSink = true
		}
	}

	if !haveMeta {
		return nil, errBadMagic
	}
	if !haveSink {
		return nil, errBurnTooSmall
	}

	return &ExtractedBurn{
		BtcTxid:     chainhash.Hash(tx.TxHash()),
		DestHash160: destHash160,
		AmountSats:  amount,
	}, nil
}

func parseBurnMetadata(script []byte, btc *chaincfg.BTCParams) ([20]byte, bool) {
	var dest [20]byte
	pushes, err := txscript.ExtractDataPushes(script)
	if err != nil || len(pushes) != 1 {
		return dest, false
	}
	data := pushes[0]
	const wantLen = 7 + 1 + 1 + 20
	if len(data) != wantLen {
		return dest, false
	}
	if !bytes.Equal(data[:7], btc.BurnMagic[:]) {
		return dest, false
	}
	if data[7] != BurnMetadataVersion {
		return dest, false
	}
	if data[8] != btc.BurnNetworkTag {
		return dest, false
	}
	copy(dest[:], data[9:29])
	return dest, true
}
