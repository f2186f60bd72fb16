// Copyright (c) 2026 The BATHRON developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settlement

import (
	"github.com/bathron-chain/bathron/txscript"
	"github.com/bathron-chain/bathron/wire"
)

// FeeCalculator computes the minimum mandatory fee for TX_UNLOCK and
// TX_TRANSFER_M1 (spec.md §4.4.1), adapted from mempool/fee.go's
// FeeCalculator shape: a fee rate in sats per 1000 bytes applied to the
// transaction's serialized size, floored at 1 sat.
type FeeCalculator struct {
	RatePerKB int64
}

// NewFeeCalculator returns a FeeCalculator at the given sats-per-1000-bytes
// rate.
func NewFeeCalculator(ratePerKB int64) *FeeCalculator {
	return &FeeCalculator{RatePerKB: ratePerKB}
}

// MinFee returns ceil(size*rate/1000), floored at 1 sat (spec.md §4.4.1).
func (fc *FeeCalculator) MinFee(sizeBytes int) int64 {
	num := int64(sizeBytes) * fc.RatePerKB
	fee := (num + 999) / 1000
	if fee < 1 {
		fee = 1
	}
	return fee
}

// vaultScript is the canonical OP_TRUE scriptPubKey byte-exact shape every
// vault and mandatory fee output must carry (spec.md §4.4.1, §4.4.2).
var vaultScript = []byte{txscript.OP_TRUE}

// IsVaultScript reports whether script is byte-exactly the single-byte
// OP_TRUE script (spec.md §4.4.1: "strict equality, not a covers-OP_TRUE
// match").
func IsVaultScript(script []byte) bool {
	return len(script) == 1 && script[0] == txscript.OP_TRUE
}

// CheckCanonicalFeeOutput validates the mandatory fee output of a
// TX_UNLOCK or TX_TRANSFER_M1 at the given canonical index (spec.md
// §4.4.1). reasonPrefix is "unlock" or "txtransfer" to build the exact
// bad-*-fee-* reject codes of spec.md §7.
func (fc *FeeCalculator) CheckCanonicalFeeOutput(tx *wire.MsgTx, feeIndex int, reasonPrefix string) (code string, ok bool) {
	if feeIndex < 0 || feeIndex >= len(tx.TxOut) {
		return "bad-" + reasonPrefix + "-fee-missing", false
	}
	for i, out := range tx.TxOut {
		if i != feeIndex && IsVaultScript(out.PkScript) {
			return "bad-" + reasonPrefix + "-fee-index", false
		}
	}
	out := tx.TxOut[feeIndex]
	if !IsVaultScript(out.PkScript) {
		return "bad-" + reasonPrefix + "-fee-script", false
	}
	min := fc.MinFee(tx.SerializeSize())
	if out.Value < min {
		return "bad-" + reasonPrefix + "-fee-too-low", false
	}
	return "", true
}
