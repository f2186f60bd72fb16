package consensus

import (
	"github.com/bathron-chain/bathron/txscript"
	"github.com/bathron-chain/bathron/wire"
)

// MaxTxSize bounds a transaction's serialized size (spec.md §4.4.3 rule 3,
// "MAX_TX_SIZE_AFTER_SAPLING"). BATHRON carries no shielded-transaction
// history to inherit an exact figure from, so the bound is set to the
// same 1,000,000-byte ceiling Bitcoin-derived chains use. SerializeSize
// counts ExtraPayload, so HTLC redeem scripts and BTC header batches
// carried there fall under this bound too; header batches are also held
// to the smaller chaincfg.BATHRONParams.BtcHeadersMaxPayloadSize by
// btcheaders.Ledger.Validate.
const MaxTxSize = 1_000_000

const maxCoinbaseScriptSigLen = 150
const minCoinbaseScriptSigLen = 2

// allowsEmptyVin reports whether nType's vin may legitimately be empty
// (spec.md §4.4.3 rule 1: "unless special-TX allows empty on that side").
// TX_LOCK debits an M0 balance rather than spending a UTXO, so it alone
// carries no inputs; TX_BURN_CLAIM/TX_MINT_M0BTC/TX_BTC_HEADERS are driven
// entirely by ExtraPayload and likewise spend nothing.
func allowsEmptyVin(t wire.TxType) bool {
	switch t {
	case wire.TxLock, wire.TxBurnClaim, wire.TxMintM0BTC, wire.TxBtcHeaders:
		return true
	default:
		return false
	}
}

// allowsEmptyVout mirrors allowsEmptyVin for the output side. TX_UNLOCK
// credits an M0 balance rather than creating a UTXO, so besides the
// mandatory fee output it has no required vout shape; TX_MINT_M0BTC and
// TX_BTC_HEADERS likewise produce no outputs.
func allowsEmptyVout(t wire.TxType) bool {
	switch t {
	case wire.TxMintM0BTC, wire.TxBtcHeaders:
		return true
	default:
		return false
	}
}

// allowsOpTrueOutput reports whether nType may legitimately carry an
// output whose scriptPubKey is byte-exactly OP_TRUE (spec.md §4.4.3 rule
// 5, §4.4.1's vault/fee shape, §8 property P3).
func allowsOpTrueOutput(t wire.TxType) bool {
	switch t {
	case wire.TxLock, wire.TxUnlock, wire.TxTransferM1:
		return true
	default:
		return false
	}
}

// CheckTransaction implements spec.md §4.4.3's pre-context validation
// order (rules 1-8), called before any component engine is consulted.
// Grounded on blockchain/shell_validate.go's CheckShellTransactionSanity,
// which likewise ran a layer of structural checks ahead of Shell-specific
// rules; BATHRON's structural layer is this function, and the
// type-specific rules (fee shape, HTLC script, burn proof) are C4/C5's
// post-context layer in dispatch.go.
func CheckTransaction(tx *wire.MsgTx, isCoinbase bool) *Reject {
	// Rule 1: non-empty vin/vout unless the tx type allows empty on that
	// side.
	if len(tx.TxIn) == 0 && !isCoinbase && !allowsEmptyVin(tx.Type) {
		return reject(dosLow, CodeTxnsVinEmpty, "transaction has no inputs")
	}
	if len(tx.TxOut) == 0 && !allowsEmptyVout(tx.Type) {
		return reject(dosLow, CodeTxnsVoutEmpty, "transaction has no outputs")
	}

	// Rule 2: version range.
	if tx.Version < 1 || tx.Version > 2 {
		return reject(dosLow, CodeTxVersionTooHigh, "transaction version out of range")
	}

	// Rule 3: total size.
	if tx.SerializeSize() > MaxTxSize {
		return reject(dosLow, CodeTxnsOversize, "transaction exceeds maximum size")
	}

	// Rule 4: output value bounds and running sum.
	var total int64
	for _, out := range tx.TxOut {
		if out.Value < 0 {
			return reject(dosMid, CodeTxnsVoutNegative, "output value is negative")
		}
		if out.Value > wire.MaxMoney {
			return reject(dosMid, CodeTxnsVoutToolarge, "output value exceeds maximum money")
		}
		total += out.Value
		if total > wire.MaxMoney {
			return reject(dosMid, CodeTxnsTxouttotalToolarge, "sum of output values exceeds maximum money")
		}
	}

	// Rule 5: OP_TRUE gate.
	if !allowsOpTrueOutput(tx.Type) {
		for _, out := range tx.TxOut {
			if len(out.PkScript) == 1 && out.PkScript[0] == txscript.OP_TRUE {
				return reject(dosMid, CodeTxnsOptrueForbidden, "OP_TRUE output outside LOCK/UNLOCK/TRANSFER_M1")
			}
		}
	}

	// Rule 6: no duplicate inputs.
	seen := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	for _, in := range tx.TxIn {
		if _, dup := seen[in.PreviousOutPoint]; dup {
			return reject(dosHigh, CodeTxnsInputsDuplicate, "transaction spends the same outpoint twice")
		}
		seen[in.PreviousOutPoint] = struct{}{}
	}

	if isCoinbase {
		// Rule 7: a coinbase must have exactly one input whose scriptSig
		// length lies in [2, 150]. A coinbase passing these two checks is
		// accepted; its outputs are not checked against exchange
		// addresses. (BATHRON mints M0 only through TX_MINT_M0BTC, and
		// ConnectBlock checks every transaction as non-coinbase.)
		if len(tx.TxIn) != 1 {
			return reject(dosHigh, CodeCbLength, "coinbase must have exactly one input")
		}
		sigLen := len(tx.TxIn[0].SignatureScript)
		if sigLen < minCoinbaseScriptSigLen || sigLen > maxCoinbaseScriptSigLen {
			return reject(dosHigh, CodeCbLength, "coinbase scriptSig length out of range")
		}
	} else {
		// Rule 8: non-coinbase transactions may not reference a null
		// prevout, except the special tx types whose vin is legitimately
		// empty (rule 1 already dealt with those having no inputs at
		// all).
		var zero wire.OutPoint
		for _, in := range tx.TxIn {
			if in.PreviousOutPoint == zero {
				return reject(dosHigh, CodeTxnsPrevoutNull, "non-coinbase input references a null prevout")
			}
		}
	}

	return nil
}
