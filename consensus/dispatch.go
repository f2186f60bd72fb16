package consensus

import (
	"crypto/sha256"
	"errors"

	"github.com/bathron-chain/bathron/btcheaders"
	"github.com/bathron-chain/bathron/burnclaim"
	"github.com/bathron-chain/bathron/chaincfg"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/htlc"
	"github.com/bathron-chain/bathron/settlement"
	"github.com/bathron-chain/bathron/txscript"
	"github.com/bathron-chain/bathron/wire"
)

// Engines bundles every component store the dispatcher drives, replacing
// blockchain/shell_state.go's ShellChainState (which held *channels.
// ChannelState and *claimable.ClaimableState side by side and dispatched
// to them from one ProcessShellOpcode switch over a byte opcode).
// BATHRON's switch is over wire.TxType instead, and reaches five stores
// rather than two.
type Engines struct {
	Settlement *settlement.Engine
	HTLC       *htlc.Engine
	BurnClaim  *burnclaim.Engine
	Ledger     *btcheaders.Ledger
	Params     *chaincfg.BATHRONParams
	FeeCalc    *settlement.FeeCalculator
}

// NewEngines wires the component stores together at the fee rate fixed by
// params (spec.md §4.4.1).
func NewEngines(settle *settlement.Engine, h *htlc.Engine, burn *burnclaim.Engine, ledger *btcheaders.Ledger, params *chaincfg.BATHRONParams) *Engines {
	return &Engines{
		Settlement: settle,
		HTLC:       h,
		BurnClaim:  burn,
		Ledger:     ledger,
		Params:     params,
		FeeCalc:    settlement.NewFeeCalculator(params.CanonicalFeeRatePerKB),
	}
}

// htlcOutputIndex reports the index of tx's sole P2SH-HTLC shaped output,
// if the decoded HTLCExtra says this transfer creates one.
func htlcOutputIndex(tx *wire.MsgTx, redeemScript []byte) (int, bool) {
	for i, out := range tx.TxOut {
		if txscript.IsP2SHHTLCOutput(out.PkScript, redeemScript) {
			return i, true
		}
	}
	return 0, false
}

// ApplyTransaction is the tagged-union post-context dispatcher (spec.md
// §9): it consults exactly one of Engines' stores per wire.TxType and
// returns the Reject the first failing rule produces, or nil on success.
// txid is the transaction's hash; height is the BATHRON block height the
// transaction is being connected at.
func (en *Engines) ApplyTransaction(txid chainhash.Hash, tx *wire.MsgTx, height int32) *Reject {
	switch tx.Type {
	case wire.TxLock:
		return en.applyLock(txid, tx, height)
	case wire.TxUnlock:
		return en.applyUnlock(txid, tx)
	case wire.TxTransferM1:
		return en.applyTransferOrHTLC(txid, tx, height)
	case wire.TxBurnClaim:
		return en.applyBurnClaim(txid, tx, height)
	case wire.TxMintM0BTC:
		return en.applyMint(txid, tx)
	case wire.TxBtcHeaders:
		// TX_BTC_HEADERS is validated and connected against the header
		// ledger directly by block.go's ConnectBlock, which already
		// holds the ledger reference and the block's BATHRON height;
		// nothing further is required of the per-tx dispatcher.
		return nil
	default:
		return reject(dosMid, CodeTxVersionTooHigh, "unknown transaction type")
	}
}

func (en *Engines) applyLock(txid chainhash.Hash, tx *wire.MsgTx, height int32) *Reject {
	if len(tx.TxOut) != 2 {
		return reject(dosLow, CodeTxnsVoutEmpty, "lock requires exactly a vault and a receipt output")
	}
	if !settlement.IsVaultScript(tx.TxOut[0].PkScript) {
		return reject(dosMid, CodeSettlementInsufficientBalance, "lock vault output is not byte-exact OP_TRUE")
	}
	payload, err := DecodeLockPayload(tx.ExtraPayload)
	if err != nil {
		return reject(dosLow, CodeTxnsVoutEmpty, err.Error())
	}
	if tx.TxOut[0].Value != payload.Amount || tx.TxOut[1].Value != payload.Amount {
		return reject(dosMid, CodeSettlementInsufficientBalance, "lock vault/receipt value does not match payload amount")
	}
	receiptOutpoint := wire.OutPoint{Hash: txid, Index: 1}
	if err := en.Settlement.ApplyLock(txid, height, payload.SourceDest, payload.Amount, receiptOutpoint); err != nil {
		return settlementReject(err, "lock")
	}
	return nil
}

func (en *Engines) applyUnlock(txid chainhash.Hash, tx *wire.MsgTx) *Reject {
	if len(tx.TxIn) != 1 {
		return reject(dosLow, CodeTxnsVinEmpty, "unlock consumes exactly one receipt")
	}
	payload, err := DecodeUnlockPayload(tx.ExtraPayload)
	if err != nil {
		return reject(dosLow, CodeTxnsVoutEmpty, err.Error())
	}
	const feeIndex = 0
	code, ok := en.FeeCalc.CheckCanonicalFeeOutput(tx, feeIndex, "unlock")
	if !ok {
		return reject(dosMid, code, "unlock fee output failed canonical check")
	}
	consumed := tx.TxIn[0].PreviousOutPoint
	rec, err := en.Settlement.GetReceipt(consumed)
	if err != nil {
		return reject(dosHigh, "internal", err.Error())
	}
	if rec == nil {
		return reject(dosMid, CodeSettlementUnknownReceipt, "unlock references an unknown receipt")
	}
	fee := tx.TxOut[feeIndex].Value
	if err := en.Settlement.ApplyUnlock(txid, consumed, rec.Amount, fee, payload.DestDest); err != nil {
		return settlementReject(err, "unlock")
	}
	return nil
}

// applyTransferOrHTLC handles plain TX_TRANSFER_M1 receipt shuffles and,
// when ExtraPayload decodes as an HTLCExtra, the CREATE/CLAIM/REFUND
// lifecycle transitions layered on the same accounting (spec.md §4.5.5).
func (en *Engines) applyTransferOrHTLC(txid chainhash.Hash, tx *wire.MsgTx, height int32) *Reject {
	if len(tx.TxIn) == 0 || len(tx.TxOut) < 2 {
		return reject(dosLow, CodeTxnsVinEmpty, "transfer requires at least one input and a receipt plus fee output")
	}
	feeIndex := len(tx.TxOut) - 1
	code, ok := en.FeeCalc.CheckCanonicalFeeOutput(tx, feeIndex, "txtransfer")
	if !ok {
		return reject(dosMid, code, "transfer fee output failed canonical check")
	}

	if len(tx.ExtraPayload) > 0 {
		extra, err := DecodeHTLCExtra(tx.ExtraPayload)
		if err == nil && extra.Action != HTLCActionNone {
			return en.applyHTLCAction(txid, tx, height, feeIndex, extra)
		}
	}

	consumed := make([]wire.OutPoint, 0, len(tx.TxIn))
	for _, in := range tx.TxIn {
		consumed = append(consumed, in.PreviousOutPoint)
	}
	outputs := make([]settlement.TransferOutput, 0, feeIndex)
	for i := 0; i < feeIndex; i++ {
		outputs = append(outputs, settlement.TransferOutput{
			Outpoint: wire.OutPoint{Hash: txid, Index: uint32(i)},
			Amount:   tx.TxOut[i].Value,
		})
	}
	fee := tx.TxOut[feeIndex].Value
	if err := en.Settlement.ApplyTransfer(txid, height, consumed, outputs, fee); err != nil {
		return settlementReject(err, "txtransfer")
	}
	return nil
}

func (en *Engines) applyHTLCAction(txid chainhash.Hash, tx *wire.MsgTx, height int32, feeIndex int, extra *HTLCExtra) *Reject {
	switch extra.Action {
	case HTLCActionCreate1S, HTLCActionCreate3S:
		return en.applyHTLCCreate(txid, tx, height, feeIndex, extra)
	case HTLCActionResolve1S, HTLCActionResolve3S:
		return en.applyHTLCResolve(txid, tx, height, feeIndex, extra)
	default:
		return reject(dosLow, CodeHTLCVersion, "unknown HTLC action")
	}
}

func (en *Engines) applyHTLCCreate(txid chainhash.Hash, tx *wire.MsgTx, height int32, feeIndex int, extra *HTLCExtra) *Reject {
	if len(tx.TxIn) != 1 {
		return reject(dosLow, CodeTxnsVinEmpty, "HTLC create consumes exactly one receipt")
	}
	idx, ok := htlcOutputIndex(tx, extra.RedeemScript)
	if !ok {
		return reject(dosMid, CodeHTLCRedeemMismatch, "no output commits to the supplied redeem script")
	}
	amount := tx.TxOut[idx].Value
	htlcOutpoint := wire.OutPoint{Hash: txid, Index: uint32(idx)}
	originalReceipt := tx.TxIn[0].PreviousOutPoint

	// The HTLC output is, from settlement's point of view, just another
	// receipt outpoint; its P2SH script shape is htlc.Engine's concern,
	// not settlement's (spec.md §9's back-pointer design: both stores key
	// off the same outpoint).
	if err := en.Settlement.ApplyTransfer(txid, height, []wire.OutPoint{originalReceipt},
		[]settlement.TransferOutput{{Outpoint: htlcOutpoint, Amount: amount}}, tx.TxOut[feeIndex].Value); err != nil {
		return settlementReject(err, "txtransfer")
	}

	if extra.Action == HTLCActionCreate1S {
		params, derr := txscript.DecodeHTLC1SecretScript(extra.RedeemScript)
		if derr != nil {
			return reject(dosMid, CodeHTLCVersion, derr.Error())
		}
		if rej := en.checkExpiryBand(params.Timelock, height); rej != nil {
			return rej
		}
		if err := en.HTLC.Create1S(txid, height, htlcOutpoint, originalReceipt, amount, params); err != nil {
			return reject(dosHigh, "internal", err.Error())
		}
		return nil
	}

	params, derr := txscript.DecodeHTLC3SecretScript(extra.RedeemScript)
	if derr != nil {
		return reject(dosMid, CodeHTLCVersion, derr.Error())
	}
	if rej := en.checkExpiryBand(params.Timelock, height); rej != nil {
		return rej
	}
	if err := en.HTLC.Create3S(txid, height, htlcOutpoint, originalReceipt, amount, params); err != nil {
		return reject(dosHigh, "internal", err.Error())
	}
	return nil
}

// checkExpiryBand enforces spec.md §6.5's HTLC_MIN_EXPIRY_BLOCKS/
// MAX_EXPIRY_BLOCKS bounds on a redeem script's absolute CLTV timelock,
// measured relative to the block the CREATE transaction lands in.
func (en *Engines) checkExpiryBand(timelock int64, createHeight int32) *Reject {
	if timelock <= int64(createHeight) {
		return reject(dosMid, CodeHTLCZeroExpiry, "HTLC timelock does not extend past the create height")
	}
	blocks := uint32(timelock - int64(createHeight))
	if blocks < en.Params.HTLCMinExpiryBlocks || blocks > en.Params.HTLCMaxExpiryBlocks {
		return reject(dosMid, CodeHTLCExpiryOutOfBand, "HTLC expiry outside the configured band")
	}
	return nil
}

func (en *Engines) applyHTLCResolve(txid chainhash.Hash, tx *wire.MsgTx, height int32, feeIndex int, extra *HTLCExtra) *Reject {
	if len(tx.TxIn) != 1 {
		return reject(dosLow, CodeTxnsVinEmpty, "HTLC resolve consumes exactly the HTLC output")
	}
	htlcOutpoint := tx.TxIn[0].PreviousOutPoint
	branchA := len(extra.Preimages) > 0
	newReceipt := wire.OutPoint{Hash: txid, Index: 0}

	if extra.Action == HTLCActionResolve1S {
		rec, err := en.HTLC.GetRecord1S(htlcOutpoint)
		if err != nil {
			return reject(dosHigh, "internal", err.Error())
		}
		if rec == nil {
			return reject(dosMid, CodeHTLCUnknownOutpoint, "no HTLC record at outpoint")
		}
		if rec.Status != htlc.StatusActive {
			return reject(dosMid, CodeHTLCWrongStatus, "HTLC is not active")
		}
		if branchA {
			if len(extra.Preimages) != 1 || sha256.Sum256(extra.Preimages[0][:]) != rec.Hashlock {
				return reject(dosHigh, CodeHTLC3SPreimageMismatch, "claim preimage does not match hashlock")
			}
			if rec.Covenant != nil {
				if err := txscript.VerifyTemplateCommitment(rec.Covenant[:], tx); err != nil {
					return reject(dosHigh, CodeHTLCCovenantMismatch, err.Error())
				}
			}
		} else if int64(height) < rec.Timelock {
			return reject(dosMid, CodeHTLCBeforeExpiry, "HTLC refund attempted before expiry height")
		}
		toStatus := extra.Action.resolveToStatus(branchA)
		if err := en.HTLC.Resolve1S(txid, htlcOutpoint, toStatus); err != nil {
			return reject(dosHigh, "internal", err.Error())
		}
		return en.settleHTLCResolve(txid, htlcOutpoint, newReceipt, rec.Amount, tx, feeIndex)
	}

	rec, err := en.HTLC.GetRecord3S(htlcOutpoint)
	if err != nil {
		return reject(dosHigh, "internal", err.Error())
	}
	if rec == nil {
		return reject(dosMid, CodeHTLCUnknownOutpoint, "no HTLC record at outpoint")
	}
	if rec.Status != htlc.StatusActive {
		return reject(dosMid, CodeHTLCWrongStatus, "HTLC is not active")
	}
	if branchA {
		if len(extra.Preimages) != 3 {
			return reject(dosHigh, CodeHTLC3SPreimageOrder, "claim must reveal exactly three preimages in canonical order")
		}
		want := [3][32]byte{rec.HashUser, rec.HashLP1, rec.HashLP2}
		for i, p := range extra.Preimages {
			if sha256.Sum256(p[:]) != want[i] {
				return reject(dosHigh, CodeHTLC3SPreimageMismatch, "claim preimage does not match hashlock in canonical order")
			}
		}
		if rec.Covenant != nil {
			if err := txscript.VerifyTemplateCommitment(rec.Covenant[:], tx); err != nil {
				return reject(dosHigh, CodeHTLCCovenantMismatch, err.Error())
			}
		}
	} else if int64(height) < rec.Timelock {
		return reject(dosMid, CodeHTLCBeforeExpiry, "HTLC refund attempted before expiry height")
	}
	toStatus := extra.Action.resolveToStatus(branchA)
	if err := en.HTLC.Resolve3S(txid, htlcOutpoint, toStatus); err != nil {
		return reject(dosHigh, "internal", err.Error())
	}
	return en.settleHTLCResolve(txid, htlcOutpoint, newReceipt, rec.Amount, tx, feeIndex)
}

func (en *Engines) settleHTLCResolve(txid chainhash.Hash, htlcOutpoint, newReceipt wire.OutPoint, amount int64, tx *wire.MsgTx, feeIndex int) *Reject {
	fee := tx.TxOut[feeIndex].Value
	if err := en.Settlement.ApplyTransfer(txid, 0, []wire.OutPoint{htlcOutpoint},
		[]settlement.TransferOutput{{Outpoint: newReceipt, Amount: amount - fee}}, fee); err != nil {
		return settlementReject(err, "txtransfer")
	}
	return nil
}

func (en *Engines) applyBurnClaim(txid chainhash.Hash, tx *wire.MsgTx, height int32) *Reject {
	payload, err := burnclaim.DecodeClaimPayload(tx.ExtraPayload)
	if err != nil {
		return reject(dosLow, CodeBurnBadOutput, err.Error())
	}
	extracted, err := en.BurnClaim.ValidateClaim(payload, en.Ledger, en.Params.BTC)
	if err != nil {
		return reject(dosMid, burnClaimCode(err), err.Error())
	}
	if err := en.BurnClaim.ConnectClaim(txid, extracted, payload.BlockHeight, en.Params.BTC); err != nil {
		return reject(dosHigh, "internal", err.Error())
	}
	return nil
}

func (en *Engines) applyMint(txid chainhash.Hash, tx *wire.MsgTx) *Reject {
	payload, err := burnclaim.DecodeMintPayload(tx.ExtraPayload)
	if err != nil {
		return reject(dosLow, CodeBurnBadOutput, err.Error())
	}
	pending, err := en.BurnClaim.ValidateMint(payload)
	if err != nil {
		return reject(dosMid, burnClaimCode(err), err.Error())
	}
	connected, err := en.BurnClaim.ConnectMint(txid, payload)
	if err != nil {
		return reject(dosHigh, "internal", err.Error())
	}
	if err := en.Settlement.CreditM0(connected.Dest, connected.Amount); err != nil {
		return reject(dosHigh, "internal", err.Error())
	}
	_ = pending
	return nil
}

// settlementReject translates a settlement.Engine error into a
// DoS-scored Reject.
func settlementReject(err error, prefix string) *Reject {
	switch {
	case errors.Is(err, settlement.ErrInsufficientBalance):
		return reject(dosMid, CodeSettlementInsufficientBalance, err.Error())
	case errors.Is(err, settlement.ErrUnknownReceipt):
		return reject(dosMid, CodeSettlementUnknownReceipt, err.Error())
	case errors.Is(err, settlement.ErrAmountMismatch):
		return reject(dosMid, CodeSettlementAmountMismatch, err.Error())
	case errors.Is(err, settlement.ErrValueNotConserved):
		return reject(dosMid, CodeSettlementValueNotConserved, err.Error())
	default:
		return reject(dosHigh, "internal", err.Error())
	}
}

func burnClaimCode(err error) string {
	switch {
	case errors.Is(err, burnclaim.ErrAlreadyClaimed):
		return CodeBurnAlreadyClaimed
	case errors.Is(err, burnclaim.ErrBlockNotInLedger):
		return CodeBurnBlockNotInLedger
	case errors.Is(err, burnclaim.ErrBelowMinHeight):
		return CodeBurnBelowMinHeight
	case errors.Is(err, burnclaim.ErrMerkleRootMismatch):
		return CodeBurnMerkleMismatch
	case errors.Is(err, burnclaim.ErrBadMerkleProof):
		return CodeBurnBadProof
	case errors.Is(err, burnclaim.ErrInsufficientDepth):
		return CodeBurnInsufficientDepth
	case errors.Is(err, burnclaim.ErrAlreadyMinted):
		return CodeBurnAlreadyMinted
	case errors.Is(err, burnclaim.ErrNoPendingMint):
		return CodeBurnNoPendingMint
	default:
		return CodeBurnBadOutput
	}
}
