package consensus

import (
	"fmt"

	"github.com/bathron-chain/bathron/btcheaders"
	"github.com/bathron-chain/bathron/btcspv"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/log"
	"github.com/bathron-chain/bathron/wire"
)

// Block is the minimal BATHRON block shape consensus needs: a height and
// an ordered transaction list. BATHRON's block header/PoW/BFT finality
// gadget is explicitly out of scope (spec.md §1 Non-goals); ConnectBlock
// only orchestrates what spec.md's C1-C5 components must agree on for one
// block's worth of transactions.
type Block struct {
	Height int32
	Txs    []*wire.MsgTx
}

// snapshot captures the three supply counters for the I5/I6 end-of-block
// check (spec.md §5: "checked at end-of-block over the batch's net delta,
// not per-TX").
type snapshot struct {
	m0Total, m0Vaulted, m1Supply uint64
}

// ConnectBlock validates and applies every transaction in blk in
// appearance order (spec.md §5 "Ordering guarantees"), then re-checks
// invariants I5/I6 once over the block's net delta as a second,
// block-level line of defense layered on top of settlement.Engine's own
// per-operation invariant preservation. Grounded on
// blockchain/shell_state.go's Commit(), which likewise finalized a
// batch of opcode-driven mutations after per-transaction processing;
// here the mutation is fanned out across five component stores instead
// of one ShellChainState, each of which commits its own atomic batch —
// there is no attempt to wrap all five in one cross-database transaction,
// since goleveldb cannot provide that. A failure partway through a block
// therefore leaves that block's effects partially committed; the caller
// must not advance the chain tip past a block that failed here. Nothing
// here recovers a block left partially committed by a crash.
func ConnectBlock(en *Engines, ledger *btcheaders.Ledger, spv *btcspv.Store, blk *Block) *Reject {
	before, err := en.supplySnapshot()
	if err != nil {
		return reject(dosHigh, "internal", err.Error())
	}

	isGenesis := blk.Height == 0
	for _, tx := range blk.Txs {
		// BATHRON has no block-reward coinbase (spec.md §1 Non-goals:
		// "no monetary policy/block rewards"); every transaction is
		// checked as non-coinbase.
		if rej := CheckTransaction(tx, false); rej != nil {
			return rej
		}

		if tx.Type == wire.TxBtcHeaders {
			if rej := connectHeaders(ledger, spv, tx, blk.Height, isGenesis); rej != nil {
				return rej
			}
			continue
		}

		if rej := en.ApplyTransaction(tx.TxHash(), tx, blk.Height); rej != nil {
			return rej
		}
	}

	after, err := en.supplySnapshot()
	if err != nil {
		return reject(dosHigh, "internal", err.Error())
	}
	if after.m0Vaulted != after.m1Supply {
		return reject(dosHigh, CodeSettlementInvariantI6, fmt.Sprintf("I6 violated at end of block %d: vaulted=%d supply=%d", blk.Height, after.m0Vaulted, after.m1Supply))
	}
	if after.m0Total < before.m0Total {
		return reject(dosHigh, CodeSettlementInvariantI6, fmt.Sprintf("I5 violated at end of block %d: M0_total decreased", blk.Height))
	}

	log.ConsensusLog.Debugf("connected block %d: %d txs, M0_total=%d M0_vaulted=%d M1_supply=%d",
		blk.Height, len(blk.Txs), after.m0Total, after.m0Vaulted, after.m1Supply)
	return nil
}

// DisconnectBlock reverses ConnectBlock's effects in reverse transaction
// order, mirroring how a reorg unwinds any Bitcoin-derived chain.
func DisconnectBlock(en *Engines, ledger *btcheaders.Ledger, blk *Block) error {
	for i := len(blk.Txs) - 1; i >= 0; i-- {
		tx := blk.Txs[i]
		txid := tx.TxHash()
		switch tx.Type {
		case wire.TxLock:
			receiptOutpoint := wire.OutPoint{Hash: txid, Index: 1}
			if err := en.Settlement.DisconnectLock(txid, receiptOutpoint); err != nil {
				return err
			}
		case wire.TxUnlock:
			if err := en.Settlement.DisconnectUnlock(txid); err != nil {
				return err
			}
		case wire.TxTransferM1:
			if err := disconnectTransferOrHTLC(en, txid, tx); err != nil {
				return err
			}
		case wire.TxBurnClaim:
			if err := en.BurnClaim.DisconnectClaim(txid); err != nil {
				return err
			}
		case wire.TxMintM0BTC:
			pending, err := en.BurnClaim.DisconnectMint(txid)
			if err != nil {
				return err
			}
			if err := en.Settlement.DebitM0(pending.Dest, pending.Amount); err != nil {
				return err
			}
		case wire.TxBtcHeaders:
			payload, err := btcheaders.DecodePayload(tx.ExtraPayload)
			if err != nil {
				return err
			}
			if err := ledger.Disconnect(payload); err != nil {
				return err
			}
		}
	}
	return nil
}

func disconnectTransferOrHTLC(en *Engines, txid chainhash.Hash, tx *wire.MsgTx) error {
	if len(tx.ExtraPayload) > 0 {
		extra, err := DecodeHTLCExtra(tx.ExtraPayload)
		if err == nil && extra.Action != HTLCActionNone {
			return disconnectHTLC(en, tx, extra)
		}
	}
	return en.Settlement.DisconnectTransfer(txid)
}

// disconnectHTLC reverses a CREATE or RESOLVE transition: first the
// plain receipt-accounting half (handled identically to any other
// TRANSFER_M1, since the HTLC output is just another receipt outpoint to
// settlement), then the HTLC-specific lifecycle record via htlc.Engine's
// matching Undo* call.
func disconnectHTLC(en *Engines, tx *wire.MsgTx, extra *HTLCExtra) error {
	txid := tx.TxHash()
	if err := en.Settlement.DisconnectTransfer(txid); err != nil {
		return err
	}
	switch extra.Action {
	case HTLCActionCreate1S:
		idx, ok := htlcOutputIndex(tx, extra.RedeemScript)
		if !ok {
			return fmt.Errorf("consensus: cannot locate HTLC output to disconnect create for %s", txid)
		}
		_, _, err := en.HTLC.UndoCreate1S(txid, wire.OutPoint{Hash: txid, Index: uint32(idx)})
		return err
	case HTLCActionCreate3S:
		idx, ok := htlcOutputIndex(tx, extra.RedeemScript)
		if !ok {
			return fmt.Errorf("consensus: cannot locate HTLC output to disconnect create for %s", txid)
		}
		_, _, err := en.HTLC.UndoCreate3S(txid, wire.OutPoint{Hash: txid, Index: uint32(idx)})
		return err
	case HTLCActionResolve1S:
		return en.HTLC.UndoResolve1S(txid, tx.TxIn[0].PreviousOutPoint)
	case HTLCActionResolve3S:
		return en.HTLC.UndoResolve3S(txid, tx.TxIn[0].PreviousOutPoint)
	}
	return nil
}

func (en *Engines) supplySnapshot() (snapshot, error) {
	m0t, m0v, m1s, err := en.Settlement.Supply()
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{m0Total: m0t, m0Vaulted: m0v, m1Supply: m1s}, nil
}

func connectHeaders(ledger *btcheaders.Ledger, spv *btcspv.Store, tx *wire.MsgTx, height int32, isGenesis bool) *Reject {
	payload, err := btcheaders.DecodePayload(tx.ExtraPayload)
	if err != nil {
		return reject(dosLow, string(btcheaders.RejectBadShape), err.Error())
	}
	if verr := ledger.Validate(payload, len(tx.ExtraPayload), spv.GetTipHeight(), isGenesis); verr != nil {
		return translateLedgerReject(verr)
	}
	if err := ledger.Connect(payload, height); err != nil {
		return reject(dosHigh, "internal", err.Error())
	}
	return nil
}

// translateLedgerReject wraps a btcheaders.Reject (which carries no DoS
// score of its own) into a DoS-scored consensus.Reject, scoring per
// spec.md §7: invalid signatures/broken chains/bad PoW/checkpoint
// violations score 100; a wrong start height or cooldown violation
// scores 50/10.
func translateLedgerReject(err error) *Reject {
	lr, ok := err.(*btcheaders.Reject)
	if !ok {
		return reject(dosHigh, "internal", err.Error())
	}
	switch lr.Code {
	case btcheaders.RejectUnknownPublisher, btcheaders.RejectBadSignature, btcheaders.RejectBadChain, btcheaders.RejectBadPow:
		return reject(dosHigh, string(lr.Code), lr.Reason)
	case btcheaders.RejectBadExtend:
		return reject(dosMid, string(lr.Code), lr.Reason)
	case btcheaders.RejectCooldown:
		return reject(dosLow, string(lr.Code), lr.Reason)
	default:
		return reject(dosMid, string(lr.Code), lr.Reason)
	}
}
