package burnclaim

import (
	"errors"
	"fmt"

	"github.com/bathron-chain/bathron/btcheaders"
	"github.com/bathron-chain/bathron/btcspv"
	"github.com/bathron-chain/bathron/chaincfg"
	"github.com/bathron-chain/bathron/chaincfg/chainhash"
	"github.com/bathron-chain/bathron/log"
	"github.com/bathron-chain/bathron/store"
)

const (
	prefixSeen      = "S"
	prefixPending   = "p"
	prefixMature    = "m"
	prefixMinted    = "M"
	prefixClaimUndo = "c"
	prefixMintUndo  = "n"
)

// Engine is C3's burn-claim and pending-mint store.
type Engine struct {
	db *store.DB
}

// Open opens (or creates) the burn-claim database at datadir.
func Open(datadir string) (*Engine, error) {
	db, err := store.Open(datadir)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db}, nil
}

// Close releases the underlying database handle.
func (e *Engine) Close() error { return e.db.Close() }

func seenKey(btcTxid chainhash.Hash) []byte {
	return append([]byte(prefixSeen), btcTxid[:]...)
}

func pendingKey(btcTxid chainhash.Hash) []byte {
	return append([]byte(prefixPending), btcTxid[:]...)
}

func matureKey(height int32, btcTxid chainhash.Hash) []byte {
	k := make([]byte, 0, len(prefixMature)+4+chainhash.HashSize)
	k = append(k, prefixMature...)
	k = append(k, matureHeightBytes(height)...)
	k = append(k, btcTxid[:]...)
	return k
}

func mintedKey(btcTxid chainhash.Hash) []byte {
	return append([]byte(prefixMinted), btcTxid[:]...)
}

func claimUndoKey(claimTxid chainhash.Hash) []byte {
	return append([]byte(prefixClaimUndo), claimTxid[:]...)
}

func mintUndoKey(mintTxid chainhash.Hash) []byte {
	return append([]byte(prefixMintUndo), mintTxid[:]...)
}

// Errors returned by the claim/mint validation pipeline (spec.md §4.3),
// surfaced by the consensus dispatcher as the corresponding bad-burn-*
// reject codes.
var (
	ErrAlreadyClaimed     = errors.New("burnclaim: btc_txid already claimed")
	ErrBlockNotInLedger   = errors.New("burnclaim: claimed block height not present in C2")
	ErrBelowMinHeight     = errors.New("burnclaim: claimed block below min_supported_height")
	ErrMerkleRootMismatch = errors.New("burnclaim: claimed merkle root does not match C2 header")
	ErrBadMerkleProof     = errors.New("burnclaim: merkle proof does not verify")
	ErrInsufficientDepth  = errors.New("burnclaim: fewer than K confirmations")
	ErrNoPendingMint      = errors.New("burnclaim: no pending mint for btc_txid")
	ErrAlreadyMinted      = errors.New("burnclaim: btc_txid already minted")
	ErrNoMintUndo         = errors.New("burnclaim: no mint-undo record for txid")
	ErrNoClaimUndo        = errors.New("burnclaim: no claim-undo record for txid")
)

// HasSeen reports whether btcTxid has already been claimed (spec.md §4.3
// step 1 dedup).
func (e *Engine) HasSeen(btcTxid chainhash.Hash) (bool, error) {
	return e.db.Has(seenKey(btcTxid))
}

// ValidateClaim performs spec.md §4.3 steps 1-6 against a TX_BURN_CLAIM
// candidate payload: dedup, block-in-C2-and-above-min-height, merkle
// verification, K-confirmation depth, and OP_RETURN/burn-output
// extraction. It performs no writes; ConnectClaim persists the result once
// the owning BATHRON transaction is actually mined.
func (e *Engine) ValidateClaim(payload *ClaimPayload, ledger *btcheaders.Ledger, btc *chaincfg.BTCParams) (*ExtractedBurn, error) {
	burn, err := ExtractBurnOutput(payload.RawBtcTx, btc)
	if err != nil {
		return nil, err
	}

	seen, err := e.HasSeen(burn.BtcTxid)
	if err != nil {
		return nil, err
	}
	if seen {
		return nil, ErrAlreadyClaimed
	}

	if payload.BlockHeight < btc.MinSupportedHeight() {
		return nil, ErrBelowMinHeight
	}

	hdr, ok, err := ledger.GetHeaderByHeight(uint32(payload.BlockHeight))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBlockNotInLedger
	}
	if hdr.MerkleRoot != payload.MerkleRoot {
		return nil, ErrMerkleRootMismatch
	}

	valid, err := btcspv.VerifyMerkleProof(burn.BtcTxid, payload.MerkleRoot, payload.Siblings, payload.TxIndex)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrBadMerkleProof
	}

	if ledger.TipHeight()-payload.BlockHeight < int32(btc.BurnConfirmations) {
		return nil, ErrInsufficientDepth
	}

	return burn, nil
}

// ConnectClaim persists a validated claim: the dedup marker, the resulting
// PendingMint, its mature-height index entry, and a claim-undo record for
// reorg safety. The mint's mature height is the burn's BTC block height
// plus BurnConfirmations, the same depth ValidateClaim already requires,
// so the mint of a validated claim is mature when the claim connects; no
// further confirmations after the claim are awaited
// (spec.md §4.3 step 7, §4.5.5-style undo convention).
func (e *Engine) ConnectClaim(claimTxid chainhash.Hash, burn *ExtractedBurn, btcBlockHeight int32, btc *chaincfg.BTCParams) error {
	claim := &BurnClaim{
		BtcTxid:        burn.BtcTxid,
		BtcBlockHeight: btcBlockHeight,
		DestHash160:    burn.DestHash160,
		AmountSats:     burn.AmountSats,
		NetworkTag:     btc.BurnNetworkTag,
	}

	matureAt := btcBlockHeight + int32(btc.BurnConfirmations)
	pending := &PendingMint{
		BtcTxid:           burn.BtcTxid,
		MatureAtBtcHeight: matureAt,
		Dest:              burn.DestHash160,
		Amount:            burn.AmountSats,
		ClaimTxid:         claimTxid,
	}

	b := e.db.NewBatch()
	b.Put(seenKey(burn.BtcTxid), claim.Encode())
	b.Put(pendingKey(burn.BtcTxid), pending.Encode())
	b.Put(matureKey(matureAt, burn.BtcTxid), []byte{1})
	b.Put(claimUndoKey(claimTxid), burn.BtcTxid[:])

	if err := b.Commit(); err != nil {
		return err
	}
	log.BurnLog.Infof("connected burn claim btc_txid=%s amount=%d mature_at=%d", burn.BtcTxid, burn.AmountSats, matureAt)
	return nil
}

// DisconnectClaim reverses ConnectClaim on BATHRON reorg: removes the
// dedup marker, the pending mint, and its mature-height index entry
// (spec.md §4.3 "Reorg of BATHRON").
func (e *Engine) DisconnectClaim(claimTxid chainhash.Hash) error {
	raw, ok, err := e.db.Get(claimUndoKey(claimTxid))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoClaimUndo
	}
	var btcTxid chainhash.Hash
	copy(btcTxid[:], raw)

	pendingRaw, ok, err := e.db.Get(pendingKey(btcTxid))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: pending mint already resolved", ErrNoClaimUndo)
	}
	pending, err := DecodePendingMint(pendingRaw)
	if err != nil {
		return err
	}

	b := e.db.NewBatch()
	b.Delete(seenKey(btcTxid))
	b.Delete(pendingKey(btcTxid))
	b.Delete(matureKey(pending.MatureAtBtcHeight, btcTxid))
	b.Delete(claimUndoKey(claimTxid))
	return b.Commit()
}

// ScanMaturedMints returns every PendingMint entry whose maturity height is
// at most currentBtcTip, in ascending maturity order (spec.md §4.3
// "Delayed mint"): the block producer emits one TX_MINT_M0BTC per result.
func (e *Engine) ScanMaturedMints(currentBtcTip int32) ([]*PendingMint, error) {
	var out []*PendingMint
	err := e.db.Iterate([]byte(prefixMature), func(key, _ []byte) bool {
		height := int32(beUint32(key[len(prefixMature) : len(prefixMature)+4]))
		if height > currentBtcTip {
			return false
		}
		var btcTxid chainhash.Hash
		copy(btcTxid[:], key[len(prefixMature)+4:])

		pendingRaw, ok, gerr := e.db.Get(pendingKey(btcTxid))
		if gerr != nil || !ok {
			return true
		}
		p, derr := DecodePendingMint(pendingRaw)
		if derr != nil {
			return true
		}
		out = append(out, p)
		return true
	})
	return out, err
}

// ValidateMint checks a TX_MINT_M0BTC candidate payload against the
// pending-mint set: the referenced btc_txid must have a pending,
// not-yet-minted record (spec.md I4, "Idempotent" delayed-mint rule).
func (e *Engine) ValidateMint(payload *MintPayload) (*PendingMint, error) {
	minted, err := e.db.Has(mintedKey(payload.BtcTxid))
	if err != nil {
		return nil, err
	}
	if minted {
		return nil, ErrAlreadyMinted
	}

	raw, ok, err := e.db.Get(pendingKey(payload.BtcTxid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPendingMint
	}
	return DecodePendingMint(raw)
}

// ConnectMint persists a TX_MINT_M0BTC's effect on this engine's own
// state: clears the pending mint and its mature-height index entry, marks
// btc_txid minted (I4 one-shot), and stashes a mint-undo snapshot. The
// caller (settlement) is responsible for crediting M0_total/balance with
// the returned PendingMint's amount/dest (spec.md §4.3 "Delayed mint").
func (e *Engine) ConnectMint(mintTxid chainhash.Hash, payload *MintPayload) (*PendingMint, error) {
	raw, ok, err := e.db.Get(pendingKey(payload.BtcTxid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPendingMint
	}
	pending, err := DecodePendingMint(raw)
	if err != nil {
		return nil, err
	}

	b := e.db.NewBatch()
	b.Delete(pendingKey(payload.BtcTxid))
	b.Delete(matureKey(pending.MatureAtBtcHeight, payload.BtcTxid))
	b.Put(mintedKey(payload.BtcTxid), []byte{1})
	b.Put(mintUndoKey(mintTxid), raw)

	if err := b.Commit(); err != nil {
		return nil, err
	}
	log.BurnLog.Infof("connected mint btc_txid=%s dest=%x amount=%d", payload.BtcTxid, pending.Dest, pending.Amount)
	return pending, nil
}

// DisconnectMint reverses ConnectMint on BATHRON reorg: clears the minted
// marker and restores the pending mint plus its mature-height index entry
// (spec.md §4.3 "Reorg of BATHRON"). The caller (settlement) is
// responsible for decrementing M0_total/balance by the returned amount.
func (e *Engine) DisconnectMint(mintTxid chainhash.Hash) (*PendingMint, error) {
	raw, ok, err := e.db.Get(mintUndoKey(mintTxid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoMintUndo
	}
	pending, err := DecodePendingMint(raw)
	if err != nil {
		return nil, err
	}

	b := e.db.NewBatch()
	b.Put(pendingKey(pending.BtcTxid), raw)
	b.Put(matureKey(pending.MatureAtBtcHeight, pending.BtcTxid), []byte{1})
	b.Delete(mintedKey(pending.BtcTxid))
	b.Delete(mintUndoKey(mintTxid))

	if err := b.Commit(); err != nil {
		return nil, err
	}
	return pending, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
